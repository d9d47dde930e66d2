// Package validator checks cascade results for structural validity and
// scores them for suspicion. The two answers are kept apart: a Report says
// whether something is well formed, a FraudScore says how much it smells.
package validator

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/engine"
)

// SuspicionThreshold is the combined score at which a FraudScore is marked
// suspicious.
const SuspicionThreshold = 0.5

// Report is the structural verdict.
type Report struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Valid = false
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

func (r *Report) merge(prefix string, other Report) {
	if other.Valid {
		return
	}
	r.Valid = false
	for _, issue := range other.Issues {
		r.Issues = append(r.Issues, prefix+issue)
	}
}

// FraudScore is advisory. Score lies in [0,1].
type FraudScore struct {
	Suspicious bool     `json:"suspicious"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
}

// signals accumulates independent suspicion signals and combines them as
// 1 - prod(1 - s).
type signals struct {
	clean   float64
	reasons []string
}

func newSignals() *signals { return &signals{clean: 1} }

func (s *signals) add(score float64, format string, args ...any) {
	if score <= 0 {
		return
	}
	if score > 1 {
		score = 1
	}
	s.clean *= 1 - score
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
}

func (s *signals) score() FraudScore {
	sc := 1 - s.clean
	return FraudScore{Suspicious: sc >= SuspicionThreshold, Score: sc, Reasons: s.reasons}
}

// Merge combines independent scores.
func Merge(scores ...FraudScore) FraudScore {
	s := newSignals()
	for _, f := range scores {
		if f.Score <= 0 {
			continue
		}
		s.clean *= 1 - f.Score
		s.reasons = append(s.reasons, f.Reasons...)
	}
	return s.score()
}

// Validator is immutable and safe for concurrent use.
type Validator struct {
	cfg    engine.GameConfig
	dist   *engine.Distribution
	pays   *engine.PayTable
	maxWin decimal.Decimal
	logger zerolog.Logger
}

// New builds a validator for cfg.
func New(cfg engine.GameConfig, logger zerolog.Logger) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	dist, err := engine.NewDistribution(cfg)
	if err != nil {
		return nil, err
	}
	pays, err := engine.NewPayTable(cfg)
	if err != nil {
		return nil, err
	}
	return &Validator{
		cfg:    cfg.Clone(),
		dist:   dist,
		pays:   pays,
		maxWin: decimal.NewFromInt(int64(cfg.MaxWinMultiplier)),
		logger: logger.With().Str("component", "validator").Logger(),
	}, nil
}

// GridExpectation is what a client grid is checked against. An empty
// ExpectedHash skips the hash comparison. Mode selects the symbol
// distribution the fraud scorer compares against.
type GridExpectation struct {
	ExpectedHash string
	Salt         string
	Mode         engine.Mode
}

// GridReport is the verdict on a client grid. Hash is the grid's hash under
// the expectation's salt, whether or not it matched.
type GridReport struct {
	Report
	Hash  string     `json:"hash"`
	Fraud FraudScore `json:"fraudScore"`
}

// ValidateGridState checks that grid is a settled board and, when an
// expected hash is given, that it hashes to it under salt. The board is
// scored by DetectGridFraud independently of the verdict.
func (v *Validator) ValidateGridState(grid engine.Grid, exp GridExpectation) GridReport {
	r := GridReport{Report: Report{Valid: true}, Hash: grid.Hash(exp.Salt)}
	for c := 0; c < engine.Cols; c++ {
		for row := 0; row < engine.Rows; row++ {
			if s := grid[c][row]; !s.Valid() {
				r.fail("cell (%d,%d) holds unknown symbol %d", c, row, uint8(s))
			}
		}
	}
	if n := grid.Count(engine.Empty); n > 0 {
		r.fail("%d empty cells in settled grid", n)
	}
	if exp.ExpectedHash != "" && r.Hash != exp.ExpectedHash {
		r.fail("grid hash mismatch")
	}
	r.Fraud = v.DetectGridFraud(grid, exp.Mode)
	return r
}

// StepContext carries the spin-level inputs a step depends on.
type StepContext struct {
	Bet  decimal.Decimal
	Mode engine.Mode
}

// StepReport is the verdict on one cascade step plus its advisory score.
// FraudDetected mirrors Fraud.Suspicious.
type StepReport struct {
	Report
	FraudDetected bool       `json:"fraudDetected"`
	Fraud         FraudScore `json:"fraudScore"`
}

// ValidateCascadeStep recomputes step from its own GridBefore and checks
// every recorded field. prev may be nil for the first step.
func (v *Validator) ValidateCascadeStep(step engine.CascadeStep, prev *engine.CascadeStep, sc StepContext) StepReport {
	rep := v.checkStep(step, prev, sc)
	fraud := v.stepFraud(step, rep, sc)
	return StepReport{Report: rep, FraudDetected: fraud.Suspicious, Fraud: fraud}
}

func (v *Validator) checkStep(step engine.CascadeStep, prev *engine.CascadeStep, sc StepContext) Report {
	r := Report{Valid: true}

	running := decimal.Zero
	if prev != nil {
		if step.Index != prev.Index+1 {
			r.fail("index %d does not follow %d", step.Index, prev.Index)
		}
		if step.GridBefore != prev.GridAfterDrop {
			r.fail("grid before does not match previous grid after")
		}
		running = prev.RunningTotalWin
	} else if step.Index != 0 {
		r.fail("first step has index %d", step.Index)
	}

	want := engine.FindClusters(step.GridBefore, v.cfg.MinClusterSize)
	if len(want) != len(step.Clusters) {
		r.fail("%d clusters recorded, board has %d", len(step.Clusters), len(want))
	}

	claimed := make(map[engine.Position]bool)
	baseWin := decimal.Zero
	for i, c := range step.Clusters {
		if !c.Symbol.IsPaying() {
			r.fail("cluster %d uses non-paying symbol %s", i, c.Symbol)
		}
		if c.Size != len(c.Positions) || c.Size < v.cfg.MinClusterSize {
			r.fail("cluster %d has size %d over %d positions", i, c.Size, len(c.Positions))
		}
		if !engine.IsConnected(c.Positions) {
			r.fail("cluster %d is not connected", i)
		}
		for _, p := range c.Positions {
			if !p.InBounds() {
				r.fail("cluster %d has out of bounds cell %s", i, p)
				continue
			}
			if claimed[p] {
				r.fail("cell %s claimed by two clusters", p)
			}
			claimed[p] = true
			if step.GridBefore.At(p) != c.Symbol {
				r.fail("cluster %d cell %s is not %s", i, p, c.Symbol)
			}
		}
		pay := v.pays.Payout(c, sc.Bet)
		if !pay.Equal(c.Payout) {
			r.fail("cluster %d pays %s, want %s", i, c.Payout, pay)
		}
		baseWin = baseWin.Add(pay)
	}
	if !baseWin.Equal(step.BaseWin) {
		r.fail("base win %s, want %s", step.BaseWin, baseWin)
	}

	removed := make([]engine.Position, 0, len(claimed))
	for p := range claimed {
		removed = append(removed, p)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Index() < removed[j].Index() })
	if !equalPositions(removed, step.RemovedPositions) {
		r.fail("removed positions do not match cluster cells")
	}

	afterRemoval := step.GridBefore
	for _, p := range removed {
		afterRemoval.Set(p, engine.Empty)
	}
	if afterRemoval != step.GridAfterRemoval {
		r.fail("grid after removal does not match")
	}

	dropped, _ := engine.ApplyGravity(afterRemoval)
	refilled := dropped
	for _, ns := range step.NewSymbols {
		if !ns.Position.InBounds() || refilled.At(ns.Position) != engine.Empty {
			r.fail("new symbol at %s does not fill an empty cell", ns.Position)
			continue
		}
		refilled.Set(ns.Position, ns.Symbol)
	}
	if len(step.NewSymbols) != dropped.Count(engine.Empty) {
		r.fail("%d new symbols for %d empty cells", len(step.NewSymbols), dropped.Count(engine.Empty))
	}
	if refilled != step.GridAfterDrop {
		r.fail("grid after drop does not match gravity and refill")
	}
	if !step.GridAfterDrop.Full() {
		r.fail("grid after drop has empty cells")
	}

	wantMult := 1
	if sc.Mode == engine.ModeBase && len(step.MultipliersApplied) > 0 {
		wantMult = engine.SumValues(step.MultipliersApplied)
	}
	if step.StepMultiplier != wantMult {
		r.fail("step multiplier %d, want %d", step.StepMultiplier, wantMult)
	}
	if !step.StepWin.Equal(step.BaseWin.Mul(decimal.NewFromInt(int64(step.StepMultiplier)))) {
		r.fail("step win %s is not base win times multiplier", step.StepWin)
	}
	if !step.RunningTotalWin.Equal(running.Add(step.StepWin)) {
		r.fail("running total %s, want %s", step.RunningTotalWin, running.Add(step.StepWin))
	}
	return r
}

// ValidateCascadeSequence checks a whole spin: every step, the chaining
// between steps, the totals and the checksum.
func (v *Validator) ValidateCascadeSequence(steps []engine.CascadeStep, result *engine.SpinResult) Report {
	r := Report{Valid: true}
	if result == nil {
		r.fail("missing spin result")
		return r
	}
	sc := StepContext{Bet: result.BetAmount, Mode: result.Mode}

	if len(steps) > v.cfg.MaxCascadeSteps {
		r.fail("%d steps exceeds ceiling %d", len(steps), v.cfg.MaxCascadeSteps)
	}
	if len(steps) > 0 && steps[0].GridBefore != result.InitialGrid {
		r.fail("first step does not start from the initial grid")
	}

	sum := decimal.Zero
	var prev *engine.CascadeStep
	for i := range steps {
		r.merge(fmt.Sprintf("step %d: ", i), v.checkStep(steps[i], prev, sc))
		sum = sum.Add(steps[i].StepWin)
		prev = &steps[i]
	}

	last := result.InitialGrid
	if prev != nil {
		last = prev.GridAfterDrop
	}
	if last != result.FinalGrid {
		r.fail("final grid does not match the last step")
	}
	ceiling := false
	for _, a := range result.Anomalies {
		if a == engine.AnomalyCascadeCeiling {
			ceiling = true
		}
	}
	if !ceiling && len(engine.FindClusters(result.FinalGrid, v.cfg.MinClusterSize)) > 0 {
		r.fail("final grid still contains a winning cluster")
	}

	if result.AccumulatedMultiplier < 1 {
		r.fail("accumulated multiplier %d below 1", result.AccumulatedMultiplier)
	} else {
		want := sum.Mul(decimal.NewFromInt(int64(result.AccumulatedMultiplier)))
		if result.Metadata.Capped {
			limit := result.BetAmount.Mul(v.maxWin)
			if !result.TotalWin.Equal(limit) || want.LessThan(limit) {
				r.fail("capped total %s inconsistent with limit %s", result.TotalWin, limit)
			}
		} else if !want.Equal(result.TotalWin) {
			r.fail("total win %s, steps sum to %s", result.TotalWin, want)
		}
	}

	if !engine.VerifyChecksum(result) {
		r.fail("checksum mismatch")
	}
	return r
}

func equalPositions(a, b []engine.Position) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
