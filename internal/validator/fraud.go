package validator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/engine"
)

const (
	// Upper normal quantile for p = 0.001, used in the chi-square critical
	// value approximation.
	chiSquareZ = 3.090
	// Floor for the number of cells one symbol must cover before the board
	// scores on that alone.
	dominantCells = 18
	// Extra scatters beyond the trigger threshold before a board scores.
	scatterSlack = 2
	// Win/bet ratios above this multiple of the target RTP score mildly.
	bigWinRatio = 1000
)

// DetectGridFraud scores a board the client claims to hold against the
// symbol distribution for mode.
func (v *Validator) DetectGridFraud(grid engine.Grid, mode engine.Mode) FraudScore {
	sig := newSignals()

	counts := make(map[engine.Symbol]int)
	for c := 0; c < engine.Cols; c++ {
		for r := 0; r < engine.Rows; r++ {
			s := grid[c][r]
			if !s.Valid() {
				sig.add(1, "unknown symbol at (%d,%d)", c, r)
				continue
			}
			counts[s]++
		}
	}
	if n := counts[engine.Empty]; n > 0 {
		sig.add(0.9, "%d empty cells in settled grid", n)
	}
	if !grid.SatisfiesGravity() {
		sig.add(0.9, "grid violates gravity")
	}
	if n := counts[engine.Scatter]; n >= v.cfg.FreeSpins.TriggerThreshold+scatterSlack {
		sig.add(0.6, "%d scatters on one board", n)
	}
	for sym, n := range counts {
		if sym.IsPaying() && n >= dominantThreshold(v.dist.Probability(sym, mode)) {
			sig.add(0.7, "%s covers %d cells", sym, n)
		}
	}

	if stat, df := v.chiSquare(counts, mode); df > 0 && stat > chiSquareCritical(df) {
		sig.add(0.4, "symbol frequencies deviate from weights (chi2 %.1f, df %d)", stat, df)
	}
	return sig.score()
}

// chiSquare compares observed counts with expected counts for every symbol
// that can be drawn in mode.
func (v *Validator) chiSquare(counts map[engine.Symbol]int, mode engine.Mode) (float64, int) {
	stat := 0.0
	categories := 0
	for _, sym := range append(engine.PayingSymbols(), engine.Scatter) {
		p := v.dist.Probability(sym, mode)
		if p == 0 {
			if counts[sym] > 0 {
				return math.Inf(1), 1
			}
			continue
		}
		expected := p * engine.Cells
		diff := float64(counts[sym]) - expected
		stat += diff * diff / expected
		categories++
	}
	return stat, categories - 1
}

// dominantThreshold is the cell count at which one symbol dominates a board:
// at least dominantCells, and at least four standard deviations above the
// binomial mean for a symbol drawn with probability p.
func dominantThreshold(p float64) int {
	mean := p * engine.Cells
	limit := math.Ceil(mean + 4*math.Sqrt(mean*(1-p)))
	if limit < dominantCells {
		return dominantCells
	}
	return int(limit)
}

// chiSquareCritical approximates the p = 0.001 critical value with the
// Wilson-Hilferty transform.
func chiSquareCritical(df int) float64 {
	k := float64(df)
	a := 2 / (9 * k)
	return k * math.Pow(1-a+chiSquareZ*math.Sqrt(a), 3)
}

// DetectCascadeStepFraud scores a step the client reported. Structural
// problems count heavily because an honest client only replays server data.
func (v *Validator) DetectCascadeStepFraud(step engine.CascadeStep, prev *engine.CascadeStep, sc StepContext) FraudScore {
	return v.stepFraud(step, v.checkStep(step, prev, sc), sc)
}

func (v *Validator) stepFraud(step engine.CascadeStep, rep Report, sc StepContext) FraudScore {
	sig := newSignals()
	for _, issue := range rep.Issues {
		sig.add(0.35, "step %d: %s", step.Index, issue)
	}
	if sc.Bet.IsPositive() && v.cfg.MaxWinMultiplier > 0 {
		if step.StepWin.GreaterThan(sc.Bet.Mul(v.maxWin)) {
			sig.add(0.8, "step %d win %s exceeds max win", step.Index, step.StepWin)
		}
	}
	for _, ev := range step.MultipliersApplied {
		if !v.knownMultiplier(ev.Value) {
			sig.add(0.9, "step %d multiplier %d not in table", step.Index, ev.Value)
		}
	}
	if len(step.MultipliersApplied) > 1 {
		sig.add(0.6, "step %d carries %d multiplier events", step.Index, len(step.MultipliersApplied))
	}
	return sig.score()
}

func (v *Validator) knownMultiplier(value int) bool {
	for _, x := range v.cfg.Multiplier.Values {
		if x == value {
			return true
		}
	}
	return false
}

// AnalyzeSpinResultFraud scores a complete result, typically one echoed back
// by a client.
func (v *Validator) AnalyzeSpinResultFraud(result *engine.SpinResult) FraudScore {
	sig := newSignals()
	if result == nil {
		sig.add(1, "missing spin result")
		return sig.score()
	}
	if !engine.VerifyChecksum(result) {
		sig.add(1, "checksum mismatch")
	}
	if result.BetAmount.IsPositive() {
		ratio := result.TotalWin.Div(result.BetAmount)
		if v.cfg.MaxWinMultiplier > 0 && ratio.GreaterThan(v.maxWin) {
			sig.add(0.9, "win ratio %s above max %d", ratio.StringFixed(2), v.cfg.MaxWinMultiplier)
		}
		big := decimal.NewFromFloat(bigWinRatio * v.cfg.TargetRTP)
		if ratio.GreaterThan(big) {
			sig.add(0.2, "win ratio %s far above target rtp", ratio.StringFixed(2))
		}
	} else {
		sig.add(0.5, "non-positive bet %s", result.BetAmount)
	}
	for _, a := range result.Anomalies {
		if a == engine.AnomalyCascadeCeiling {
			sig.add(0.3, "cascade ceiling reached")
		}
	}
	if len(result.CascadeSteps) > v.cfg.MaxCascadeSteps {
		sig.add(0.8, "%d steps above ceiling", len(result.CascadeSteps))
	}
	if n := len(result.Multipliers); n > len(result.CascadeSteps) {
		sig.add(0.8, "%d multiplier events over %d steps", n, len(result.CascadeSteps))
	}

	var prev *engine.CascadeStep
	sc := StepContext{Bet: result.BetAmount, Mode: result.Mode}
	steps := make([]FraudScore, 0, len(result.CascadeSteps))
	for i := range result.CascadeSteps {
		if f := v.DetectCascadeStepFraud(result.CascadeSteps[i], prev, sc); f.Score > 0 {
			steps = append(steps, f)
		}
		prev = &result.CascadeSteps[i]
	}
	out := Merge(append(steps, sig.score())...)
	if out.Suspicious {
		v.logger.Warn().
			Str("spin_id", result.SpinID).
			Float64("score", out.Score).
			Strs("reasons", out.Reasons).
			Msg("Spin result looks suspicious")
	}
	return out
}
