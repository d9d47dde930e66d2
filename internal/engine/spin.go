package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/checksum"
	"github.com/lox/cascadeslots/internal/gameid"
	"github.com/lox/cascadeslots/internal/randutil"
)

// Version is stamped into every result's metadata.
const Version = "1.0.0"

// AnomalyCascadeCeiling marks a spin whose cascade was cut off by the step
// ceiling.
const AnomalyCascadeCeiling = "cascade_ceiling"

// SpinRequest is everything the engine needs from the surrounding game
// session. FreeSpins is the caller-owned state from the previous spin.
type SpinRequest struct {
	PlayerID  string          `json:"playerId"`
	SessionID string          `json:"sessionId"`
	BetAmount decimal.Decimal `json:"betAmount"`
	QuickSpin bool            `json:"quickSpin"`
	FreeSpins FreeSpinsState  `json:"freeSpins"`
	RNGSeed   *int64          `json:"rngSeed,omitempty"`
}

// SpinTiming is the animation budget for the whole spin.
type SpinTiming struct {
	QuickSpin         bool  `json:"quickSpin"`
	IntroMs           int64 `json:"introMs"`
	StepDurationMs    int64 `json:"stepDurationMs"`
	MinStepDurationMs int64 `json:"minStepDurationMs"`
	TotalMs           int64 `json:"totalMs"`
}

// SpinMetadata carries audit context that does not affect the outcome.
type SpinMetadata struct {
	PlayerID      string `json:"playerId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	ConfigName    string `json:"configName"`
	QuickSpin     bool   `json:"quickSpin"`
	Capped        bool   `json:"capped"`
	EngineVersion string `json:"engineVersion"`
}

// SpinResult is the authoritative outcome of one spin.
type SpinResult struct {
	SpinID                string            `json:"spinId"`
	Seed                  int64             `json:"rngSeed"`
	BetAmount             decimal.Decimal   `json:"betAmount"`
	Mode                  Mode              `json:"mode"`
	InitialGrid           Grid              `json:"initialGrid"`
	CascadeSteps          []CascadeStep     `json:"cascadeSteps"`
	FinalGrid             Grid              `json:"finalGrid"`
	TotalWin              decimal.Decimal   `json:"totalWin"`
	TotalMultiplier       int               `json:"totalMultiplier"`
	AccumulatedMultiplier int               `json:"accumulatedMultiplier"`
	FreeSpinsTriggered    bool              `json:"freeSpinsTriggered"`
	FreeSpinsAwarded      int               `json:"freeSpinsAwarded"`
	FreeSpinsActive       bool              `json:"freeSpinsActive"`
	FreeSpinsRemaining    int               `json:"freeSpinsRemaining"`
	ScatterCount          int               `json:"scatterCount"`
	PriorFreeSpins        FreeSpinsState    `json:"priorFreeSpins"`
	FreeSpins             FreeSpinsState    `json:"freeSpinsState"`
	Multipliers           []MultiplierEvent `json:"multiplierEvents"`
	Checksum              string            `json:"checksum"`
	RNGDrawCount          int               `json:"rngDrawCount"`
	Anomalies             []string          `json:"anomalies,omitempty"`
	Timing                SpinTiming        `json:"timing"`
	Metadata              SpinMetadata      `json:"metadata"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSpinIDs replaces the spin id generator.
func WithSpinIDs(g *gameid.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// Engine resolves spins for one GameConfig. It holds no mutable state and is
// safe for concurrent use; each Spin call owns its own RNG stream.
type Engine struct {
	cfg    GameConfig
	dist   *Distribution
	pays   *PayTable
	mults  *MultiplierEngine
	ids    *gameid.Generator
	logger zerolog.Logger
}

// New validates cfg and builds an engine from it.
func New(cfg GameConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	cfg = cfg.Clone()
	dist, err := NewDistribution(cfg)
	if err != nil {
		return nil, err
	}
	pays, err := NewPayTable(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		dist:   dist,
		pays:   pays,
		mults:  NewMultiplierEngine(cfg.Multiplier),
		ids:    gameid.NewGenerator(gameid.Spin, nil),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "engine").Str("config", cfg.Name).Logger()
	return e, nil
}

// Config returns a copy of the engine's game config.
func (e *Engine) Config() GameConfig { return e.cfg.Clone() }

// Distribution exposes the symbol tables for validators.
func (e *Engine) Distribution() *Distribution { return e.dist }

// PayTable exposes the pay lookup for validators.
func (e *Engine) PayTable() *PayTable { return e.pays }

func (e *Engine) validateRequest(req SpinRequest) error {
	const op = "spin"
	if req.BetAmount.LessThan(e.cfg.MinBet) || req.BetAmount.GreaterThan(e.cfg.MaxBet) {
		return Errorf(CodeInvalidRequest, op, "bet %s outside %s..%s", req.BetAmount, e.cfg.MinBet, e.cfg.MaxBet)
	}
	fs := req.FreeSpins
	if fs.Active {
		if fs.Remaining <= 0 {
			return Errorf(CodeInvalidRequest, op, "free spins active with %d remaining", fs.Remaining)
		}
		if fs.AccumulatedMultiplier < 1 {
			return Errorf(CodeInvalidRequest, op, "accumulated multiplier %d below 1", fs.AccumulatedMultiplier)
		}
	}
	if req.RNGSeed != nil && *req.RNGSeed < 0 {
		return Errorf(CodeInvalidRequest, op, "rng seed %d must not be negative", *req.RNGSeed)
	}
	return nil
}

// Spin resolves one spin. Invalid requests return CodeInvalidRequest, RNG
// exhaustion returns CodeEngineFault, and neither yields a partial result.
func (e *Engine) Spin(ctx context.Context, req SpinRequest) (*SpinResult, error) {
	return e.spin(ctx, req, nil)
}

// SpinFromGrid resolves a spin whose initial board is supplied by the caller
// instead of drawn. Refills and multiplier rolls still come from the request
// seed. Used for scripted scenarios and audits.
func (e *Engine) SpinFromGrid(ctx context.Context, req SpinRequest, initial Grid) (*SpinResult, error) {
	if !initial.Full() {
		return nil, Errorf(CodeInvalidRequest, "spin", "initial grid has empty cells")
	}
	return e.spin(ctx, req, &initial)
}

func (e *Engine) spin(ctx context.Context, req SpinRequest, initial *Grid) (*SpinResult, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}

	seed := randutil.NewSeed()
	if req.RNGSeed != nil {
		seed = *req.RNGSeed
	}
	stream := randutil.NewStream(seed, e.cfg.MaxRNGDraws)

	mode := ModeBase
	state := req.FreeSpins
	if state.Active {
		mode = ModeFreeSpins
		state.Remaining--
	}

	clock := newStepClock(e.cfg.Timing, req.QuickSpin)
	res, err := e.resolve(ctx, stream, req, mode, state, clock, initial)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, randutil.ErrExhausted) {
			e.logger.Error().Err(err).Int64("seed", seed).Str("mode", mode.String()).Msg("Spin aborted, rng stream exhausted")
			return nil, &Error{Code: CodeEngineFault, Op: "spin", StepIndex: -1, Err: fmt.Errorf("%w: %w", ErrEngineFault, err)}
		}
		return nil, err
	}
	res.SpinID = e.ids.Generate()
	res.Checksum = ComputeChecksum(res)

	if len(res.Anomalies) > 0 {
		e.logger.Warn().
			Str("spin_id", res.SpinID).
			Int64("seed", seed).
			Strs("anomalies", res.Anomalies).
			Int("steps", len(res.CascadeSteps)).
			Msg("Spin finished with anomalies")
	}
	e.logger.Debug().
		Str("spin_id", res.SpinID).
		Str("mode", mode.String()).
		Str("total_win", res.TotalWin.String()).
		Int("steps", len(res.CascadeSteps)).
		Int("draws", res.RNGDrawCount).
		Msg("Spin resolved")
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, stream *randutil.Stream, req SpinRequest, mode Mode, state FreeSpinsState, clock stepClock, scripted *Grid) (*SpinResult, error) {
	var initial Grid
	if scripted != nil {
		initial = *scripted
	} else {
		var err error
		if initial, err = GenerateGrid(stream, e.dist, mode); err != nil {
			return nil, err
		}
	}
	out, err := e.cascade(ctx, stream, initial, req.BetAmount, mode, clock)
	if err != nil {
		return nil, err
	}

	res := &SpinResult{
		Seed:           stream.Seed(),
		BetAmount:      req.BetAmount,
		Mode:           mode,
		InitialGrid:    initial,
		CascadeSteps:   out.steps,
		FinalGrid:      out.final,
		Multipliers:    out.events,
		PriorFreeSpins: req.FreeSpins,
		Metadata: SpinMetadata{
			PlayerID:      req.PlayerID,
			SessionID:     req.SessionID,
			ConfigName:    e.cfg.Name,
			QuickSpin:     req.QuickSpin,
			EngineVersion: Version,
		},
	}
	if res.CascadeSteps == nil {
		res.CascadeSteps = []CascadeStep{}
	}
	res.TotalMultiplier = SumValues(out.events)

	scatters := initial.Count(Scatter)
	if e.cfg.FreeSpins.ScatterCountMode == ScatterCountCascade {
		scatters = out.maxScatters
	}
	res.ScatterCount = scatters

	var tr TriggerResult
	if mode == ModeBase {
		tr = EvaluateTriggerCount(scatters, e.cfg.FreeSpins)
		if tr.Triggered {
			state = StartFreeSpins(tr)
		}
		res.AccumulatedMultiplier = 1
		res.TotalWin = out.win
	} else {
		state, tr = EvaluateRetriggerCount(scatters, state, e.cfg.FreeSpins)
		state.AccumulatedMultiplier += res.TotalMultiplier
		res.AccumulatedMultiplier = state.AccumulatedMultiplier
		res.TotalWin = out.win.Mul(decimal.NewFromInt(int64(state.AccumulatedMultiplier)))
	}

	if e.cfg.MaxWinMultiplier > 0 {
		limit := req.BetAmount.Mul(decimal.NewFromInt(int64(e.cfg.MaxWinMultiplier)))
		if res.TotalWin.GreaterThan(limit) {
			res.TotalWin = limit
			res.Metadata.Capped = true
		}
	}

	if mode == ModeFreeSpins {
		state.TotalWon = state.TotalWon.Add(res.TotalWin)
		if state.Remaining <= 0 {
			state.Active = false
			state.Remaining = 0
		}
	}

	res.FreeSpinsTriggered = tr.Triggered
	res.FreeSpinsAwarded = tr.SpinsAwarded
	res.FreeSpinsActive = state.Active
	res.FreeSpinsRemaining = state.Remaining
	res.FreeSpins = state

	if out.ceilingHit {
		res.Anomalies = append(res.Anomalies, AnomalyCascadeCeiling)
	}
	res.Timing = clock.spin(len(res.CascadeSteps))
	res.RNGDrawCount = stream.Draws()
	return res, nil
}

type stepClock struct {
	quick   bool
	intro   time.Duration
	perStep time.Duration
	minStep time.Duration
}

func newStepClock(cfg TimingConfig, quick bool) stepClock {
	c := stepClock{quick: quick, intro: cfg.SpinIntro, perStep: cfg.StepDuration, minStep: cfg.MinStepDuration}
	if quick {
		c.intro = scale(c.intro, cfg.QuickSpinFactor)
		c.perStep = scale(c.perStep, cfg.QuickSpinFactor)
		c.minStep = scale(c.minStep, cfg.QuickSpinFactor)
	}
	return c
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func (c stepClock) step(i int) StepTiming {
	return StepTiming{
		StartMs:       (c.intro + time.Duration(i)*c.perStep).Milliseconds(),
		DurationMs:    c.perStep.Milliseconds(),
		MinDurationMs: c.minStep.Milliseconds(),
	}
}

func (c stepClock) spin(steps int) SpinTiming {
	return SpinTiming{
		QuickSpin:         c.quick,
		IntroMs:           c.intro.Milliseconds(),
		StepDurationMs:    c.perStep.Milliseconds(),
		MinStepDurationMs: c.minStep.Milliseconds(),
		TotalMs:           (c.intro + time.Duration(steps)*c.perStep).Milliseconds(),
	}
}

// CanonicalBytes renders the outcome-defining fields of r in a stable text
// form. SpinID, Checksum, timing hints and metadata other than the cap flag
// are excluded.
func CanonicalBytes(r *SpinResult) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "seed=%d\nbet=%s\nmode=%s\n", r.Seed, r.BetAmount.String(), r.Mode)
	fmt.Fprintf(&b, "prior=%s\n", canonicalState(r.PriorFreeSpins))
	fmt.Fprintf(&b, "initial=%s\n", r.InitialGrid.Canonical())
	for _, s := range r.CascadeSteps {
		fmt.Fprintf(&b, "step=%d before=%s clusters=[", s.Index, s.GridBefore.Canonical())
		for i, c := range s.Clusters {
			if i > 0 {
				b.WriteByte(';')
			}
			fmt.Fprintf(&b, "%s:%d:%s:", c.Symbol, c.Size, c.Payout.String())
			for j, p := range c.Positions {
				if j > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(p.String())
			}
		}
		fmt.Fprintf(&b, "] removed=%s after=%s base=%s mult=%d win=%s events=[",
			s.GridAfterRemoval.Canonical(), s.GridAfterDrop.Canonical(), s.BaseWin.String(), s.StepMultiplier, s.StepWin.String())
		for i, ev := range s.MultipliersApplied {
			if i > 0 {
				b.WriteByte(';')
			}
			fmt.Fprintf(&b, "%d@%s#%d", ev.Value, ev.Position, ev.TableIndex)
		}
		fmt.Fprintf(&b, "] running=%s\n", s.RunningTotalWin.String())
	}
	fmt.Fprintf(&b, "final=%s\ntotal=%s\ntotalMult=%d\naccum=%d\n", r.FinalGrid.Canonical(), r.TotalWin.String(), r.TotalMultiplier, r.AccumulatedMultiplier)
	fmt.Fprintf(&b, "scatters=%d\ntriggered=%t\nawarded=%d\nstate=%s\n", r.ScatterCount, r.FreeSpinsTriggered, r.FreeSpinsAwarded, canonicalState(r.FreeSpins))
	fmt.Fprintf(&b, "draws=%d\ncapped=%t\nanomalies=%s\n", r.RNGDrawCount, r.Metadata.Capped, strings.Join(r.Anomalies, ","))
	return []byte(b.String())
}

func canonicalState(s FreeSpinsState) string {
	return fmt.Sprintf("%t/%d/%d/%d/%s", s.Active, s.Remaining, s.AccumulatedMultiplier, s.TotalSpins, s.TotalWon.String())
}

// ComputeChecksum hashes the canonical form of r.
func ComputeChecksum(r *SpinResult) string {
	return checksum.Sum(CanonicalBytes(r))
}

// VerifyChecksum reports whether r.Checksum matches its content.
func VerifyChecksum(r *SpinResult) bool {
	return checksum.Equal(r.Checksum, ComputeChecksum(r))
}
