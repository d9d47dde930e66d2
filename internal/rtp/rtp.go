// Package rtp measures the return to player of a game configuration by
// playing seeded rounds in parallel.
package rtp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/randutil"
)

// maxFeatureSpins bounds one round's free spins so a pathological config
// cannot retrigger forever.
const maxFeatureSpins = 10_000

// Config controls a simulation.
type Config struct {
	Rounds  int
	Bet     decimal.Decimal
	Seed    int64
	Workers int
	// Progress, if set, is called from worker goroutines after each round.
	Progress func(done int)
}

// Report summarises a simulation.
type Report struct {
	Config           string        `json:"config"`
	Rounds           int           `json:"rounds"`
	Spins            int           `json:"spins"`
	Seed             int64         `json:"seed"`
	Target           float64       `json:"target"`
	RTP              float64       `json:"rtp"`
	StdDev           float64       `json:"stdDev"`
	CI95Low          float64       `json:"ci95Low"`
	CI95High         float64       `json:"ci95High"`
	HitRate          float64       `json:"hitRate"`
	FeatureFrequency float64       `json:"featureFrequency"`
	Retriggers       int           `json:"retriggers"`
	AvgCascadeSteps  float64       `json:"avgCascadeSteps"`
	P99Return        float64       `json:"p99Return"`
	MaxReturn        float64       `json:"maxReturn"`
	MaxMultiplier    int           `json:"maxMultiplier"`
	CeilingHits      int           `json:"ceilingHits"`
	CappedRounds     int           `json:"cappedRounds"`
	Duration         time.Duration `json:"duration"`
}

// WithinTolerance reports whether the measured RTP lies within tol
// (absolute, e.g. 0.02) of the target.
func (r *Report) WithinTolerance(tol float64) bool {
	return math.Abs(r.RTP-r.Target) <= tol
}

// Run plays cfg.Rounds seeded rounds on eng. Round i uses seed cfg.Seed+i,
// so a report is reproducible regardless of the worker count.
func Run(ctx context.Context, eng *engine.Engine, cfg Config, logger zerolog.Logger) (*Report, error) {
	if cfg.Rounds <= 0 {
		return nil, errors.New("rtp: rounds must be positive")
	}
	if cfg.Bet.IsZero() {
		cfg.Bet = decimal.NewFromInt(1)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8
		}
	}
	if workers > cfg.Rounds {
		workers = cfg.Rounds
	}

	start := time.Now()
	perWorker := cfg.Rounds / workers
	remainder := cfg.Rounds % workers
	stats := make([]*Statistics, workers)

	g, ctx := errgroup.WithContext(ctx)
	first := 0
	for w := 0; w < workers; w++ {
		n := perWorker
		if w < remainder {
			n++
		}
		from := first
		first += n
		stats[w] = &Statistics{Values: make([]float64, 0, n)}
		st := stats[w]

		g.Go(func() error {
			for i := from; i < from+n; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				r, err := playRound(ctx, eng, cfg.Bet, cfg.Seed+int64(i))
				if err != nil {
					return fmt.Errorf("round %d (seed %d): %w", i, cfg.Seed+int64(i), err)
				}
				st.Add(r)
				if cfg.Progress != nil {
					cfg.Progress(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := &Statistics{Values: make([]float64, 0, cfg.Rounds)}
	for _, st := range stats {
		total.Merge(st)
	}
	lo, hi := total.ConfidenceInterval95()
	gc := eng.Config()
	report := &Report{
		Config:           gc.Name,
		Rounds:           total.Rounds,
		Spins:            total.Spins,
		Seed:             cfg.Seed,
		Target:           gc.TargetRTP,
		RTP:              total.Mean(),
		StdDev:           total.StdDev(),
		CI95Low:          lo,
		CI95High:         hi,
		HitRate:          total.HitRate(),
		FeatureFrequency: total.FeatureFrequency(),
		Retriggers:       total.Retrig,
		AvgCascadeSteps:  total.AvgSteps(),
		P99Return:        total.Percentile(0.99),
		MaxReturn:        total.MaxRet,
		MaxMultiplier:    total.MaxMult,
		CeilingHits:      total.Ceiling,
		CappedRounds:     total.Capped,
		Duration:         time.Since(start),
	}
	logger.Info().
		Str("config", report.Config).
		Int("rounds", report.Rounds).
		Float64("rtp", report.RTP).
		Float64("target", report.Target).
		Dur("duration", report.Duration).
		Msg("RTP simulation complete")
	return report, nil
}

// playRound plays a base spin and any free spins it awards. Free spin seeds
// are drawn from a generator keyed by the round seed.
func playRound(ctx context.Context, eng *engine.Engine, bet decimal.Decimal, seed int64) (RoundResult, error) {
	s := seed
	res, err := eng.Spin(ctx, engine.SpinRequest{BetAmount: bet, RNGSeed: &s})
	if err != nil {
		return RoundResult{}, err
	}

	var out RoundResult
	won := decimal.Zero
	tally := func(r *engine.SpinResult) {
		won = won.Add(r.TotalWin)
		out.Spins++
		out.Steps += len(r.CascadeSteps)
		for _, a := range r.Anomalies {
			if a == engine.AnomalyCascadeCeiling {
				out.CeilingHits++
			}
		}
		if r.Metadata.Capped {
			out.Capped = true
		}
		for _, ev := range r.Multipliers {
			if ev.Value > out.MaxMultiplier {
				out.MaxMultiplier = ev.Value
			}
		}
	}
	tally(res)
	out.Triggered = res.FreeSpinsTriggered

	seeds := randutil.New(seed)
	state := res.FreeSpins
	for state.Active {
		if out.Spins > maxFeatureSpins {
			return RoundResult{}, fmt.Errorf("free spins did not finish after %d spins", maxFeatureSpins)
		}
		fs := seeds.Int64()
		r, err := eng.Spin(ctx, engine.SpinRequest{BetAmount: bet, FreeSpins: state, RNGSeed: &fs})
		if err != nil {
			return RoundResult{}, err
		}
		tally(r)
		if r.FreeSpinsTriggered {
			out.Retriggers++
		}
		state = r.FreeSpins
	}

	out.Return = won.Div(bet).InexactFloat64()
	return out, nil
}
