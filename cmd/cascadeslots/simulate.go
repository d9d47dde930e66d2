package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/cmd/cascadeslots/shared"
	"github.com/lox/cascadeslots/internal/rtp"
)

// SimulateCmd measures RTP over many seeded rounds.
type SimulateCmd struct {
	Rounds    int     `default:"100000" help:"Rounds to play (a round is a base spin plus any free spins it awards)"`
	Bet       string  `default:"1.00" help:"Bet amount"`
	Seed      int64   `default:"1" help:"Seed of round 0; round i uses seed+i"`
	Workers   int     `help:"Worker goroutines (0 = number of CPUs, at most 8)"`
	Tolerance float64 `default:"0.02" help:"Fail when the measured RTP is further than this from the target"`
	JSON      bool    `help:"Print the report as JSON"`
	Quiet     bool    `help:"Hide the progress bar"`
}

func (c *SimulateCmd) Run(g *Globals) error {
	eng, _, logger, err := g.newEngine()
	if err != nil {
		return err
	}
	bet, err := decimal.NewFromString(c.Bet)
	if err != nil {
		return fmt.Errorf("bet %q: %w", c.Bet, err)
	}

	ctx, cancel := shared.SetupSignalHandler(logger)
	defer cancel()

	cfg := rtp.Config{Rounds: c.Rounds, Bet: bet, Seed: c.Seed, Workers: c.Workers}
	var progress *progressMonitor
	if !c.Quiet && !c.JSON {
		progress = newProgressMonitor(os.Stderr, c.Rounds)
		cfg.Progress = progress.Add
	}

	report, err := rtp.Run(ctx, eng, cfg, logger)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if c.Tolerance > 0 && !report.WithinTolerance(c.Tolerance) {
		return fmt.Errorf("rtp %.4f outside %.4f±%.4f", report.RTP, report.Target, c.Tolerance)
	}
	return nil
}

func printReport(r *rtp.Report) {
	fmt.Printf("Config:            %s\n", r.Config)
	fmt.Printf("Rounds:            %d (%d spins) in %s\n", r.Rounds, r.Spins, r.Duration.Round(time.Millisecond))
	fmt.Printf("RTP:               %.4f (target %.4f)\n", r.RTP, r.Target)
	fmt.Printf("95%% CI:            [%.4f, %.4f]\n", r.CI95Low, r.CI95High)
	fmt.Printf("Std dev:           %.4f\n", r.StdDev)
	fmt.Printf("Hit rate:          %.2f%%\n", r.HitRate*100)
	fmt.Printf("Feature frequency: 1 in %s\n", oneIn(r.FeatureFrequency))
	fmt.Printf("Retriggers:        %d\n", r.Retriggers)
	fmt.Printf("Avg cascade steps: %.3f\n", r.AvgCascadeSteps)
	fmt.Printf("P99 return:        %.2fx\n", r.P99Return)
	fmt.Printf("Max return:        %.2fx\n", r.MaxReturn)
	fmt.Printf("Max multiplier:    %d\n", r.MaxMultiplier)
	if r.CeilingHits > 0 || r.CappedRounds > 0 {
		fmt.Printf("Ceiling hits:      %d\n", r.CeilingHits)
		fmt.Printf("Capped rounds:     %d\n", r.CappedRounds)
	}
}

func oneIn(freq float64) string {
	if freq <= 0 {
		return "never"
	}
	return fmt.Sprintf("%.0f", 1/freq)
}
