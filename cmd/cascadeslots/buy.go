package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/display"
	"github.com/lox/cascadeslots/internal/engine"
	"github.com/lox/cascadeslots/internal/randutil"
)

// BuyCmd buys the free spins feature and plays every awarded spin.
type BuyCmd struct {
	Bet     string `default:"1.00" help:"Bet amount"`
	Seed    *int64 `help:"Seed for the feature's spin seeds"`
	Verbose bool   `help:"Render every free spin board"`
}

func (c *BuyCmd) Run(g *Globals) error {
	eng, cfg, logger, err := g.newEngine()
	if err != nil {
		return err
	}
	bet, err := decimal.NewFromString(c.Bet)
	if err != nil {
		return fmt.Errorf("bet %q: %w", c.Bet, err)
	}

	state, cost, tr, err := engine.BuyFeature(cfg.Game.FreeSpins, bet, engine.FreeSpinsState{})
	if err != nil {
		return err
	}
	logger.Info().Str("cost", cost.String()).Int("spins", tr.SpinsAwarded).Msg("Feature bought")

	seed := randutil.NewSeed()
	if c.Seed != nil {
		seed = *c.Seed
	}
	seeds := randutil.New(seed)
	styles := display.NewStyles()

	ctx := context.Background()
	spins := 0
	for state.Active {
		s := seeds.Int64()
		res, err := eng.Spin(ctx, engine.SpinRequest{BetAmount: bet, FreeSpins: state, RNGSeed: &s})
		if err != nil {
			return err
		}
		state = res.FreeSpins
		spins++
		if c.Verbose {
			fmt.Println(styles.Spin(res))
		}
	}

	fmt.Println(styles.Header.Render("Feature complete"))
	fmt.Printf("cost=%s spins=%d won=%s multiplier=%d return=%s\n",
		cost, spins, state.TotalWon, state.AccumulatedMultiplier, state.TotalWon.Sub(cost))
	return nil
}
