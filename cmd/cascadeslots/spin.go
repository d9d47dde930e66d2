package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/display"
	"github.com/lox/cascadeslots/internal/engine"
)

// SpinCmd resolves spins locally and prints them.
type SpinCmd struct {
	Bet   string `default:"1.00" help:"Bet amount"`
	Seed  *int64 `help:"RNG seed for the first spin; later spins use seed+1, seed+2, ..."`
	Count int    `default:"1" help:"Number of spins to play, threading free spins state"`
	Quick bool   `help:"Request quick-spin timing"`
	JSON  bool   `help:"Print results as JSON instead of rendered boards"`
}

func (c *SpinCmd) Run(g *Globals) error {
	eng, _, _, err := g.newEngine()
	if err != nil {
		return err
	}
	bet, err := decimal.NewFromString(c.Bet)
	if err != nil {
		return fmt.Errorf("bet %q: %w", c.Bet, err)
	}

	styles := display.NewStyles()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	ctx := context.Background()
	var state engine.FreeSpinsState
	total := decimal.Zero
	for i := 0; i < max(c.Count, 1); i++ {
		req := engine.SpinRequest{BetAmount: bet, QuickSpin: c.Quick, FreeSpins: state}
		if c.Seed != nil {
			s := *c.Seed + int64(i)
			req.RNGSeed = &s
		}
		res, err := eng.Spin(ctx, req)
		if err != nil {
			return err
		}
		state = res.FreeSpins
		total = total.Add(res.TotalWin)

		if c.JSON {
			if err := enc.Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Println(styles.Spin(res))
	}

	if !c.JSON && c.Count > 1 {
		fmt.Println(styles.Win.Render(fmt.Sprintf("Session win %s over %d spins", total, c.Count)))
	}
	return nil
}
