package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/engine"
)

// VerifyCmd checks a spin result's checksum and replays its seed. With no
// file it replays --seed twice and checks the engine is deterministic.
type VerifyCmd struct {
	File string `arg:"" optional:"" help:"JSON spin result to verify ('-' for stdin)"`
	Seed int64  `help:"Seed to replay when no file is given"`
	Bet  string `default:"1.00" help:"Bet to replay when no file is given"`
}

func (c *VerifyCmd) Run(g *Globals) error {
	eng, _, _, err := g.newEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var res *engine.SpinResult
	if c.File != "" {
		res, err = readResult(c.File)
	} else {
		var bet decimal.Decimal
		bet, err = decimal.NewFromString(c.Bet)
		if err != nil {
			return fmt.Errorf("bet %q: %w", c.Bet, err)
		}
		seed := c.Seed
		res, err = eng.Spin(ctx, engine.SpinRequest{BetAmount: bet, RNGSeed: &seed})
	}
	if err != nil {
		return err
	}

	if err := verifyResult(ctx, eng, res); err != nil {
		return err
	}
	fmt.Printf("OK spin=%s seed=%d checksum=%s\n", res.SpinID, res.Seed, res.Checksum)
	return nil
}

func readResult(path string) (*engine.SpinResult, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var res engine.SpinResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &res, nil
}

// verifyResult checks that res is intact and that replaying its seed, bet
// and prior free spins state reproduces the same checksum.
func verifyResult(ctx context.Context, eng *engine.Engine, res *engine.SpinResult) error {
	if !engine.VerifyChecksum(res) {
		return engine.Errorf(engine.CodeChecksumMismatch, "verify", "checksum %s does not match content", res.Checksum)
	}
	seed := res.Seed
	replay, err := eng.Spin(ctx, engine.SpinRequest{
		BetAmount: res.BetAmount,
		QuickSpin: res.Metadata.QuickSpin,
		FreeSpins: res.PriorFreeSpins,
		RNGSeed:   &seed,
	})
	if err != nil {
		return fmt.Errorf("replay seed %d: %w", seed, err)
	}
	if replay.Checksum != res.Checksum {
		return errors.Join(
			engine.Errorf(engine.CodeChecksumMismatch, "verify", "replay checksum %s, result checksum %s", replay.Checksum, res.Checksum),
			fmt.Errorf("replay won %s, result claims %s", replay.TotalWin, res.TotalWin),
		)
	}
	return nil
}
