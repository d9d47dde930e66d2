package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lox/cascadeslots/internal/randutil"
)

// DropAnimation moves one surviving symbol down its column.
type DropAnimation struct {
	Symbol Symbol   `json:"symbol"`
	From   Position `json:"from"`
	To     Position `json:"to"`
}

// NewSymbol is a refill draw placed at Position.
type NewSymbol struct {
	Position Position `json:"position"`
	Symbol   Symbol   `json:"symbol"`
}

// StepTiming is the animation budget for one step, in milliseconds from the
// start of the spin.
type StepTiming struct {
	StartMs       int64 `json:"startMs"`
	DurationMs    int64 `json:"durationMs"`
	MinDurationMs int64 `json:"minDurationMs"`
}

// CascadeStep records everything a client needs to replay one step.
type CascadeStep struct {
	Index              int               `json:"index"`
	GridBefore         Grid              `json:"gridBefore"`
	Clusters           []Cluster         `json:"matches"`
	RemovedPositions   []Position        `json:"removedPositions"`
	GridAfterRemoval   Grid              `json:"gridAfterRemoval"`
	DropAnimations     []DropAnimation   `json:"drops"`
	NewSymbols         []NewSymbol       `json:"newSymbols"`
	GridAfterDrop      Grid              `json:"gridAfter"`
	BaseWin            decimal.Decimal   `json:"baseWin"`
	StepMultiplier     int               `json:"stepMultiplier"`
	StepWin            decimal.Decimal   `json:"win"`
	MultipliersApplied []MultiplierEvent `json:"multipliers"`
	RunningTotalWin    decimal.Decimal   `json:"runningTotalWin"`
	Timing             StepTiming        `json:"timing"`
}

// RemoveClusters empties every cluster cell and returns the removed
// positions in column-major order.
func RemoveClusters(g Grid, clusters []Cluster) (Grid, []Position) {
	var hit [Cells]bool
	for _, c := range clusters {
		for _, p := range c.Positions {
			hit[p.Index()] = true
		}
	}
	var removed []Position
	for i, h := range hit {
		if !h {
			continue
		}
		p := PositionAt(i)
		g.Set(p, Empty)
		removed = append(removed, p)
	}
	return g, removed
}

// ApplyGravity drops surviving symbols to the bottom of each column,
// preserving their relative order.
func ApplyGravity(g Grid) (Grid, []DropAnimation) {
	var drops []DropAnimation
	for c := 0; c < Cols; c++ {
		target := Rows - 1
		for r := Rows - 1; r >= 0; r-- {
			sym := g[c][r]
			if sym == Empty {
				continue
			}
			if r != target {
				g[c][target] = sym
				g[c][r] = Empty
				drops = append(drops, DropAnimation{
					Symbol: sym,
					From:   Position{Col: c, Row: r},
					To:     Position{Col: c, Row: target},
				})
			}
			target--
		}
	}
	return g, drops
}

// Refill fills empty cells column by column, top rows first, one draw each.
func Refill(g Grid, stream *randutil.Stream, dist *Distribution, mode Mode) (Grid, []NewSymbol, error) {
	var added []NewSymbol
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			if g[c][r] != Empty {
				continue
			}
			sym, err := dist.Draw(stream, mode)
			if err != nil {
				return Grid{}, nil, err
			}
			g[c][r] = sym
			added = append(added, NewSymbol{Position: Position{Col: c, Row: r}, Symbol: sym})
		}
	}
	return g, added, nil
}

type cascadeOutcome struct {
	steps       []CascadeStep
	final       Grid
	win         decimal.Decimal
	events      []MultiplierEvent
	ceilingHit  bool
	maxScatters int
}

// cascade runs match, remove, drop and refill until the board stops paying
// or the step ceiling is reached.
func (e *Engine) cascade(ctx context.Context, stream *randutil.Stream, grid Grid, bet decimal.Decimal, mode Mode, timing stepClock) (cascadeOutcome, error) {
	out := cascadeOutcome{final: grid, win: decimal.Zero, maxScatters: grid.Count(Scatter)}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return cascadeOutcome{}, err
		}
		clusters := FindClusters(out.final, e.cfg.MinClusterSize)
		if len(clusters) == 0 {
			return out, nil
		}
		if i >= e.cfg.MaxCascadeSteps {
			out.ceilingHit = true
			return out, nil
		}

		step := CascadeStep{Index: i, GridBefore: out.final, BaseWin: decimal.Zero}
		for k := range clusters {
			clusters[k].Payout = e.pays.Payout(clusters[k], bet)
			step.BaseWin = step.BaseWin.Add(clusters[k].Payout)
		}
		step.Clusters = clusters

		ev, err := e.mults.RollMultiplierEvent(stream, MultiplierContext{Mode: mode, StepIndex: i})
		if err != nil {
			return cascadeOutcome{}, err
		}
		if ev != nil {
			step.MultipliersApplied = []MultiplierEvent{*ev}
			out.events = append(out.events, *ev)
		}

		step.StepMultiplier = 1
		if mode == ModeBase && len(step.MultipliersApplied) > 0 {
			step.StepMultiplier = SumValues(step.MultipliersApplied)
		}
		step.StepWin = step.BaseWin.Mul(decimal.NewFromInt(int64(step.StepMultiplier)))

		step.GridAfterRemoval, step.RemovedPositions = RemoveClusters(out.final, clusters)
		dropped, drops := ApplyGravity(step.GridAfterRemoval)
		step.DropAnimations = drops
		step.GridAfterDrop, step.NewSymbols, err = Refill(dropped, stream, e.dist, mode)
		if err != nil {
			return cascadeOutcome{}, err
		}

		out.win = out.win.Add(step.StepWin)
		step.RunningTotalWin = out.win
		step.Timing = timing.step(i)
		out.final = step.GridAfterDrop
		out.steps = append(out.steps, step)
		if n := out.final.Count(Scatter); n > out.maxScatters {
			out.maxScatters = n
		}
	}
}
