package engine

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fillerGrid returns a full board without any adjacent equal symbols and
// without Blue, so tests can paint Blue or Scatter regions onto it.
func fillerGrid() Grid {
	fill := []Symbol{Green, Purple, Red, Cup, Ring, Hourglass, Crown}
	var g Grid
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			g[c][r] = fill[(c+2*r)%len(fill)]
		}
	}
	return g
}

func paint(g Grid, sym Symbol, cells ...Position) Grid {
	for _, p := range cells {
		g.Set(p, sym)
	}
	return g
}

func block(col0, col1, row0, row1 int) []Position {
	var out []Position
	for c := col0; c <= col1; c++ {
		for r := row0; r <= row1; r++ {
			out = append(out, Position{Col: c, Row: r})
		}
	}
	return out
}

// mustGrid parses rows top to bottom, codes separated by spaces.
func mustGrid(t *testing.T, rows ...string) Grid {
	t.Helper()
	require.Len(t, rows, Rows)
	var g Grid
	for r, line := range rows {
		codes := strings.Fields(line)
		require.Len(t, codes, Cols, "row %d", r)
		for c, code := range codes {
			sym, err := ParseSymbol(code)
			require.NoError(t, err)
			g[c][r] = sym
		}
	}
	return g
}

func newTestEngine(t *testing.T, cfg GameConfig) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

// blueOnlyConfig draws nothing but Blue, so every board is one 30-cell
// cluster paying 2x and every refill rematches.
func blueOnlyConfig() GameConfig {
	cfg := DefaultGameConfig()
	for i := range cfg.Symbols {
		if cfg.Symbols[i].Symbol == Blue {
			cfg.Symbols[i].Pays = []float64{0.25, 0.75, 2}
		} else {
			cfg.Symbols[i].BaseWeight = 0
			cfg.Symbols[i].FreeWeight = 0
		}
	}
	cfg.Scatter = ScatterConfig{}
	cfg.Multiplier.BaseChance = 0
	cfg.Multiplier.FreeChance = 0
	return cfg
}

func seed(v int64) *int64 { return &v }

func bet(s string) decimal.Decimal { return decimal.RequireFromString(s) }
