package display

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/engine"
)

func TestGridShowsEverySymbol(t *testing.T) {
	var g engine.Grid
	for c := 0; c < engine.Cols; c++ {
		for r := 0; r < engine.Rows; r++ {
			g[c][r] = engine.Blue
		}
	}
	g[2][3] = engine.Scatter

	out := NewStyles().Grid(g, []engine.Position{{Col: 0, Row: 0}})
	assert.Equal(t, engine.Cells-1, strings.Count(out, "BL"))
	assert.Equal(t, 1, strings.Count(out, "SC"))
}

func TestSpinIncludesStepsAndChecksum(t *testing.T) {
	eng, err := engine.New(engine.DefaultGameConfig())
	require.NoError(t, err)

	var res *engine.SpinResult
	for seed := int64(1); seed < 2000 && (res == nil || len(res.CascadeSteps) == 0); seed++ {
		s := seed
		res, err = eng.Spin(context.Background(), engine.SpinRequest{BetAmount: decimal.NewFromInt(1), RNGSeed: &s})
		require.NoError(t, err)
	}
	require.NotEmpty(t, res.CascadeSteps)

	out := NewStyles().Spin(res)
	assert.Contains(t, out, res.SpinID)
	assert.Contains(t, out, "Step 1")
	assert.Contains(t, out, res.Checksum)
	assert.Contains(t, out, "Total win")
}
