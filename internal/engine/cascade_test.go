package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/randutil"
)

func TestApplyGravity(t *testing.T) {
	g := fillerGrid()
	g[0] = [Rows]Symbol{Blue, Empty, Green, Empty, Red}

	out, drops := ApplyGravity(g)
	assert.Equal(t, [Rows]Symbol{Empty, Empty, Blue, Green, Red}, out[0])
	assert.Equal(t, []DropAnimation{
		{Symbol: Green, From: Position{Col: 0, Row: 2}, To: Position{Col: 0, Row: 3}},
		{Symbol: Blue, From: Position{Col: 0, Row: 0}, To: Position{Col: 0, Row: 2}},
	}, drops)
	assert.True(t, out.SatisfiesGravity())
	for c := 1; c < Cols; c++ {
		assert.Equal(t, g[c], out[c])
	}
}

func TestRemoveClusters(t *testing.T) {
	g := paint(fillerGrid(), Blue, block(0, 1, 0, 3)...)
	clusters := FindClusters(g, 8)
	require.Len(t, clusters, 1)

	out, removed := RemoveClusters(g, clusters)
	assert.Equal(t, block(0, 1, 0, 3), removed)
	assert.Equal(t, 8, out.Count(Empty))
	assert.Zero(t, out.Count(Blue))
}

func TestRefillTopRowsFirst(t *testing.T) {
	dist, err := NewDistribution(DefaultGameConfig())
	require.NoError(t, err)

	g := fillerGrid()
	g.Set(Position{Col: 0, Row: 0}, Empty)
	g.Set(Position{Col: 0, Row: 1}, Empty)
	g.Set(Position{Col: 4, Row: 0}, Empty)

	stream := randutil.NewStream(5, 0)
	out, added, err := Refill(g, stream, dist, ModeBase)
	require.NoError(t, err)
	assert.True(t, out.Full())
	assert.Equal(t, 3, stream.Draws())
	require.Len(t, added, 3)
	assert.Equal(t, Position{Col: 0, Row: 0}, added[0].Position)
	assert.Equal(t, Position{Col: 0, Row: 1}, added[1].Position)
	assert.Equal(t, Position{Col: 4, Row: 0}, added[2].Position)
}

func TestCascadeCeiling(t *testing.T) {
	e := newTestEngine(t, blueOnlyConfig())

	res, err := e.Spin(context.Background(), SpinRequest{BetAmount: bet("1"), RNGSeed: seed(3)})
	require.NoError(t, err)

	assert.Len(t, res.CascadeSteps, 50)
	assert.Equal(t, []string{AnomalyCascadeCeiling}, res.Anomalies)
	assert.True(t, res.TotalWin.Equal(bet("100")), "total win %s", res.TotalWin)
	assert.True(t, VerifyChecksum(res))
}

func TestCascadeStepInvariants(t *testing.T) {
	e := newTestEngine(t, DefaultGameConfig())
	ctx := context.Background()

	for s := int64(0); s < 300; s++ {
		res, err := e.Spin(ctx, SpinRequest{BetAmount: bet("1"), RNGSeed: seed(s)})
		require.NoError(t, err)

		prev := res.InitialGrid
		for i, step := range res.CascadeSteps {
			assert.Equal(t, i, step.Index)
			assert.Equal(t, prev, step.GridBefore, "seed %d step %d", s, i)
			require.NotEmpty(t, step.Clusters)

			seen := make(map[Position]bool)
			for _, c := range step.Clusters {
				assert.GreaterOrEqual(t, c.Size, 8)
				assert.True(t, IsConnected(c.Positions))
				for _, p := range c.Positions {
					assert.False(t, seen[p])
					seen[p] = true
				}
			}
			assert.Len(t, step.RemovedPositions, len(seen))

			dropped, _ := ApplyGravity(step.GridAfterRemoval)
			assert.True(t, dropped.SatisfiesGravity())
			assert.True(t, step.GridAfterDrop.Full())
			assert.Equal(t, step.GridAfterRemoval.Count(Empty), len(step.NewSymbols))
			prev = step.GridAfterDrop
		}
		assert.Equal(t, prev, res.FinalGrid)
		assert.Empty(t, FindClusters(res.FinalGrid, 8), "seed %d final grid still pays", s)
	}
}

func TestCascadeHonoursContext(t *testing.T) {
	e := newTestEngine(t, blueOnlyConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Spin(ctx, SpinRequest{BetAmount: bet("1"), RNGSeed: seed(1)})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}
