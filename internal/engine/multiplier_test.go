package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/randutil"
)

func TestRollMultiplierEventGate(t *testing.T) {
	cfg := DefaultGameConfig().Multiplier
	cfg.BaseChance = 0
	cfg.FreeChance = 1
	m := NewMultiplierEngine(cfg)

	stream := randutil.NewStream(11, 0)
	ev, err := m.RollMultiplierEvent(stream, MultiplierContext{Mode: ModeBase, StepIndex: 0})
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, 1, stream.Draws())

	ev, err = m.RollMultiplierEvent(stream, MultiplierContext{Mode: ModeFreeSpins, StepIndex: 3})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 4, stream.Draws())
	assert.Equal(t, 3, ev.Step)
	assert.Equal(t, 1.0, ev.Chance)
	assert.Less(t, ev.Roll, ev.Chance)
	assert.Equal(t, cfg.Values[ev.TableIndex], ev.Value)
	assert.True(t, ev.Position.InBounds())
	assert.NotEmpty(t, ev.Tag)
}

func TestRollMultiplierEventDistribution(t *testing.T) {
	cfg := MultiplierConfig{BaseChance: 1, FreeChance: 1, Values: []int{2, 10}, Weights: []int{75, 25}}
	m := NewMultiplierEngine(cfg)
	stream := randutil.NewStream(3, 1_000_000)

	counts := map[int]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		ev, err := m.RollMultiplierEvent(stream, MultiplierContext{})
		require.NoError(t, err)
		counts[ev.Value]++
	}
	assert.InDelta(t, 0.75, float64(counts[2])/n, 0.02)
	assert.InDelta(t, 0.25, float64(counts[10])/n, 0.02)
}

func TestMultiplierTags(t *testing.T) {
	m := NewMultiplierEngine(DefaultGameConfig().Multiplier)
	assert.Equal(t, "green_orb", m.TagFor(2))
	assert.Equal(t, "green_orb", m.TagFor(8))
	assert.Equal(t, "blue_orb", m.TagFor(10))
	assert.Equal(t, "purple_orb", m.TagFor(25))
	assert.Equal(t, "red_orb", m.TagFor(50))
}

func TestDistributionScatterWeightIsExplicit(t *testing.T) {
	cfg := DefaultGameConfig()
	d, err := NewDistribution(cfg)
	require.NoError(t, err)

	total := cfg.Scatter.BaseWeight
	for _, s := range cfg.Symbols {
		total += s.BaseWeight
	}
	assert.InDelta(t, float64(cfg.Scatter.BaseWeight)/float64(total), d.Probability(Scatter, ModeBase), 1e-12)

	cfg.Scatter.BaseWeight = 0
	d, err = NewDistribution(cfg)
	require.NoError(t, err)
	assert.Zero(t, d.Probability(Scatter, ModeBase))
	assert.NotZero(t, d.Probability(Scatter, ModeFreeSpins))
}

func TestDistributionFrequencies(t *testing.T) {
	cfg := DefaultGameConfig()
	d, err := NewDistribution(cfg)
	require.NoError(t, err)

	stream := randutil.NewStream(21, 1_000_000)
	counts := map[Symbol]int{}
	const n = 100000
	for i := 0; i < n; i++ {
		s, err := d.Draw(stream, ModeBase)
		require.NoError(t, err)
		counts[s]++
	}
	for _, sym := range append(PayingSymbols(), Scatter) {
		assert.InDelta(t, d.Probability(sym, ModeBase), float64(counts[sym])/n, 0.01, "symbol %s", sym)
	}
}

func TestModeText(t *testing.T) {
	b, err := ModeFreeSpins.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "free_spins", string(b))

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("free_spins")))
	assert.Equal(t, ModeFreeSpins, m)
	assert.Error(t, m.UnmarshalText([]byte("bonus")))
}
