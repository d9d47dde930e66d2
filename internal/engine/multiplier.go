package engine

import (
	"sort"

	"github.com/lox/cascadeslots/internal/randutil"
)

// MultiplierEvent is one resolved multiplier orb.
type MultiplierEvent struct {
	Step       int      `json:"step"`
	Roll       float64  `json:"roll"`
	Chance     float64  `json:"chance"`
	TableIndex int      `json:"tableIndex"`
	Value      int      `json:"value"`
	Tag        string   `json:"tag"`
	Position   Position `json:"position"`
}

// MultiplierContext describes where a roll happens.
type MultiplierContext struct {
	Mode      Mode
	StepIndex int
}

// MultiplierEngine resolves multiplier events from the configured table.
type MultiplierEngine struct {
	baseChance float64
	freeChance float64
	values     []int
	cumulative []int
	total      int
	tiers      []MultiplierTier
}

// NewMultiplierEngine builds the weighted value table from cfg.
func NewMultiplierEngine(cfg MultiplierConfig) *MultiplierEngine {
	m := &MultiplierEngine{
		baseChance: cfg.BaseChance,
		freeChance: cfg.FreeChance,
		values:     append([]int(nil), cfg.Values...),
		tiers:      append([]MultiplierTier(nil), cfg.Tiers...),
	}
	sort.Slice(m.tiers, func(i, j int) bool { return m.tiers[i].MinValue < m.tiers[j].MinValue })
	for _, w := range cfg.Weights {
		m.total += w
		m.cumulative = append(m.cumulative, m.total)
	}
	return m
}

// Chance returns the gate probability for mode.
func (m *MultiplierEngine) Chance(mode Mode) float64 {
	if mode == ModeFreeSpins {
		return m.freeChance
	}
	return m.baseChance
}

// RollMultiplierEvent performs the gate roll and, when it passes, draws the
// table value and an informational board position. It returns a nil event
// when the gate does not pass. A failed gate costs one draw, a hit three.
func (m *MultiplierEngine) RollMultiplierEvent(stream *randutil.Stream, mc MultiplierContext) (*MultiplierEvent, error) {
	chance := m.Chance(mc.Mode)
	roll, err := stream.Float64()
	if err != nil {
		return nil, err
	}
	if roll >= chance || m.total == 0 {
		return nil, nil
	}

	n, err := stream.IntN(m.total)
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(m.cumulative), func(i int) bool { return m.cumulative[i] > n })

	cell, err := stream.IntN(Cells)
	if err != nil {
		return nil, err
	}

	value := m.values[idx]
	return &MultiplierEvent{
		Step:       mc.StepIndex,
		Roll:       roll,
		Chance:     chance,
		TableIndex: idx,
		Value:      value,
		Tag:        m.TagFor(value),
		Position:   PositionAt(cell),
	}, nil
}

// TagFor returns the visual tier for value. Tags never influence payouts.
func (m *MultiplierEngine) TagFor(value int) string {
	tag := ""
	for _, t := range m.tiers {
		if value >= t.MinValue {
			tag = t.Tag
		}
	}
	return tag
}

// SumValues adds up the values of events.
func SumValues(events []MultiplierEvent) int {
	sum := 0
	for _, e := range events {
		sum += e.Value
	}
	return sum
}
