package engine

import (
	"fmt"
	"sort"

	"github.com/lox/cascadeslots/internal/randutil"
)

// Mode is the game mode a spin is played in.
type Mode uint8

const (
	ModeBase Mode = iota
	ModeFreeSpins
)

func (m Mode) String() string {
	switch m {
	case ModeBase:
		return "base"
	case ModeFreeSpins:
		return "free_spins"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "base":
		*m = ModeBase
	case "free_spins":
		*m = ModeFreeSpins
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

type cdf struct {
	symbols    []Symbol
	cumulative []int
	total      int
}

func newCDF(weights []SymbolWeight) cdf {
	var t cdf
	for _, w := range weights {
		if w.Weight <= 0 {
			continue
		}
		t.total += w.Weight
		t.symbols = append(t.symbols, w.Symbol)
		t.cumulative = append(t.cumulative, t.total)
	}
	return t
}

// SymbolWeight pairs a symbol with its integer draw weight.
type SymbolWeight struct {
	Symbol Symbol
	Weight int
}

// Distribution maps a single RNG draw onto a symbol for each mode.
type Distribution struct {
	tables [2]cdf
}

// NewDistribution builds the per-mode tables from cfg. The scatter weight is
// appended as its own entry, never inferred from leftover mass.
func NewDistribution(cfg GameConfig) (*Distribution, error) {
	var base, free []SymbolWeight
	for _, s := range cfg.Symbols {
		base = append(base, SymbolWeight{Symbol: s.Symbol, Weight: s.BaseWeight})
		free = append(free, SymbolWeight{Symbol: s.Symbol, Weight: s.FreeWeight})
	}
	base = append(base, SymbolWeight{Symbol: Scatter, Weight: cfg.Scatter.BaseWeight})
	free = append(free, SymbolWeight{Symbol: Scatter, Weight: cfg.Scatter.FreeWeight})

	d := &Distribution{tables: [2]cdf{newCDF(base), newCDF(free)}}
	for m, t := range d.tables {
		if t.total <= 0 {
			return nil, fmt.Errorf("distribution for %s has no weight", Mode(m))
		}
	}
	return d, nil
}

// Draw consumes exactly one draw from stream.
func (d *Distribution) Draw(stream *randutil.Stream, mode Mode) (Symbol, error) {
	t := &d.tables[mode]
	n, err := stream.IntN(t.total)
	if err != nil {
		return Empty, err
	}
	i := sort.Search(len(t.cumulative), func(i int) bool { return t.cumulative[i] > n })
	return t.symbols[i], nil
}

// Probability returns the chance of drawing s in mode.
func (d *Distribution) Probability(s Symbol, mode Mode) float64 {
	t := &d.tables[mode]
	prev := 0
	for i, sym := range t.symbols {
		if sym == s {
			return float64(t.cumulative[i]-prev) / float64(t.total)
		}
		prev = t.cumulative[i]
	}
	return 0
}
