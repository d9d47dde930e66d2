package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ScatterCountMode selects which grids count toward free-spins triggers.
type ScatterCountMode string

const (
	// ScatterCountInitial counts scatters on the pre-cascade grid only.
	ScatterCountInitial ScatterCountMode = "initial"
	// ScatterCountCascade counts the most scatters seen on any grid of the
	// spin, including grids produced by refills.
	ScatterCountCascade ScatterCountMode = "cascade"
)

// SymbolConfig holds the draw weights and pays for one paying symbol.
type SymbolConfig struct {
	Symbol     Symbol
	BaseWeight int
	FreeWeight int
	// Pays are bet multipliers, one per size bucket.
	Pays []float64
}

// ScatterConfig holds the explicit scatter weights. They are not derived from
// the remaining probability mass.
type ScatterConfig struct {
	BaseWeight int
	FreeWeight int
}

// MultiplierTier maps a value range to a visual-only tag.
type MultiplierTier struct {
	MinValue int
	Tag      string
}

// MultiplierConfig configures the two multiplier gates.
type MultiplierConfig struct {
	BaseChance float64
	FreeChance float64
	Values     []int
	Weights    []int
	Tiers      []MultiplierTier
}

// FreeSpinsConfig configures triggering, retriggering and the buy feature.
type FreeSpinsConfig struct {
	TriggerThreshold   int
	SpinsAwarded       int
	RetriggerThreshold int
	RetriggerSpins     int
	BuyCostMultiplier  int
	ScatterCountMode   ScatterCountMode
}

// TimingConfig provides the animation budget the client is expected to honour.
type TimingConfig struct {
	StepDuration    time.Duration
	MinStepDuration time.Duration
	SpinIntro       time.Duration
	QuickSpinFactor float64
}

// GameConfig is the complete, immutable math model. Engines copy what they
// need at construction so a GameConfig can be shared freely between
// concurrent simulations.
type GameConfig struct {
	Name             string
	MinClusterSize   int
	MaxCascadeSteps  int
	MaxRNGDraws      int
	SizeBuckets      []int
	Symbols          []SymbolConfig
	Scatter          ScatterConfig
	Multiplier       MultiplierConfig
	FreeSpins        FreeSpinsConfig
	MinBet           decimal.Decimal
	MaxBet           decimal.Decimal
	MaxWinMultiplier int
	TargetRTP        float64
	Timing           TimingConfig
}

// DefaultGameConfig returns the production math model.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		Name:            "olympus-cascade",
		MinClusterSize:  8,
		MaxCascadeSteps: 50,
		MaxRNGDraws:     4096,
		SizeBuckets:     []int{8, 10, 12},
		Symbols: []SymbolConfig{
			{Symbol: Blue, BaseWeight: 400, FreeWeight: 400, Pays: []float64{1, 2.4, 4.8}},
			{Symbol: Green, BaseWeight: 220, FreeWeight: 220, Pays: []float64{1.4, 2.8, 6.8}},
			{Symbol: Purple, BaseWeight: 140, FreeWeight: 140, Pays: []float64{1.75, 3.4, 9.5}},
			{Symbol: Red, BaseWeight: 90, FreeWeight: 90, Pays: []float64{2.9, 3.9, 13.5}},
			{Symbol: Cup, BaseWeight: 60, FreeWeight: 60, Pays: []float64{3.4, 5.3, 17.5}},
			{Symbol: Ring, BaseWeight: 45, FreeWeight: 45, Pays: []float64{4.8, 7, 23}},
			{Symbol: Hourglass, BaseWeight: 30, FreeWeight: 30, Pays: []float64{6, 12, 29}},
			{Symbol: Crown, BaseWeight: 20, FreeWeight: 20, Pays: []float64{17, 35, 70}},
		},
		Scatter: ScatterConfig{BaseWeight: 24, FreeWeight: 18},
		Multiplier: MultiplierConfig{
			BaseChance: 0.08,
			FreeChance: 0.08,
			Values:     []int{2, 3, 4, 5, 6, 8, 10, 15, 20, 25, 50},
			Weights:    []int{61, 40, 28, 20, 16, 12, 10, 6, 4, 2, 1},
			Tiers: []MultiplierTier{
				{MinValue: 2, Tag: "green_orb"},
				{MinValue: 10, Tag: "blue_orb"},
				{MinValue: 25, Tag: "purple_orb"},
				{MinValue: 50, Tag: "red_orb"},
			},
		},
		FreeSpins: FreeSpinsConfig{
			TriggerThreshold:   4,
			SpinsAwarded:       15,
			RetriggerThreshold: 3,
			RetriggerSpins:     5,
			BuyCostMultiplier:  100,
			ScatterCountMode:   ScatterCountInitial,
		},
		MinBet:           decimal.RequireFromString("0.20"),
		MaxBet:           decimal.RequireFromString("100"),
		MaxWinMultiplier: 5000,
		TargetRTP:        0.965,
		Timing: TimingConfig{
			StepDuration:    900 * time.Millisecond,
			MinStepDuration: 250 * time.Millisecond,
			SpinIntro:       600 * time.Millisecond,
			QuickSpinFactor: 0.5,
		},
	}
}

// Clone returns a deep copy so callers can derive variants without aliasing.
func (c GameConfig) Clone() GameConfig {
	out := c
	out.SizeBuckets = slices.Clone(c.SizeBuckets)
	out.Symbols = make([]SymbolConfig, len(c.Symbols))
	for i, s := range c.Symbols {
		s.Pays = slices.Clone(s.Pays)
		out.Symbols[i] = s
	}
	out.Multiplier.Values = slices.Clone(c.Multiplier.Values)
	out.Multiplier.Weights = slices.Clone(c.Multiplier.Weights)
	out.Multiplier.Tiers = slices.Clone(c.Multiplier.Tiers)
	return out
}

// Validate checks the model for internal consistency.
func (c GameConfig) Validate() error {
	var errs []error
	if c.MinClusterSize < 2 || c.MinClusterSize > Cells {
		errs = append(errs, fmt.Errorf("min cluster size %d out of range", c.MinClusterSize))
	}
	if c.MaxCascadeSteps < 1 {
		errs = append(errs, errors.New("max cascade steps must be positive"))
	}
	if c.MaxRNGDraws < Cells {
		errs = append(errs, fmt.Errorf("max rng draws %d cannot fill a board", c.MaxRNGDraws))
	}
	if len(c.SizeBuckets) == 0 {
		errs = append(errs, errors.New("at least one size bucket is required"))
	} else {
		if c.SizeBuckets[0] != c.MinClusterSize {
			errs = append(errs, fmt.Errorf("first size bucket %d must equal min cluster size %d", c.SizeBuckets[0], c.MinClusterSize))
		}
		if !slices.IsSorted(c.SizeBuckets) || len(slices.Compact(slices.Clone(c.SizeBuckets))) != len(c.SizeBuckets) {
			errs = append(errs, errors.New("size buckets must be strictly ascending"))
		}
	}

	seen := make(map[Symbol]bool)
	baseTotal, freeTotal := c.Scatter.BaseWeight, c.Scatter.FreeWeight
	for _, s := range c.Symbols {
		if !s.Symbol.IsPaying() {
			errs = append(errs, fmt.Errorf("symbol %s cannot pay", s.Symbol))
			continue
		}
		if seen[s.Symbol] {
			errs = append(errs, fmt.Errorf("symbol %s configured twice", s.Symbol))
		}
		seen[s.Symbol] = true
		if s.BaseWeight < 0 || s.FreeWeight < 0 {
			errs = append(errs, fmt.Errorf("symbol %s has a negative weight", s.Symbol))
		}
		if len(s.Pays) != len(c.SizeBuckets) {
			errs = append(errs, fmt.Errorf("symbol %s has %d pays, want %d", s.Symbol, len(s.Pays), len(c.SizeBuckets)))
		}
		for _, p := range s.Pays {
			if p < 0 {
				errs = append(errs, fmt.Errorf("symbol %s has a negative pay", s.Symbol))
				break
			}
		}
		baseTotal += s.BaseWeight
		freeTotal += s.FreeWeight
	}
	if c.Scatter.BaseWeight < 0 || c.Scatter.FreeWeight < 0 {
		errs = append(errs, errors.New("scatter weights must not be negative"))
	}
	if baseTotal <= 0 || freeTotal <= 0 {
		errs = append(errs, errors.New("each mode needs a positive total weight"))
	}

	m := c.Multiplier
	if m.BaseChance < 0 || m.BaseChance > 1 || m.FreeChance < 0 || m.FreeChance > 1 {
		errs = append(errs, errors.New("multiplier chances must be within [0,1]"))
	}
	if len(m.Values) != len(m.Weights) {
		errs = append(errs, fmt.Errorf("multiplier table has %d values but %d weights", len(m.Values), len(m.Weights)))
	}
	if (m.BaseChance > 0 || m.FreeChance > 0) && len(m.Values) == 0 {
		errs = append(errs, errors.New("multiplier chance set without a value table"))
	}
	for i, v := range m.Values {
		if v < 2 {
			errs = append(errs, fmt.Errorf("multiplier value %d must be at least 2", v))
		}
		if i < len(m.Weights) && m.Weights[i] <= 0 {
			errs = append(errs, fmt.Errorf("multiplier value %d has non-positive weight", v))
		}
	}

	fs := c.FreeSpins
	if fs.TriggerThreshold < 1 || fs.SpinsAwarded < 1 {
		errs = append(errs, errors.New("free spins trigger threshold and award must be positive"))
	}
	if fs.RetriggerThreshold < 1 || fs.RetriggerSpins < 0 {
		errs = append(errs, errors.New("free spins retrigger settings are invalid"))
	}
	if fs.BuyCostMultiplier < 0 {
		errs = append(errs, errors.New("buy cost multiplier must not be negative"))
	}
	switch fs.ScatterCountMode {
	case ScatterCountInitial, ScatterCountCascade:
	default:
		errs = append(errs, fmt.Errorf("unknown scatter count mode %q", fs.ScatterCountMode))
	}

	if !c.MinBet.IsPositive() || c.MaxBet.LessThan(c.MinBet) {
		errs = append(errs, fmt.Errorf("bet range %s..%s is invalid", c.MinBet, c.MaxBet))
	}
	if c.MaxWinMultiplier < 0 {
		errs = append(errs, errors.New("max win multiplier must not be negative"))
	}
	if c.TargetRTP <= 0 || c.TargetRTP > 1.5 {
		errs = append(errs, fmt.Errorf("target rtp %.4f is implausible", c.TargetRTP))
	}
	if c.Timing.MinStepDuration < 0 || c.Timing.StepDuration < c.Timing.MinStepDuration {
		errs = append(errs, errors.New("step duration must be at least the minimum step duration"))
	}
	if c.Timing.QuickSpinFactor <= 0 || c.Timing.QuickSpinFactor > 1 {
		errs = append(errs, errors.New("quick spin factor must be within (0,1]"))
	}

	return errors.Join(errs...)
}
