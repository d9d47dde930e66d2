// Package config loads server settings and the game math model from an HCL
// or YAML file. Anything the file leaves out keeps its default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lox/cascadeslots/internal/engine"
)

// Config is the resolved configuration.
type Config struct {
	Server ServerSettings
	Game   engine.GameConfig
}

// ServerSettings contains server-level configuration.
type ServerSettings struct {
	Address        string
	Port           int
	LogLevel       string
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	ResultTTL      time.Duration
	MaxSyncLatency time.Duration
	ReviewDir      string
	ReviewFlush    time.Duration
}

// Addr returns host:port.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:        "localhost",
			Port:           8080,
			LogLevel:       "info",
			SessionTTL:     30 * time.Second,
			SweepInterval:  5 * time.Second,
			ResultTTL:      10 * time.Minute,
			MaxSyncLatency: 2 * time.Second,
			ReviewFlush:    10 * time.Second,
		},
		Game: engine.DefaultGameConfig(),
	}
}

// fileConfig mirrors the on-disk layout. Every scalar is optional.
type fileConfig struct {
	Server *serverBlock `hcl:"server,block" yaml:"server"`
	Game   *gameBlock   `hcl:"game,block" yaml:"game"`
}

type serverBlock struct {
	Address        *string `hcl:"address,optional" yaml:"address"`
	Port           *int    `hcl:"port,optional" yaml:"port"`
	LogLevel       *string `hcl:"log_level,optional" yaml:"log_level"`
	SessionTTL     *string `hcl:"session_ttl,optional" yaml:"session_ttl"`
	SweepInterval  *string `hcl:"sweep_interval,optional" yaml:"sweep_interval"`
	ResultTTL      *string `hcl:"result_ttl,optional" yaml:"result_ttl"`
	MaxSyncLatency *string `hcl:"max_sync_latency,optional" yaml:"max_sync_latency"`
	ReviewDir      *string `hcl:"review_dir,optional" yaml:"review_dir"`
	ReviewFlush    *string `hcl:"review_flush,optional" yaml:"review_flush"`
}

type gameBlock struct {
	Name             string           `hcl:"name,label" yaml:"name"`
	MinClusterSize   *int             `hcl:"min_cluster_size,optional" yaml:"min_cluster_size"`
	MaxCascadeSteps  *int             `hcl:"max_cascade_steps,optional" yaml:"max_cascade_steps"`
	MaxRNGDraws      *int             `hcl:"max_rng_draws,optional" yaml:"max_rng_draws"`
	SizeBuckets      []int            `hcl:"size_buckets,optional" yaml:"size_buckets"`
	MinBet           *string          `hcl:"min_bet,optional" yaml:"min_bet"`
	MaxBet           *string          `hcl:"max_bet,optional" yaml:"max_bet"`
	MaxWinMultiplier *int             `hcl:"max_win_multiplier,optional" yaml:"max_win_multiplier"`
	TargetRTP        *float64         `hcl:"target_rtp,optional" yaml:"target_rtp"`
	Symbols          []symbolBlock    `hcl:"symbol,block" yaml:"symbols"`
	Scatter          *scatterBlock    `hcl:"scatter,block" yaml:"scatter"`
	Multiplier       *multiplierBlock `hcl:"multiplier,block" yaml:"multiplier"`
	FreeSpins        *freeSpinsBlock  `hcl:"free_spins,block" yaml:"free_spins"`
	Timing           *timingBlock     `hcl:"timing,block" yaml:"timing"`
}

type symbolBlock struct {
	Code       string    `hcl:"code,label" yaml:"code"`
	BaseWeight int       `hcl:"base_weight" yaml:"base_weight"`
	FreeWeight int       `hcl:"free_weight" yaml:"free_weight"`
	Pays       []float64 `hcl:"pays" yaml:"pays"`
}

type scatterBlock struct {
	BaseWeight int `hcl:"base_weight" yaml:"base_weight"`
	FreeWeight int `hcl:"free_weight" yaml:"free_weight"`
}

type tierBlock struct {
	Tag      string `hcl:"tag,label" yaml:"tag"`
	MinValue int    `hcl:"min_value" yaml:"min_value"`
}

type multiplierBlock struct {
	BaseChance *float64    `hcl:"base_chance,optional" yaml:"base_chance"`
	FreeChance *float64    `hcl:"free_chance,optional" yaml:"free_chance"`
	Values     []int       `hcl:"values,optional" yaml:"values"`
	Weights    []int       `hcl:"weights,optional" yaml:"weights"`
	Tiers      []tierBlock `hcl:"tier,block" yaml:"tiers"`
}

type freeSpinsBlock struct {
	TriggerThreshold   *int    `hcl:"trigger_threshold,optional" yaml:"trigger_threshold"`
	SpinsAwarded       *int    `hcl:"spins_awarded,optional" yaml:"spins_awarded"`
	RetriggerThreshold *int    `hcl:"retrigger_threshold,optional" yaml:"retrigger_threshold"`
	RetriggerSpins     *int    `hcl:"retrigger_spins,optional" yaml:"retrigger_spins"`
	BuyCostMultiplier  *int    `hcl:"buy_cost_multiplier,optional" yaml:"buy_cost_multiplier"`
	ScatterCountMode   *string `hcl:"scatter_count_mode,optional" yaml:"scatter_count_mode"`
}

type timingBlock struct {
	StepDuration    *string  `hcl:"step_duration,optional" yaml:"step_duration"`
	MinStepDuration *string  `hcl:"min_step_duration,optional" yaml:"min_step_duration"`
	SpinIntro       *string  `hcl:"spin_intro,optional" yaml:"spin_intro"`
	QuickSpinFactor *float64 `hcl:"quick_spin_factor,optional" yaml:"quick_spin_factor"`
}

// Load reads filename. A missing file yields Default. Files ending in .yaml
// or .yml are parsed as YAML, everything else as HCL.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filename)
}

// Parse decodes data, using filename to pick the format and label
// diagnostics.
func Parse(data []byte, filename string) (*Config, error) {
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML file: %w", err)
		}
	default:
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(data, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		diags = gohcl.DecodeBody(file.Body, nil, &fc)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
	}

	cfg := Default()
	if err := fc.Server.apply(&cfg.Server); err != nil {
		return nil, err
	}
	if err := fc.Game.apply(&cfg.Game); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the resolved configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.Server.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.Server.ResultTTL < c.Server.SessionTTL {
		return fmt.Errorf("result_ttl %s must be at least session_ttl %s", c.Server.ResultTTL, c.Server.SessionTTL)
	}
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game %q: %w", c.Game.Name, err)
	}
	return nil
}

func duration(dst *time.Duration, field string, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (b *serverBlock) apply(s *ServerSettings) error {
	if b == nil {
		return nil
	}
	if b.Address != nil {
		s.Address = *b.Address
	}
	setInt(&s.Port, b.Port)
	if b.LogLevel != nil {
		s.LogLevel = *b.LogLevel
	}
	if b.ReviewDir != nil {
		s.ReviewDir = *b.ReviewDir
	}
	return errors.Join(
		duration(&s.SessionTTL, "session_ttl", b.SessionTTL),
		duration(&s.SweepInterval, "sweep_interval", b.SweepInterval),
		duration(&s.ResultTTL, "result_ttl", b.ResultTTL),
		duration(&s.MaxSyncLatency, "max_sync_latency", b.MaxSyncLatency),
		duration(&s.ReviewFlush, "review_flush", b.ReviewFlush),
	)
}

func (b *gameBlock) apply(g *engine.GameConfig) error {
	if b == nil {
		return nil
	}
	if b.Name != "" {
		g.Name = b.Name
	}
	setInt(&g.MinClusterSize, b.MinClusterSize)
	setInt(&g.MaxCascadeSteps, b.MaxCascadeSteps)
	setInt(&g.MaxRNGDraws, b.MaxRNGDraws)
	setInt(&g.MaxWinMultiplier, b.MaxWinMultiplier)
	setFloat(&g.TargetRTP, b.TargetRTP)
	if len(b.SizeBuckets) > 0 {
		g.SizeBuckets = b.SizeBuckets
	}
	if b.MinBet != nil {
		d, err := decimal.NewFromString(*b.MinBet)
		if err != nil {
			return fmt.Errorf("min_bet: %w", err)
		}
		g.MinBet = d
	}
	if b.MaxBet != nil {
		d, err := decimal.NewFromString(*b.MaxBet)
		if err != nil {
			return fmt.Errorf("max_bet: %w", err)
		}
		g.MaxBet = d
	}

	// Symbol blocks replace the whole symbol set.
	if len(b.Symbols) > 0 {
		g.Symbols = make([]engine.SymbolConfig, 0, len(b.Symbols))
		for _, sb := range b.Symbols {
			sym, err := engine.ParseSymbol(sb.Code)
			if err != nil {
				return fmt.Errorf("symbol %q: %w", sb.Code, err)
			}
			g.Symbols = append(g.Symbols, engine.SymbolConfig{
				Symbol:     sym,
				BaseWeight: sb.BaseWeight,
				FreeWeight: sb.FreeWeight,
				Pays:       sb.Pays,
			})
		}
	}
	if b.Scatter != nil {
		g.Scatter = engine.ScatterConfig{BaseWeight: b.Scatter.BaseWeight, FreeWeight: b.Scatter.FreeWeight}
	}

	if m := b.Multiplier; m != nil {
		setFloat(&g.Multiplier.BaseChance, m.BaseChance)
		setFloat(&g.Multiplier.FreeChance, m.FreeChance)
		if len(m.Values) > 0 || len(m.Weights) > 0 {
			g.Multiplier.Values = m.Values
			g.Multiplier.Weights = m.Weights
		}
		if len(m.Tiers) > 0 {
			g.Multiplier.Tiers = make([]engine.MultiplierTier, 0, len(m.Tiers))
			for _, t := range m.Tiers {
				g.Multiplier.Tiers = append(g.Multiplier.Tiers, engine.MultiplierTier{MinValue: t.MinValue, Tag: t.Tag})
			}
		}
	}

	if fs := b.FreeSpins; fs != nil {
		setInt(&g.FreeSpins.TriggerThreshold, fs.TriggerThreshold)
		setInt(&g.FreeSpins.SpinsAwarded, fs.SpinsAwarded)
		setInt(&g.FreeSpins.RetriggerThreshold, fs.RetriggerThreshold)
		setInt(&g.FreeSpins.RetriggerSpins, fs.RetriggerSpins)
		setInt(&g.FreeSpins.BuyCostMultiplier, fs.BuyCostMultiplier)
		if fs.ScatterCountMode != nil {
			g.FreeSpins.ScatterCountMode = engine.ScatterCountMode(*fs.ScatterCountMode)
		}
	}

	if t := b.Timing; t != nil {
		setFloat(&g.Timing.QuickSpinFactor, t.QuickSpinFactor)
		if err := errors.Join(
			duration(&g.Timing.StepDuration, "step_duration", t.StepDuration),
			duration(&g.Timing.MinStepDuration, "min_step_duration", t.MinStepDuration),
			duration(&g.Timing.SpinIntro, "spin_intro", t.SpinIntro),
		); err != nil {
			return err
		}
	}
	return nil
}
