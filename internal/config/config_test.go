package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cascadeslots/internal/engine"
)

const sampleHCL = `
server {
  address     = "0.0.0.0"
  port        = 9090
  session_ttl = "45s"
  review_dir  = "/var/lib/cascadeslots/review"
}

game "test-cascade" {
  max_cascade_steps = 40
  min_bet           = "0.10"
  target_rtp        = 0.95

  symbol "BL" {
    base_weight = 10
    free_weight = 10
    pays        = [0.5, 1, 2]
  }
  symbol "CR" {
    base_weight = 1
    free_weight = 2
    pays        = [5, 10, 25]
  }

  scatter {
    base_weight = 2
    free_weight = 1
  }

  multiplier {
    base_chance = 0.05
    values      = [2, 10]
    weights     = [90, 10]
    tier "small" {
      min_value = 2
    }
  }

  free_spins {
    spins_awarded      = 10
    scatter_count_mode = "cascade"
  }

  timing {
    step_duration = "1s"
  }
}
`

const sampleYAML = `
server:
  port: 7070
  sweep_interval: 1s
game:
  name: yaml-cascade
  max_win_multiplier: 2500
  free_spins:
    buy_cost_multiplier: 80
  timing:
    quick_spin_factor: 0.25
`

func TestParseHCL(t *testing.T) {
	cfg, err := Parse([]byte(sampleHCL), "game.hcl")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, 45*time.Second, cfg.Server.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Server.SweepInterval)
	assert.Equal(t, "/var/lib/cascadeslots/review", cfg.Server.ReviewDir)

	g := cfg.Game
	assert.Equal(t, "test-cascade", g.Name)
	assert.Equal(t, 40, g.MaxCascadeSteps)
	assert.Equal(t, 8, g.MinClusterSize)
	assert.True(t, g.MinBet.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 0.95, g.TargetRTP)
	require.Len(t, g.Symbols, 2)
	assert.Equal(t, engine.Blue, g.Symbols[0].Symbol)
	assert.Equal(t, engine.Crown, g.Symbols[1].Symbol)
	assert.Equal(t, []float64{5, 10, 25}, g.Symbols[1].Pays)
	assert.Equal(t, engine.ScatterConfig{BaseWeight: 2, FreeWeight: 1}, g.Scatter)
	assert.Equal(t, 0.05, g.Multiplier.BaseChance)
	assert.Equal(t, engine.DefaultGameConfig().Multiplier.FreeChance, g.Multiplier.FreeChance)
	assert.Equal(t, []int{2, 10}, g.Multiplier.Values)
	assert.Equal(t, []engine.MultiplierTier{{MinValue: 2, Tag: "small"}}, g.Multiplier.Tiers)
	assert.Equal(t, 10, g.FreeSpins.SpinsAwarded)
	assert.Equal(t, 4, g.FreeSpins.TriggerThreshold)
	assert.Equal(t, engine.ScatterCountCascade, g.FreeSpins.ScatterCountMode)
	assert.Equal(t, time.Second, g.Timing.StepDuration)
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "game.yaml")
	require.NoError(t, err)

	assert.Equal(t, "localhost:7070", cfg.Server.Addr())
	assert.Equal(t, time.Second, cfg.Server.SweepInterval)
	assert.Equal(t, "yaml-cascade", cfg.Game.Name)
	assert.Equal(t, 2500, cfg.Game.MaxWinMultiplier)
	assert.Equal(t, 80, cfg.Game.FreeSpins.BuyCostMultiplier)
	assert.Equal(t, 0.25, cfg.Game.Timing.QuickSpinFactor)
	assert.Len(t, cfg.Game.Symbols, len(engine.DefaultGameConfig().Symbols))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascadeslots.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		src  string
	}{
		{"bad hcl", "x.hcl", `server {`},
		{"unknown attribute", "x.hcl", `server { colour = "red" }`},
		{"bad duration", "x.hcl", `server { session_ttl = "soon" }`},
		{"bad port", "x.hcl", `server { port = 70000 }`},
		{"bad symbol", "x.hcl", `game "g" {
  symbol "ZZ" {
    base_weight = 1
    free_weight = 1
    pays = [1, 1, 1]
  }
}`},
		{"invalid math", "x.hcl", `game "g" { max_cascade_steps = 0 }`},
		{"bad bet", "x.yaml", "game:\n  min_bet: lots\n"},
		{"bad yaml", "x.yaml", "server: [\n"},
		{"result ttl too short", "x.yaml", "server:\n  result_ttl: 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), tt.file)
			assert.Error(t, err)
		})
	}
}

func TestExampleConfigParses(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "cascadeslots.example.hcl"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "cascade-default", cfg.Game.Name)
	assert.Equal(t, "./review", cfg.Server.ReviewDir)
	assert.Equal(t, def.Game.Symbols, cfg.Game.Symbols)
	assert.Equal(t, def.Game.Timing, cfg.Game.Timing)
	assert.True(t, def.Game.MinBet.Equal(cfg.Game.MinBet))
}
