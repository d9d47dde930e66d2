package main

import (
	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/lox/cascadeslots/cmd/cascadeslots/shared"
	"github.com/lox/cascadeslots/internal/config"
	"github.com/lox/cascadeslots/internal/engine"
)

// version is set by ldflags during build
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"HCL or YAML config file" default:"cascadeslots.hcl" type:"path"`
	LogLevel string `help:"Log level (overrides the config file)"`
	JSONLogs bool   `name:"json-logs" help:"Emit structured JSON logs"`
}

type CLI struct {
	Globals

	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Serve    ServeCmd         `cmd:"" help:"Run the WebSocket game server"`
	Spin     SpinCmd          `cmd:"" help:"Resolve and print spins"`
	Buy      BuyCmd           `cmd:"" help:"Buy the free spins feature and play it out"`
	Simulate SimulateCmd      `cmd:"" help:"Measure RTP over many seeded rounds"`
	Verify   VerifyCmd        `cmd:"" help:"Replay a spin result and check its checksum"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cascadeslots"),
		kong.Description("Cluster-pays cascade slot engine and sync server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// load reads the config file and builds a logger at the effective level.
func (g *Globals) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.Server.LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	logger, err := shared.SetupLogger(level, g.JSONLogs)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// newEngine builds an engine from the loaded config.
func (g *Globals) newEngine() (*engine.Engine, *config.Config, zerolog.Logger, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, nil, logger, err
	}
	eng, err := engine.New(cfg.Game, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, logger, err
	}
	return eng, cfg, logger, nil
}
