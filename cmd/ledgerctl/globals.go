package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ledgerbook/internal/backend"
	"ledgerbook/internal/cli"
	"ledgerbook/internal/config"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/log"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/report"
)

// Globals are the flags shared by every command. The ledger services are
// opened on first use.
type Globals struct {
	EnvFile string `help:"Environment file loaded before reading configuration." default:".env" type:"path"`
	Backend string `help:"Override DATA_BACKEND." enum:",sqlite,memory" default:""`
	Verbose bool   `help:"Log at debug level." short:"v"`

	app *app
}

type app struct {
	cfg     *config.Config
	logger  *log.Logger
	store   backend.Store
	engine  *ledger.Engine
	rates   *rates.Resolver
	reports *report.Snapshotter
	cleanup backend.CleanupFunc
}

// config loads and validates the configuration. Logs go to stderr so
// command output stays clean on stdout.
func (g *Globals) config() (*config.Config, *log.Logger, error) {
	_ = godotenv.Load(g.EnvFile)

	cfg := config.Load()
	if g.Backend != "" {
		cfg.DataBackend = g.Backend
	}
	if g.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	lc := cfg.LoggerConfig("ledgerctl")
	lc.Output = os.Stderr
	return cfg, log.New(lc), nil
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	if g.app != nil {
		return g.app, nil
	}
	cfg, logger, err := g.config()
	if err != nil {
		return nil, err
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	// Reports created from the command line are never exported.
	bcfg.Export = backend.ExportNone
	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", bcfg.Type, err)
	}

	resolver := cli.NewRateResolver(cfg, result.Store, logger)
	g.app = &app{
		cfg:     cfg,
		logger:  logger,
		store:   result.Store,
		engine:  ledger.NewEngine(result.Store, logger),
		rates:   resolver,
		reports: cli.NewSnapshotter(result.Store, resolver, nil, logger),
		cleanup: result.Cleanup,
	}
	return g.app, nil
}

// Close releases the backend if a command opened it.
func (g *Globals) Close() {
	if g.app != nil && g.app.cleanup != nil {
		_ = g.app.cleanup()
	}
}
