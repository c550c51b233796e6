// Package cli provides the initialization shared by cmd/ledger-server,
// cmd/ledger-worker and cmd/ledgerctl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/backend"
	"ledgerbook/internal/config"
	"ledgerbook/internal/exchangerate"
	"ledgerbook/internal/log"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/report"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from the logging settings and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(cfg.LoggerConfig(component))
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitBackend opens the configured store and exporter.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.Result {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return result
}

// NewRateResolver wires the remote feed client to store-backed manual rates
// and persisted tables.
func NewRateResolver(cfg *config.Config, store backend.Store, logger *log.Logger) *rates.Resolver {
	feed := exchangerate.NewClient(cfg.RatesAPIURL, logger, exchangerate.WithTimeout(cfg.RatesTimeout))
	return rates.NewResolver(feed, store, logger,
		rates.WithTTL(cfg.RatesCacheTTL),
		rates.WithTableStore(store))
}

// NewSnapshotter builds the report snapshotter. Reports are announced on
// the broker when one is given.
func NewSnapshotter(store backend.Store, resolver *rates.Resolver, broker *amqp.Client, logger *log.Logger) *report.Snapshotter {
	var opts []report.Option
	if broker != nil {
		opts = append(opts, report.WithPublisher(broker))
	}
	return report.NewSnapshotter(store, resolver, logger, opts...)
}

// ConnectBroker dials the AMQP broker when AMQP_URL is set. A nil client
// means messaging is disabled.
func ConnectBroker(cfg *config.Config, logger *log.Logger) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	return client
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has finished or timed out.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
