package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledgerbook/internal/cache"
	"ledgerbook/internal/cli"
	apphttp "ledgerbook/internal/http"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig("ledger-server")

	backend := cli.InitBackend(context.Background(), logger, cfg)
	store := backend.Store

	// Reports generated over HTTP are announced so the worker can export them.
	broker := cli.ConnectBroker(cfg, logger)

	resolver := cli.NewRateResolver(cfg, store, logger)
	caches := cache.NewManager(logger)
	caches.Register("rates", resolver)
	caches.StartCleanup(10 * time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:           store,
		Ledger:          ledger.NewEngine(store, logger),
		Rates:           resolver,
		Reports:         cli.NewSnapshotter(store, resolver, broker, logger),
		Logger:          logger,
		DefaultCurrency: cfg.DefaultReportCurrency,
	}, apphttp.Options{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if broker != nil {
			if err := broker.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := backend.Cleanup(); err != nil {
			logger.Warn("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting ledger server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
