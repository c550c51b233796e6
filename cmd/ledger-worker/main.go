package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledgerbook/internal/cache"
	"ledgerbook/internal/cli"
	"ledgerbook/internal/log"
	"ledgerbook/internal/scheduler"
	"ledgerbook/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig("ledger-worker")
	logger.Info("Starting ledger-worker")

	backend := cli.InitBackend(context.Background(), logger, cfg)
	store := backend.Store
	broker := cli.ConnectBroker(cfg, logger)

	resolver := cli.NewRateResolver(cfg, store, logger)
	reports := cli.NewSnapshotter(store, resolver, broker, logger)

	caches := cache.NewManager(logger)
	caches.Register("rates", resolver)
	caches.StartCleanup(10 * time.Minute)

	sched := scheduler.New(logger)
	refresh := scheduler.NewRateRefreshJob(resolver, cfg.RateRefreshBases, logger)
	mustSchedule(logger, sched, cfg.RateRefreshSchedule, refresh)
	mustSchedule(logger, sched, cfg.MonthlyReportSchedule,
		scheduler.NewMonthlyReportJob(reports, cfg.DefaultReportCurrency, time.Now, logger))

	var exports *worker.ExportWorker
	if backend.Exporter != nil {
		exports = worker.NewExportWorker(store, backend.Exporter, cfg.ExportBatchSize, logger)
		mustSchedule(logger, sched, cfg.ExportSchedule, exports)
	} else {
		logger.Info("Report export disabled", "export_backend", cfg.ExportBackend)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down worker...")
		sched.Stop()
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

	// Warm the rate cache and catch up on reports missed while the worker
	// was down.
	if err := sched.RunNow(ctx, refresh); err != nil {
		logger.Warn("Initial rate refresh failed", log.FieldError, err)
	}
	if exports != nil {
		logger.Info("Performing startup export check...")
		if err := exports.StartupExportCheck(ctx); err != nil {
			logger.Error("Failed startup export check", log.FieldError, err)
		}
	}

	if exports != nil && broker != nil {
		go func() {
			err := broker.ConsumeReportExports(ctx, exports.HandleReportGenerated)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
			}
		}()
	} else {
		logger.Info("Skipping AMQP message consumption")
	}

	sched.Start()
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

func mustSchedule(logger *log.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		logger.Error("Failed to schedule job", "job", job.Name(), log.FieldError, err)
		os.Exit(1)
	}
}
