// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"ledgerbook/internal/log"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler wraps a seconds-precision cron. Overlapping runs of the same job
// are skipped and panics are recovered.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *log.Logger) *Scheduler {
	logger = componentLogger(logger)
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob registers job under a six-field cron spec or a descriptor such as
// "@hourly" or "@every 30m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(s.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name(), schedule, err)
	}
	s.logger.Info("Job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.InfoContext(ctx, "Running job immediately", "job", job.Name())
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	s.logger.DebugContext(ctx, "Running job", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Job failed", "job", job.Name(), log.FieldError, err)
		return err
	}
	s.logger.DebugContext(ctx, "Job completed", "job", job.Name())
	return nil
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, log.FieldError, err)...)
}

func componentLogger(l *log.Logger) *log.Logger {
	if l == nil {
		l = log.New(log.DefaultConfig())
	}
	return l.WithComponent(log.ComponentScheduler)
}
