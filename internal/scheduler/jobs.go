package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/report"
)

type (
	RateRefresher interface {
		ForceRefresh(ctx context.Context, base string) (core.RateTable, error)
	}

	ReportGenerator interface {
		Find(ctx context.Context, start, end core.Date, currency string) (core.MonthlyReport, bool, error)
		Generate(ctx context.Context, req report.Request) (core.MonthlyReport, error)
	}
)

// RateRefreshJob re-fetches the rate tables of a fixed set of bases.
type RateRefreshJob struct {
	rates  RateRefresher
	bases  []string
	logger *log.Logger
}

func NewRateRefreshJob(rates RateRefresher, bases []string, logger *log.Logger) *RateRefreshJob {
	return &RateRefreshJob{rates: rates, bases: bases, logger: componentLogger(logger)}
}

func (j *RateRefreshJob) Name() string { return "rate-refresh" }

// Run refreshes every base and joins the failures; one failing base does
// not stop the others.
func (j *RateRefreshJob) Run(ctx context.Context) error {
	var errs []error
	for _, base := range j.bases {
		t, err := j.rates.ForceRefresh(ctx, base)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", base, err))
			continue
		}
		j.logger.InfoContext(ctx, "Rates refreshed",
			log.FieldBase, t.Base, "count", len(t.Rates), log.FieldOperation, log.OpRefresh)
	}
	return errors.Join(errs...)
}

// MonthlyReportJob snapshots the previous calendar month. A second run for
// the same month and currency is a no-op.
type MonthlyReportJob struct {
	reports  ReportGenerator
	currency string
	now      func() time.Time
	logger   *log.Logger
}

func NewMonthlyReportJob(reports ReportGenerator, currency string, now func() time.Time, logger *log.Logger) *MonthlyReportJob {
	if now == nil {
		now = time.Now
	}
	return &MonthlyReportJob{
		reports:  reports,
		currency: core.NormalizeCurrency(currency),
		now:      now,
		logger:   componentLogger(logger),
	}
}

func (j *MonthlyReportJob) Name() string { return "monthly-report" }

func (j *MonthlyReportJob) Run(ctx context.Context) error {
	start, end := report.PreviousMonth(j.now())
	existing, ok, err := j.reports.Find(ctx, start, end, j.currency)
	if err != nil {
		return fmt.Errorf("look up existing report: %w", err)
	}
	if ok {
		j.logger.InfoContext(ctx, "Monthly report already exists",
			log.FieldReportID, existing.ID, log.FieldPeriodStart, start.String())
		return nil
	}
	r, err := j.reports.Generate(ctx, report.Request{
		Name:        start.Format("January 2006"),
		PeriodStart: start,
		PeriodEnd:   end,
		Currency:    j.currency,
	})
	if err != nil {
		return fmt.Errorf("generate monthly report: %w", err)
	}
	j.logger.InfoContext(ctx, "Monthly report generated", log.FieldReportID, r.ID, log.FieldPeriodStart, start.String())
	return nil
}
