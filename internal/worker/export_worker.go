package worker

import (
	"context"
	"errors"
	"fmt"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/sheets"
)

// ReportReader is the slice of the ledger store the worker needs.
type ReportReader interface {
	GetReport(ctx context.Context, id int64) (core.MonthlyReport, error)
	ListReports(ctx context.Context) ([]core.MonthlyReport, error)
}

// ExportWorker copies generated reports to the configured exporter. It
// reacts to report.generated messages and periodically re-exports the most
// recent reports in case a message was lost; exporters ignore repeats.
type ExportWorker struct {
	reports   ReportReader
	exporter  sheets.ReportExporter
	batchSize int
	logger    *log.Logger
}

func NewExportWorker(reports ReportReader, exporter sheets.ReportExporter, batchSize int, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		reports:   reports,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleReportGenerated processes a single report message. A report deleted
// before the message arrived is acknowledged and skipped.
func (w *ExportWorker) HandleReportGenerated(ctx context.Context, msg *amqp.ReportGenerated) error {
	r, err := w.reports.GetReport(ctx, msg.ReportID)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Report no longer exists, skipping export",
			log.FieldReportID, msg.ReportID, "message_id", msg.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get report %d: %w", msg.ReportID, err)
	}
	return w.export(ctx, r)
}

// ExportRecent exports the newest limit reports and reports how many
// succeeded.
func (w *ExportWorker) ExportRecent(ctx context.Context, limit int) (int, error) {
	all, err := w.reports.ListReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reports: %w", err)
	}
	if len(all) > limit {
		all = all[:limit]
	}

	exported, failed := 0, 0
	for _, r := range all {
		if err := w.export(ctx, r); err != nil {
			w.logger.ErrorContext(ctx, "Failed to export report", log.FieldReportID, r.ID, log.FieldError, err)
			failed++
			continue
		}
		exported++
	}
	if len(all) > 0 {
		w.logger.InfoContext(ctx, "Export pass completed", "total", len(all), "exported", exported, "errors", failed)
	}
	return exported, nil
}

// StartupExportCheck runs a wider export pass when the worker starts.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	_, err := w.ExportRecent(ctx, w.batchSize*5)
	return err
}

// Name and Run let the worker be scheduled as a periodic job.
func (w *ExportWorker) Name() string { return "report-export" }

func (w *ExportWorker) Run(ctx context.Context) error {
	_, err := w.ExportRecent(ctx, w.batchSize)
	return err
}

func (w *ExportWorker) export(ctx context.Context, r core.MonthlyReport) error {
	ref, err := w.exporter.ExportReport(ctx, r)
	if err != nil {
		return fmt.Errorf("export report %d: %w", r.ID, err)
	}
	w.logger.InfoContext(ctx, "Report exported",
		log.FieldReportID, r.ID,
		log.FieldExportRef, ref,
		log.FieldPeriodStart, r.PeriodStart.String(),
		log.FieldOperation, log.OpExport)
	return nil
}
