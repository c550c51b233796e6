package sheets

import (
	"context"

	"ledgerbook/internal/core"
)

// Ports for outbound adapters.
type (
	// ReportExporter copies a frozen report to an external destination.
	// Exporting the same report twice returns the first reference.
	ReportExporter interface {
		ExportReport(ctx context.Context, r core.MonthlyReport) (ref string, err error)
	}
)
