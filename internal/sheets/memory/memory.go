// Package memory records report exports in process. It backs the "memory"
// export backend and the worker tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"ledgerbook/internal/core"
)

type Exporter struct {
	mu    sync.Mutex
	refs  map[int64]string
	items []core.MonthlyReport
}

func New() *Exporter {
	return &Exporter{refs: map[int64]string{}}
}

// ExportReport stores the report and returns a synthetic reference. A
// report exported before gets its original reference back.
func (e *Exporter) ExportReport(_ context.Context, r core.MonthlyReport) (string, error) {
	if r.ID <= 0 {
		return "", fmt.Errorf("export report: %w", core.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.refs[r.ID]; ok {
		return ref, nil
	}
	e.items = append(e.items, r)
	ref := fmt.Sprintf("mem:%d", len(e.items))
	e.refs[r.ID] = ref
	return ref, nil
}

// Exported returns the exported reports in export order.
func (e *Exporter) Exported() []core.MonthlyReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.MonthlyReport(nil), e.items...)
}
