package memory

import (
	"context"
	"errors"
	"testing"

	"ledgerbook/internal/core"
)

func TestExportReportIsIdempotent(t *testing.T) {
	e := New()
	ctx := context.Background()

	ref, err := e.ExportReport(ctx, core.MonthlyReport{ID: 3, Name: "March"})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected export: ref=%q err=%v", ref, err)
	}
	ref, err = e.ExportReport(ctx, core.MonthlyReport{ID: 4, Name: "April"})
	if err != nil || ref != "mem:2" {
		t.Fatalf("unexpected export: ref=%q err=%v", ref, err)
	}
	ref, err = e.ExportReport(ctx, core.MonthlyReport{ID: 3, Name: "March"})
	if err != nil || ref != "mem:1" {
		t.Fatalf("re-export should return first ref: ref=%q err=%v", ref, err)
	}

	got := e.Exported()
	if len(got) != 2 || got[0].Name != "March" || got[1].Name != "April" {
		t.Fatalf("unexpected exports: %+v", got)
	}
}

func TestExportReportRejectsUnsavedReport(t *testing.T) {
	_, err := New().ExportReport(context.Background(), core.MonthlyReport{})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
