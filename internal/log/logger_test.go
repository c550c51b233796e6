package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("expected json line, got %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentApp, Output: &buf}).
		With(FieldRequestID, "req-1").
		WithComponent(ComponentRates)
	logger.Info("hello", FieldBase, "USD")

	if n := strings.Count(buf.String(), `"component"`); n != 1 {
		t.Fatalf("expected one component attribute, got %d in %s", n, buf.String())
	}
	rec := decodeLines(t, &buf)[0]
	if rec[FieldComponent] != ComponentRates || rec[FieldBase] != "USD" || rec[FieldRequestID] != "req-1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if logger.Component() != ComponentRates {
		t.Fatalf("Component() = %q", logger.Component())
	}
}

func TestFieldsKeepOrder(t *testing.T) {
	f := NewFields().
		WithReport(7, "2024-01-01", "2024-01-31", "USD").
		WithOperation(OpGenerate).
		WithError(nil).
		WithRequestID("")
	want := []any{
		FieldReportID, int64(7),
		FieldPeriodStart, "2024-01-01",
		FieldPeriodEnd, "2024-01-31",
		FieldCurrency, "USD",
		FieldOperation, OpGenerate,
	}
	if len(f) != len(want) {
		t.Fatalf("fields = %v, want %v", f, want)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("fields[%d] = %v, want %v", i, f[i], want[i])
		}
	}

	if f := NewFields().WithError(errors.New("boom")); len(f) != 2 || f[1] != "boom" {
		t.Fatalf("WithError = %v", f)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must fall back to the default logger")
	}
	logger := New(Config{Component: ComponentHTTP})
	if got := FromContext(NewContext(context.Background(), logger)); got != logger {
		t.Fatal("FromContext did not return the stored logger")
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{502, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(New(Config{Format: "json", Component: ComponentHTTP, Output: &buf}))
		sl.LogHTTPEnd(context.Background(), httptest.NewRequest("GET", "/api/accounts", nil), tt.status, 3, "10.0.0.1")

		rec := decodeLines(t, &buf)[0]
		if rec["level"] != tt.level {
			t.Errorf("status %d logged at %v, want %s", tt.status, rec["level"], tt.level)
		}
		if rec[FieldSuccess] != (tt.status < 400) {
			t.Errorf("status %d success = %v", tt.status, rec[FieldSuccess])
		}
	}
}
