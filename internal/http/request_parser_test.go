package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"ledgerbook/internal/core"
)

var parserNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func TestParseMonthParams(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		wantYear  int
		wantMonth int
	}{
		{"both provided", url.Values{"year": {"2023"}, "month": {"2"}}, 2023, 2},
		{"defaults to now", url.Values{}, 2024, 6},
		{"month out of range", url.Values{"month": {"13"}}, 2024, 6},
		{"garbage year", url.Values{"year": {"abc"}, "month": {"1"}}, 2024, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMonthParams(tt.query, parserNow)
			if got.Year != tt.wantYear || got.Month != tt.wantMonth {
				t.Errorf("ParseMonthParams() = %+v, want %d-%d", got, tt.wantYear, tt.wantMonth)
			}
		})
	}
}

func TestMonthParams_Period(t *testing.T) {
	start, end := MonthParams{Year: 2024, Month: 2}.Period()
	if start.String() != "2024-02-01" || end.String() != "2024-02-29" {
		t.Errorf("Period() = %s..%s", start, end)
	}
}

func TestParseTransactionFilter(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		wantStart string
		wantEnd   string
		wantType  core.TransactionType
		wantErr   error
	}{
		{
			name:      "month shorthand",
			query:     url.Values{"year": {"2024"}, "month": {"4"}},
			wantStart: "2024-04-01",
			wantEnd:   "2024-04-30",
		},
		{
			name:      "explicit range with type",
			query:     url.Values{"start": {"2024-01-10"}, "end": {"2024-01-20"}, "type": {"expense"}},
			wantStart: "2024-01-10",
			wantEnd:   "2024-01-20",
			wantType:  core.Expense,
		},
		{
			name:    "inverted range",
			query:   url.Values{"start": {"2024-01-20"}, "end": {"2024-01-10"}},
			wantErr: core.ErrInvalidPeriod,
		},
		{
			name:    "unknown type",
			query:   url.Values{"type": {"transfer"}},
			wantErr: core.ErrInvalidType,
		},
		{
			name:    "bad date",
			query:   url.Values{"start": {"10/01/2024"}},
			wantErr: errInvalidRequest,
		},
		{
			name:    "bad account",
			query:   url.Values{"account_id": {"-1"}},
			wantErr: errInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseTransactionFilter(tt.query, parserNow)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Start.String() != tt.wantStart || f.End.String() != tt.wantEnd {
				t.Errorf("range = %s..%s, want %s..%s", f.Start, f.End, tt.wantStart, tt.wantEnd)
			}
			if f.Type != tt.wantType {
				t.Errorf("type = %q, want %q", f.Type, tt.wantType)
			}
		})
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", tt.raw)
			got, err := pathID(r, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("pathID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("pathID(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"from":"USD","to":"EUR","amount":"1"}`, false},
		{"empty", ``, true},
		{"unknown field", `{"from":"USD","extra":true}`, true},
		{"two values", `{"from":"USD"}{"from":"EUR"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req convertRequest
			err := decodeJSON(httptest.NewRecorder(), r, &req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errInvalidRequest) {
				t.Errorf("error should wrap errInvalidRequest: %v", err)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  groceries ":       "groceries",
		"rent\x00 march":     "rent march",
		"line one\nline two": "line one\nline two",
		"\x1b[31mred\x1b[0m": "[31mred[0m",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
