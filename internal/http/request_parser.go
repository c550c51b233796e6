package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ledgerbook/internal/core"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// Period returns the first and last day of the month.
func (p MonthParams) Period() (core.Date, core.Date) {
	start := core.NewDate(p.Year, p.Month, 1)
	return start, core.DateOf(start.AddDate(0, 1, -1))
}

// ParseMonthParams extracts year and month from query parameters, using
// the current date for missing or malformed values.
func ParseMonthParams(query url.Values, now time.Time) MonthParams {
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			params.Year = y
		}
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			params.Month = m
		}
	}

	return params
}

// decodeJSON reads one JSON value from the request body into v. Unknown
// fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("empty body")
		}
		return invalid("decode body: %v", err)
	}
	if dec.More() {
		return invalid("body must hold a single JSON value")
	}
	return nil
}

// pathID parses a positive int64 URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

// pathCurrency reads and validates a currency code URL parameter.
func pathCurrency(r *http.Request, name string) (string, error) {
	code := core.NormalizeCurrency(chi.URLParam(r, name))
	if err := core.ValidateCurrency(code); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return code, nil
}

// parseDateParam returns the zero Date when the parameter is absent.
func parseDateParam(query url.Values, name string) (core.Date, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, invalid("%s: %v", name, err)
	}
	return d, nil
}

// ParseTransactionFilter reads start, end, account_id and type. When year
// or month is given instead of start/end the filter covers that month.
func ParseTransactionFilter(query url.Values, now time.Time) (core.TransactionFilter, error) {
	var f core.TransactionFilter
	var err error

	if query.Has("year") || query.Has("month") {
		f.Start, f.End = ParseMonthParams(query, now).Period()
	} else {
		if f.Start, err = parseDateParam(query, "start"); err != nil {
			return f, err
		}
		if f.End, err = parseDateParam(query, "end"); err != nil {
			return f, err
		}
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End.Time) {
		return f, core.ErrInvalidPeriod
	}

	if v := strings.TrimSpace(query.Get("account_id")); v != "" {
		if f.AccountID, err = strconv.ParseInt(v, 10, 64); err != nil || f.AccountID <= 0 {
			return f, invalid("account_id must be a positive integer")
		}
	}
	if v := strings.TrimSpace(query.Get("type")); v != "" {
		f.Type = core.TransactionType(v)
		if !f.Type.Valid() {
			return f, core.ErrInvalidType
		}
	}
	return f, nil
}

// sanitizeInput drops control characters other than tab, CR and LF from
// free-text fields and trims surrounding whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
