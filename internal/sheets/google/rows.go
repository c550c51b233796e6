package google

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ledgerbook/internal/core"
)

const (
	kindSummary = "summary"
	kindRate    = "rate"
)

// reportRows lays a report out as one summary row followed by one row per
// frozen rate, sorted by currency:
//
//	summary | id | name | start | end | currency | income | expense | net | created | unresolved
//	rate    | id | code | rate  | report currency
func reportRows(r core.MonthlyReport) ([][]any, error) {
	rates, err := r.Rates()
	if err != nil {
		return nil, err
	}
	data, err := r.Data()
	if err != nil {
		return nil, err
	}

	rows := [][]any{{
		kindSummary,
		r.ID,
		r.Name,
		r.PeriodStart.String(),
		r.PeriodEnd.String(),
		r.Currency,
		r.TotalIncome.StringFixed(2),
		r.TotalExpense.StringFixed(2),
		r.NetChange.StringFixed(2),
		r.CreatedAt.UTC().Format(time.RFC3339),
		strings.Join(data.UnresolvedCurrencies, ","),
	}}

	codes := make([]string, 0, len(rates))
	for code := range rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		rows = append(rows, []any{kindRate, r.ID, code, rates[code].String(), r.Currency})
	}
	return rows, nil
}

// findSummaryRow returns the 1-based row of the summary for reportID, or 0.
func findSummaryRow(values [][]any, reportID int64) int {
	want := strconv.FormatInt(reportID, 10)
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) < 2 {
			continue
		}
		if strings.EqualFold(cols[0], kindSummary) && cols[1] == want {
			return i + 1
		}
	}
	return 0
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
