package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is an amount aggregated by category and account currency.
type CategoryTotal struct {
	CategoryID       int64           `json:"category_id"`
	Category         string          `json:"category"`
	CurrencyCode     string          `json:"currency_code"`
	CurrencySymbol   string          `json:"currency_symbol"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
}

// CurrencyTotal is an amount aggregated by account currency.
type CurrencyTotal struct {
	CurrencyCode     string          `json:"currency_code"`
	CurrencySymbol   string          `json:"currency_symbol"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
}

// ReportData is the frozen body of a MonthlyReport.
type ReportData struct {
	Transactions         []TransactionDetail `json:"transactions"`
	IncomeByCategory     []CategoryTotal     `json:"income_by_category"`
	ExpensesByCategory   []CategoryTotal     `json:"expenses_by_category"`
	ExpensesByCurrency   []CurrencyTotal     `json:"expenses_by_currency"`
	Adjustments          []AdjustmentDetail  `json:"adjustments"`
	AccountCurrencies    []string            `json:"account_currencies"`
	UnresolvedCurrencies []string            `json:"unresolved_currencies,omitempty"`
}

// MonthlyReport is an immutable snapshot. ExchangeRates and ReportData hold
// the JSON exactly as it was written at generation time. ExchangeRates is an
// object of currency code to bare JSON number, e.g. {"EUR":0.9,"USD":1};
// older snapshots with quoted numbers still decode.
type MonthlyReport struct {
	ID            int64           `json:"id"`
	Name          string          `json:"report_name"`
	PeriodStart   Date            `json:"period_start"`
	PeriodEnd     Date            `json:"period_end"`
	Currency      string          `json:"report_currency"`
	ExchangeRates json.RawMessage `json:"exchange_rates"`
	ReportData    json.RawMessage `json:"report_data"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpense  decimal.Decimal `json:"total_expense"`
	NetChange     decimal.Decimal `json:"net_change"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EncodeRates writes a rate map as JSON numbers without losing decimal
// precision.
func EncodeRates(rates map[string]decimal.Decimal) (json.RawMessage, error) {
	out := make(map[string]json.Number, len(rates))
	for code, rate := range rates {
		out[code] = json.Number(rate.String())
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode exchange rates: %w", err)
	}
	return b, nil
}

// Rates decodes the frozen rate map.
func (r MonthlyReport) Rates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	if len(r.ExchangeRates) == 0 {
		return rates, nil
	}
	if err := json.Unmarshal(r.ExchangeRates, &rates); err != nil {
		return nil, fmt.Errorf("decode exchange rates: %w", err)
	}
	return rates, nil
}

// Data decodes the frozen report body.
func (r MonthlyReport) Data() (ReportData, error) {
	var data ReportData
	if len(r.ReportData) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(r.ReportData, &data); err != nil {
		return data, fmt.Errorf("decode report data: %w", err)
	}
	return data, nil
}

// AggregateByCategory groups transactions of the given type by category and
// currency, largest total first.
func AggregateByCategory(txs []TransactionDetail, typ TransactionType) []CategoryTotal {
	type key struct {
		category int64
		currency string
	}
	index := make(map[key]int)
	out := []CategoryTotal{}
	for _, t := range txs {
		if t.Type != typ {
			continue
		}
		k := key{t.CategoryID, t.CurrencyCode}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, CategoryTotal{
				CategoryID:     t.CategoryID,
				Category:       t.CategoryName,
				CurrencyCode:   t.CurrencyCode,
				CurrencySymbol: t.CurrencySymbol,
			})
		}
		out[i].TotalAmount = out[i].TotalAmount.Add(t.Amount)
		out[i].TransactionCount++
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].TotalAmount.GreaterThan(out[b].TotalAmount)
	})
	return out
}

// AggregateByCurrency groups transactions of the given type by currency,
// largest total first.
func AggregateByCurrency(txs []TransactionDetail, typ TransactionType) []CurrencyTotal {
	index := make(map[string]int)
	out := []CurrencyTotal{}
	for _, t := range txs {
		if t.Type != typ {
			continue
		}
		i, ok := index[t.CurrencyCode]
		if !ok {
			i = len(out)
			index[t.CurrencyCode] = i
			out = append(out, CurrencyTotal{CurrencyCode: t.CurrencyCode, CurrencySymbol: t.CurrencySymbol})
		}
		out[i].TotalAmount = out[i].TotalAmount.Add(t.Amount)
		out[i].TransactionCount++
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].TotalAmount.GreaterThan(out[b].TotalAmount)
	})
	return out
}

// CurrencyBalance is an amount tagged with its currency, the input of
// multi-currency totals.
type CurrencyBalance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// BalanceSummary aggregates account balances by a grouping label.
type BalanceSummary struct {
	Group          string          `json:"group"`
	CurrencyCode   string          `json:"currency_code"`
	CurrencySymbol string          `json:"currency_symbol"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	AccountCount   int             `json:"account_count"`
}

// SummarizeBalances groups accounts by groupFn and currency.
func SummarizeBalances(accounts []Account, groupFn func(Account) string) []BalanceSummary {
	type key struct{ group, currency string }
	index := make(map[key]int)
	out := []BalanceSummary{}
	for _, a := range accounts {
		k := key{groupFn(a), a.CurrencyCode}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, BalanceSummary{Group: k.group, CurrencyCode: a.CurrencyCode, CurrencySymbol: a.CurrencySymbol})
		}
		out[i].TotalBalance = out[i].TotalBalance.Add(a.Balance)
		out[i].AccountCount++
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Group != out[b].Group {
			return out[a].Group < out[b].Group
		}
		return out[a].CurrencyCode < out[b].CurrencyCode
	})
	return out
}
