package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

var hundred = decimal.NewFromInt(100)

// CategoryLine is one category total with its report-currency value.
// RateAvailable is false when the frozen rate was a fallback; Converted is
// then the unconverted amount.
type CategoryLine struct {
	core.CategoryTotal
	Converted     decimal.Decimal `json:"converted_amount"`
	RateAvailable bool            `json:"rate_available"`
}

// CategoryShare is one category's part of a currency group.
type CategoryShare struct {
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CurrencyGroup holds the expenses of one currency.
type CurrencyGroup struct {
	CurrencyCode   string          `json:"currency_code"`
	CurrencySymbol string          `json:"currency_symbol"`
	Total          decimal.Decimal `json:"total"`
	Converted      decimal.Decimal `json:"converted_total"`
	Rate           decimal.Decimal `json:"rate"`
	RateAvailable  bool            `json:"rate_available"`
	Categories     []CategoryShare `json:"categories"`
}

// View is a stored report rendered for display.
type View struct {
	Report        core.MonthlyReport         `json:"report"`
	Rates         map[string]decimal.Decimal `json:"exchange_rates"`
	Data          core.ReportData            `json:"report_data"`
	Income        []CategoryLine             `json:"income"`
	Expenses      []CategoryLine             `json:"expenses"`
	ExpenseGroups []CurrencyGroup            `json:"expense_groups"`
}

// Render derives every conversion from the report's frozen rates only.
func Render(r core.MonthlyReport) (View, error) {
	frozen, err := r.Rates()
	if err != nil {
		return View{}, err
	}
	data, err := r.Data()
	if err != nil {
		return View{}, err
	}
	unresolved := make(map[string]bool, len(data.UnresolvedCurrencies))
	for _, c := range data.UnresolvedCurrencies {
		unresolved[c] = true
	}
	available := func(code string) bool {
		if code == r.Currency {
			return true
		}
		_, ok := frozen[code]
		return ok && !unresolved[code]
	}

	v := View{Report: r, Rates: frozen, Data: data}
	v.Income = lines(data.IncomeByCategory, r.Currency, frozen, available)
	v.Expenses = lines(data.ExpensesByCategory, r.Currency, frozen, available)
	v.ExpenseGroups = groups(data.ExpensesByCategory, r.Currency, frozen, available)
	return v, nil
}

func lines(rows []core.CategoryTotal, reportCurrency string, frozen map[string]decimal.Decimal, available func(string) bool) []CategoryLine {
	out := make([]CategoryLine, 0, len(rows))
	for _, row := range rows {
		converted, _ := toReportCurrency(row.TotalAmount, row.CurrencyCode, reportCurrency, frozen)
		out = append(out, CategoryLine{
			CategoryTotal: row,
			Converted:     converted,
			RateAvailable: available(row.CurrencyCode),
		})
	}
	return out
}

func groups(rows []core.CategoryTotal, reportCurrency string, frozen map[string]decimal.Decimal, available func(string) bool) []CurrencyGroup {
	index := map[string]int{}
	var out []CurrencyGroup
	for _, row := range rows {
		i, ok := index[row.CurrencyCode]
		if !ok {
			i = len(out)
			index[row.CurrencyCode] = i
			rate := decimal.NewFromInt(1)
			if r, ok := frozen[row.CurrencyCode]; ok {
				rate = r
			}
			out = append(out, CurrencyGroup{
				CurrencyCode:   row.CurrencyCode,
				CurrencySymbol: row.CurrencySymbol,
				Rate:           rate,
				RateAvailable:  available(row.CurrencyCode),
			})
		}
		out[i].Total = out[i].Total.Add(row.TotalAmount)
		out[i].Categories = append(out[i].Categories, CategoryShare{Category: row.Category, Amount: row.TotalAmount})
	}
	for i := range out {
		g := &out[i]
		g.Converted, _ = toReportCurrency(g.Total, g.CurrencyCode, reportCurrency, frozen)
		for j := range g.Categories {
			if g.Total.IsPositive() {
				g.Categories[j].Percentage = g.Categories[j].Amount.Div(g.Total).Mul(hundred).Round(2)
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Converted.GreaterThan(out[b].Converted)
	})
	return out
}
