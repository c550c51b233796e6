package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateTable is a full rate table for one base currency:
// 1 Base = Rates[code] code.
type RateTable struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

// Lookup returns the rate for code and whether the table knows it.
func (t RateTable) Lookup(code string) (decimal.Decimal, bool) {
	if t.Rates == nil {
		return decimal.Zero, false
	}
	r, ok := t.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// Clone returns a deep copy safe to mutate.
func (t RateTable) Clone() RateTable {
	out := RateTable{Base: t.Base, FetchedAt: t.FetchedAt, Rates: make(map[string]decimal.Decimal, len(t.Rates))}
	for k, v := range t.Rates {
		out.Rates[k] = v
	}
	return out
}
