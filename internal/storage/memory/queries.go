package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

func (s *Store) GetAccount(_ context.Context, id int64) (a core.Account, err error) {
	s.read(func(v *view) { a, err = v.account(id) })
	return a, err
}

func (s *Store) ListAccounts(context.Context) ([]core.Account, error) {
	var out []core.Account
	s.read(func(v *view) {
		for id := range v.st.accounts {
			a, _ := v.account(id)
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AccountCurrencies(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	s.read(func(v *view) {
		for _, a := range v.st.accounts {
			code := v.st.currencies[a.CurrencyID].Code
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	})
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListCurrencies(context.Context) ([]core.Currency, error) {
	var out []core.Currency
	s.read(func(v *view) {
		for _, c := range v.st.currencies {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateCurrency(_ context.Context, c core.Currency) (core.Currency, error) {
	c.Code = core.NormalizeCurrency(c.Code)
	if err := c.Validate(); err != nil {
		return core.Currency{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.currencies {
		if existing.Code == c.Code {
			return core.Currency{}, fmt.Errorf("currency %s already exists", c.Code)
		}
	}
	c.ID = s.st.id()
	s.st.currencies[c.ID] = c
	return c, nil
}

func (s *Store) ListCategories(context.Context) ([]core.Category, error) {
	var out []core.Category
	s.read(func(v *view) {
		for _, c := range v.st.categories {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.st.id()
	s.st.categories[c.ID] = c
	return c, nil
}

// UpdateCurrency renames a currency. Its code may change only while no
// account uses it.
func (s *Store) UpdateCurrency(_ context.Context, c core.Currency) (core.Currency, error) {
	c.Code = core.NormalizeCurrency(c.Code)
	if err := c.Validate(); err != nil {
		return core.Currency{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.st.currencies[c.ID]
	if !ok {
		return core.Currency{}, notFound("currency", c.ID)
	}
	if old.Code != c.Code {
		for id, existing := range s.st.currencies {
			if id != c.ID && existing.Code == c.Code {
				return core.Currency{}, fmt.Errorf("currency %s already exists", c.Code)
			}
		}
		if n := s.st.accountsUsing(c.ID); n > 0 {
			return core.Currency{}, fmt.Errorf("currency %d is used by %d row(s): %w", c.ID, n, core.ErrInUse)
		}
	}
	s.st.currencies[c.ID] = c
	return c, nil
}

func (s *Store) DeleteCurrency(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.currencies[id]; !ok {
		return notFound("currency", id)
	}
	if n := s.st.accountsUsing(id); n > 0 {
		return fmt.Errorf("currency %d is used by %d row(s): %w", id, n, core.ErrInUse)
	}
	delete(s.st.currencies, id)
	return nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.categories[c.ID]; !ok {
		return core.Category{}, notFound("category", c.ID)
	}
	s.st.categories[c.ID] = c
	return c, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.categories[id]; !ok {
		return notFound("category", id)
	}
	n := 0
	for _, t := range s.st.transactions {
		if t.CategoryID == id {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("category %d is used by %d row(s): %w", id, n, core.ErrInUse)
	}
	delete(s.st.categories, id)
	return nil
}

func (s *state) accountsUsing(currencyID int64) int {
	n := 0
	for _, a := range s.accounts {
		if a.CurrencyID == currencyID {
			n++
		}
	}
	return n
}

func inRange(d, start, end core.Date) bool {
	if !start.IsZero() && d.Before(start.Time) {
		return false
	}
	if !end.IsZero() && d.After(end.Time) {
		return false
	}
	return true
}

func (s *Store) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.TransactionDetail, error) {
	var out []core.TransactionDetail
	s.read(func(v *view) {
		for _, t := range v.st.transactions {
			if !inRange(t.Date, f.Start, f.End) {
				continue
			}
			if f.AccountID > 0 && t.AccountID != f.AccountID {
				continue
			}
			if f.Type != "" && t.Type != f.Type {
				continue
			}
			a, _ := v.account(t.AccountID)
			cat := v.st.categories[t.CategoryID]
			out = append(out, core.TransactionDetail{
				Transaction:    t,
				AccountName:    a.Name,
				Owner:          a.Owner,
				CategoryName:   cat.Name,
				CategoryType:   cat.Type,
				CurrencyCode:   a.CurrencyCode,
				CurrencySymbol: a.CurrencySymbol,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListExchanges(context.Context) ([]core.ExchangeDetail, error) {
	var out []core.ExchangeDetail
	s.read(func(v *view) {
		for _, e := range v.st.exchanges {
			from, _ := v.account(e.FromAccountID)
			to, _ := v.account(e.ToAccountID)
			out = append(out, core.ExchangeDetail{
				Exchange:           e,
				FromAccountName:    from.Name,
				ToAccountName:      to.Name,
				FromCurrencySymbol: from.CurrencySymbol,
				ToCurrencySymbol:   to.CurrencySymbol,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListAdjustments(_ context.Context, start, end core.Date) ([]core.AdjustmentDetail, error) {
	var out []core.AdjustmentDetail
	s.read(func(v *view) {
		for _, adj := range v.st.adjustments {
			if !inRange(adj.Date, start, end) {
				continue
			}
			a, _ := v.account(adj.AccountID)
			out = append(out, core.AdjustmentDetail{
				BalanceAdjustment: adj,
				AccountName:       a.Name,
				CurrencyCode:      a.CurrencyCode,
				CurrencySymbol:    a.CurrencySymbol,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListManualRates(context.Context) ([]core.ManualExchangeRate, error) {
	var out []core.ManualExchangeRate
	s.read(func(v *view) {
		for _, r := range v.st.manualRates {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromCurrency != out[j].FromCurrency {
			return out[i].FromCurrency < out[j].FromCurrency
		}
		return out[i].ToCurrency < out[j].ToCurrency
	})
	return out, nil
}

func (s *Store) GetManualRate(_ context.Context, from, to string) (core.ManualExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.st.manualRates {
		if r.FromCurrency == from && r.ToCurrency == to {
			return r, nil
		}
	}
	return core.ManualExchangeRate{}, notFound("manual rate", from+"/"+to)
}

func (s *Store) UpsertManualRate(_ context.Context, r core.ManualExchangeRate) (core.ManualExchangeRate, error) {
	r.FromCurrency = core.NormalizeCurrency(r.FromCurrency)
	r.ToCurrency = core.NormalizeCurrency(r.ToCurrency)
	if err := r.Validate(); err != nil {
		return core.ManualExchangeRate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.UpdatedAt = s.now()
	for id, existing := range s.st.manualRates {
		if existing.FromCurrency == r.FromCurrency && existing.ToCurrency == r.ToCurrency {
			r.ID = id
			s.st.manualRates[id] = r
			return r, nil
		}
	}
	r.ID = s.st.id()
	s.st.manualRates[r.ID] = r
	return r, nil
}

func (s *Store) UpdateManualRate(_ context.Context, id int64, rate decimal.Decimal, description string) error {
	if !rate.IsPositive() {
		return core.ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.manualRates[id]
	if !ok {
		return notFound("manual rate", id)
	}
	r.Rate = rate
	r.Description = description
	r.UpdatedAt = s.now()
	s.st.manualRates[id] = r
	return nil
}

func (s *Store) DeleteManualRate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.manualRates[id]; !ok {
		return notFound("manual rate", id)
	}
	delete(s.st.manualRates, id)
	return nil
}

func (s *Store) LoadRateTable(_ context.Context, base string) (core.RateTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.rateTables[base]
	if !ok {
		return core.RateTable{}, notFound("rate table", base)
	}
	return t.Clone(), nil
}

func (s *Store) SaveRateTable(_ context.Context, t core.RateTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.rateTables[t.Base] = t.Clone()
	return nil
}

func (s *Store) DeleteRateTable(_ context.Context, base string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.rateTables, base)
	return nil
}

func (s *Store) InsertReport(_ context.Context, r core.MonthlyReport) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.st.id()
	// Raw JSON is copied so callers cannot mutate the stored snapshot.
	r.ExchangeRates = append([]byte(nil), r.ExchangeRates...)
	r.ReportData = append([]byte(nil), r.ReportData...)
	s.st.reports[r.ID] = r
	return r.ID, nil
}

func (s *Store) GetReport(_ context.Context, id int64) (core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.reports[id]
	if !ok {
		return core.MonthlyReport{}, notFound("report", id)
	}
	return r, nil
}

func (s *Store) FindReport(_ context.Context, start, end core.Date, currency string) (core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found core.MonthlyReport
		ok    bool
	)
	for _, r := range s.st.reports {
		if r.PeriodStart.Equal(start.Time) && r.PeriodEnd.Equal(end.Time) && r.Currency == currency {
			if !ok || r.ID > found.ID {
				found, ok = r, true
			}
		}
	}
	if !ok {
		return core.MonthlyReport{}, notFound("report", start.String()+".."+end.String())
	}
	return found, nil
}

func (s *Store) ListReports(context.Context) ([]core.MonthlyReport, error) {
	s.mu.Lock()
	out := make([]core.MonthlyReport, 0, len(s.st.reports))
	for _, r := range s.st.reports {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart.Time) {
			return out[i].PeriodStart.After(out[j].PeriodStart.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteReport(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.reports[id]; !ok {
		return notFound("report", id)
	}
	delete(s.st.reports, id)
	return nil
}
