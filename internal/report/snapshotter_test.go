package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/report"
	"ledgerbook/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type offlineFeed struct{}

func (offlineFeed) FetchRates(_ context.Context, base string) (core.RateTable, error) {
	return core.RateTable{}, &core.FetchError{Base: base, Err: errors.New("offline")}
}

type recordingPublisher struct {
	ids []int64
	err error
}

func (p *recordingPublisher) PublishReportGenerated(_ context.Context, id int64) error {
	p.ids = append(p.ids, id)
	return p.err
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	engine     *ledger.Engine
	snap       *report.Snapshotter
	publisher  *recordingPublisher
	currencies map[string]int64
	categories map[string]int64
	accounts   map[string]int64
}

var now = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return now }
	store := memory.New(memory.DefaultCurrencies(), memory.DefaultCategories(), memory.WithClock(clock))
	resolver := rates.NewResolver(offlineFeed{}, store, nil, rates.WithClock(clock), rates.WithTableStore(store))
	pub := &recordingPublisher{}
	f := &fixture{
		ctx:        ctx,
		store:      store,
		engine:     ledger.NewEngine(store, nil),
		snap:       report.NewSnapshotter(store, resolver, nil, report.WithClock(clock), report.WithPublisher(pub)),
		publisher:  pub,
		currencies: map[string]int64{},
		categories: map[string]int64{},
		accounts:   map[string]int64{},
	}

	curs, err := store.ListCurrencies(ctx)
	require.NoError(t, err)
	for _, c := range curs {
		f.currencies[c.Code] = c.ID
	}
	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	for _, c := range cats {
		f.categories[c.Name] = c.ID
	}
	for _, code := range []string{"USD", "EUR", "GBP"} {
		a, err := f.engine.CreateAccount(ctx, core.Account{Name: code + " account", CurrencyID: f.currencies[code]})
		require.NoError(t, err)
		f.accounts[code] = a.ID
	}
	return f
}

func (f *fixture) record(t *testing.T, account, category string, typ core.TransactionType, amount string, date core.Date) {
	t.Helper()
	_, err := f.engine.RecordTransaction(f.ctx, core.Transaction{
		AccountID:  f.accounts[account],
		CategoryID: f.categories[category],
		Amount:     dec(amount),
		Type:       typ,
		Date:       date,
	})
	require.NoError(t, err)
}

func (f *fixture) manual(t *testing.T, from, to, rate string) {
	t.Helper()
	_, err := f.store.UpsertManualRate(f.ctx, core.ManualExchangeRate{FromCurrency: from, ToCurrency: to, Rate: dec(rate)})
	require.NoError(t, err)
}

// february books 100 EUR income, 50 USD and 5 GBP expenses, plus one
// March income that must stay out of the report.
func (f *fixture) february(t *testing.T) {
	t.Helper()
	f.record(t, "EUR", "Salary", core.Income, "100", core.NewDate(2024, 2, 10))
	f.record(t, "USD", "Groceries", core.Expense, "30", core.NewDate(2024, 2, 15))
	f.record(t, "USD", "Housing", core.Expense, "20", core.NewDate(2024, 2, 1))
	f.record(t, "GBP", "Groceries", core.Expense, "5", core.NewDate(2024, 2, 29))
	f.record(t, "USD", "Salary", core.Income, "1000", core.NewDate(2024, 3, 5))
	f.manual(t, "USD", "EUR", "0.9")
}

func feb() report.Request {
	return report.Request{PeriodStart: core.NewDate(2024, 2, 1), PeriodEnd: core.NewDate(2024, 2, 29), Currency: "usd"}
}

func TestGenerateConvertsByDividingFrozenRates(t *testing.T) {
	f := newFixture(t)
	f.february(t)

	r, err := f.snap.Generate(f.ctx, feb())
	require.NoError(t, err)

	assert.Equal(t, "2024-02-01 - 2024-02-29", r.Name)
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, "111.11", r.TotalIncome.StringFixed(2))
	assert.Equal(t, "55", r.TotalExpense.String())
	assert.Equal(t, "56.11", r.NetChange.StringFixed(2))
	assert.Equal(t, now, r.CreatedAt)

	assert.JSONEq(t, `{"EUR":0.9,"GBP":1,"USD":1}`, string(r.ExchangeRates))
	assert.NotContains(t, string(r.ExchangeRates), `"0.9"`)

	frozen, err := r.Rates()
	require.NoError(t, err)
	assert.Len(t, frozen, 3)
	assert.Equal(t, "1", frozen["USD"].String())
	assert.Equal(t, "0.9", frozen["EUR"].String())
	assert.Equal(t, "1", frozen["GBP"].String())

	data, err := r.Data()
	require.NoError(t, err)
	assert.Len(t, data.Transactions, 4)
	assert.Equal(t, []string{"GBP"}, data.UnresolvedCurrencies)
	assert.ElementsMatch(t, []string{"EUR", "GBP", "USD"}, data.AccountCurrencies)
	require.Len(t, data.ExpensesByCurrency, 2)
	assert.Equal(t, "USD", data.ExpensesByCurrency[0].CurrencyCode)

	assert.Equal(t, []int64{r.ID}, f.publisher.ids)
}

func TestGeneratedReportIsFrozen(t *testing.T) {
	f := newFixture(t)
	f.february(t)

	r, err := f.snap.Generate(f.ctx, feb())
	require.NoError(t, err)

	f.manual(t, "USD", "EUR", "0.5")
	f.manual(t, "USD", "GBP", "0.8")
	f.record(t, "EUR", "Salary", core.Income, "900", core.NewDate(2024, 2, 11))

	v, err := f.snap.View(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, v.Report.TotalIncome.Equal(r.TotalIncome))
	assert.True(t, v.Report.NetChange.Equal(r.NetChange))
	assert.Equal(t, "0.9", v.Rates["EUR"].String())
	assert.Equal(t, "1", v.Rates["GBP"].String())

	require.Len(t, v.Income, 1)
	assert.Equal(t, "111.11", v.Income[0].Converted.StringFixed(2))
	assert.True(t, v.Income[0].RateAvailable)
}

func TestViewGroupsExpensesByCurrency(t *testing.T) {
	f := newFixture(t)
	f.february(t)

	r, err := f.snap.Generate(f.ctx, feb())
	require.NoError(t, err)
	v, err := report.Render(r)
	require.NoError(t, err)

	require.Len(t, v.ExpenseGroups, 2)
	usd := v.ExpenseGroups[0]
	assert.Equal(t, "USD", usd.CurrencyCode)
	assert.Equal(t, "50", usd.Converted.String())
	assert.True(t, usd.RateAvailable)
	require.Len(t, usd.Categories, 2)
	assert.Equal(t, "Groceries", usd.Categories[0].Category)
	assert.Equal(t, "60", usd.Categories[0].Percentage.String())
	assert.Equal(t, "40", usd.Categories[1].Percentage.String())

	gbp := v.ExpenseGroups[1]
	assert.Equal(t, "GBP", gbp.CurrencyCode)
	assert.False(t, gbp.RateAvailable)
	assert.Equal(t, "5", gbp.Converted.String())
}

func TestGenerateRejectsInvertedPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.snap.Generate(f.ctx, report.Request{
		PeriodStart: core.NewDate(2024, 3, 1),
		PeriodEnd:   core.NewDate(2024, 2, 1),
		Currency:    "USD",
	})
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
	assert.True(t, core.IsValidation(err))

	reports, err := f.snap.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestGenerateKeepsGivenName(t *testing.T) {
	f := newFixture(t)
	req := feb()
	req.Name = "February"
	r, err := f.snap.Generate(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "February", r.Name)
	assert.True(t, r.TotalIncome.IsZero())
}

func TestPublishFailureDoesNotFailGeneration(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	r, err := f.snap.Generate(f.ctx, feb())
	require.NoError(t, err)

	stored, err := f.snap.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, stored.Name)
}

func TestFindAndDelete(t *testing.T) {
	f := newFixture(t)
	r, err := f.snap.Generate(f.ctx, feb())
	require.NoError(t, err)

	found, ok, err := f.snap.Find(f.ctx, core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29), "usd")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.ID, found.ID)

	_, ok, err = f.snap.Find(f.ctx, core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29), "EUR")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.snap.Delete(f.ctx, r.ID))
	assert.ErrorIs(t, f.snap.Delete(f.ctx, r.ID), core.ErrNotFound)
	_, err = f.snap.View(f.ctx, r.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		now        time.Time
		start, end string
	}{
		{time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), "2024-02-01", "2024-02-29"},
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2023-12-01", "2023-12-31"},
		{time.Date(2023, 5, 31, 23, 0, 0, 0, time.UTC), "2023-04-01", "2023-04-30"},
	}
	for _, tt := range tests {
		start, end := report.PreviousMonth(tt.now)
		if start.String() != tt.start || end.String() != tt.end {
			t.Errorf("PreviousMonth(%s) = %s..%s, want %s..%s", tt.now, start, end, tt.start, tt.end)
		}
	}
}
