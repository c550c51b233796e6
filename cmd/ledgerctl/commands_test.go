package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/config"
	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/log"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/report"
	"ledgerbook/internal/storage/memory"
)

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

type downFeed struct{}

func (downFeed) FetchRates(_ context.Context, base string) (core.RateTable, error) {
	return core.RateTable{}, &core.FetchError{Base: base, Err: errors.New("offline")}
}

type env struct {
	ctx      context.Context
	g        *Globals
	store    *memory.Store
	accounts map[string]int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return testNow }
	logger := log.New(log.Config{Output: io.Discard})
	store := memory.New(memory.DefaultCurrencies(), memory.DefaultCategories(), memory.WithClock(clock))
	resolver := rates.NewResolver(downFeed{}, store, logger, rates.WithClock(clock), rates.WithTableStore(store))
	engine := ledger.NewEngine(store, logger)

	e := &env{
		ctx:   ctx,
		store: store,
		g: &Globals{app: &app{
			cfg:     &config.Config{DefaultReportCurrency: "USD", RateRefreshBases: []string{"USD"}},
			logger:  logger,
			store:   store,
			engine:  engine,
			rates:   resolver,
			reports: report.NewSnapshotter(store, resolver, logger, report.WithClock(clock)),
		}},
		accounts: map[string]int64{},
	}

	currencies, err := store.ListCurrencies(ctx)
	require.NoError(t, err)
	for _, c := range currencies {
		if c.Code != "USD" && c.Code != "EUR" {
			continue
		}
		a, err := engine.CreateAccount(ctx, core.Account{Name: c.Code, CurrencyID: c.ID, OpeningBalance: decimal.NewFromInt(100)})
		require.NoError(t, err)
		e.accounts[c.Code] = a.ID
	}
	return e
}

func (e *env) corrupt(t *testing.T, code string) {
	t.Helper()
	require.NoError(t, e.store.WithTx(e.ctx, func(tx ledger.Tx) error {
		return tx.SetAccountBalance(e.ctx, e.accounts[code], decimal.NewFromInt(999))
	}))
}

func TestCheckCmd(t *testing.T) {
	e := newEnv(t)

	var out bytes.Buffer
	require.NoError(t, (&CheckCmd{}).run(e.ctx, &out, e.g))
	assert.NotContains(t, out.String(), "drift")

	e.corrupt(t, "EUR")
	out.Reset()
	err := (&CheckCmd{}).run(e.ctx, &out, e.g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 account(s) out of sync")
	assert.Contains(t, out.String(), "drift")

	out.Reset()
	require.NoError(t, (&CheckCmd{Account: e.accounts["EUR"], Fix: true}).run(e.ctx, &out, e.g))
	assert.Contains(t, out.String(), "repaired")

	out.Reset()
	require.NoError(t, (&CheckCmd{}).run(e.ctx, &out, e.g))
	assert.NotContains(t, out.String(), "drift")
}

func TestCheckCmdUnknownAccount(t *testing.T) {
	e := newEnv(t)
	err := (&CheckCmd{Account: 4242}).run(e.ctx, io.Discard, e.g)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRateAndConvertCmd(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.UpsertManualRate(e.ctx, core.ManualExchangeRate{
		FromCurrency: "EUR", ToCurrency: "USD", Rate: decimal.RequireFromString("1.1"),
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&RateCmd{From: "eur", To: "usd"}).run(e.ctx, &out, e.g))
	assert.Equal(t, "1 EUR = 1.1 USD (manual)\n", out.String())

	out.Reset()
	require.NoError(t, (&ConvertCmd{Amount: "20", From: "EUR", To: "USD"}).run(e.ctx, &out, e.g))
	assert.Contains(t, out.String(), "= 22.00 USD")

	assert.Error(t, (&RateCmd{From: "USD", To: "GBP"}).run(e.ctx, io.Discard, e.g))
	assert.Error(t, (&ConvertCmd{Amount: "ten", From: "EUR", To: "USD"}).run(e.ctx, io.Discard, e.g))
}

func TestRefreshCmdReportsFeedFailure(t *testing.T) {
	e := newEnv(t)
	err := (&RefreshCmd{}).run(e.ctx, io.Discard, e.g)
	var fetchErr *core.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestReportCommands(t *testing.T) {
	e := newEnv(t)

	var out bytes.Buffer
	require.NoError(t, (&ReportGenerateCmd{}).run(e.ctx, &out, e.g, testNow))
	assert.Contains(t, out.String(), "2024-02-01 - 2024-02-29")

	out.Reset()
	require.NoError(t, (&ReportListCmd{}).run(e.ctx, &out, e.g))
	assert.Contains(t, out.String(), "2024-02-01..2024-02-29")

	reports, err := e.g.app.reports.List(e.ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	out.Reset()
	require.NoError(t, (&ReportShowCmd{ID: reports[0].ID}).run(e.ctx, &out, e.g))
	assert.Contains(t, out.String(), "Net:     0.00")

	err = (&ReportGenerateCmd{Start: "2024-03-31", End: "2024-03-01"}).run(e.ctx, io.Discard, e.g, testNow)
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)

	err = (&ReportGenerateCmd{Start: "March"}).run(e.ctx, io.Discard, e.g, testNow)
	assert.Error(t, err)
}
