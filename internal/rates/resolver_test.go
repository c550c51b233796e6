package rates_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeFeed struct {
	mu     sync.Mutex
	tables map[string]map[string]string
	fail   bool
	calls  atomic.Int32
	before func()
	now    func() time.Time

	// started and release, when set, hold the fetch until release closes
	// or ctx ends.
	started chan struct{}
	release chan struct{}
}

func (f *fakeFeed) FetchRates(ctx context.Context, base string) (core.RateTable, error) {
	f.calls.Add(1)
	if f.before != nil {
		f.before()
	}
	if f.release != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return core.RateTable{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.tables[base]
	if f.fail || !ok {
		return core.RateTable{}, &core.FetchError{Base: base, StatusCode: 404, Err: errors.New("no table")}
	}
	t := core.RateTable{Base: base, Rates: map[string]decimal.Decimal{}, FetchedAt: f.now()}
	for k, v := range raw {
		t.Rates[k] = dec(v)
	}
	return t, nil
}

func (f *fakeFeed) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type fixture struct {
	clock    *clock
	feed     *fakeFeed
	store    *memory.Store
	resolver *rates.Resolver
}

func newFixture(t *testing.T, tables map[string]map[string]string) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{tables: tables, now: c.Now}
	store := memory.New(memory.DefaultCurrencies(), memory.DefaultCategories(), memory.WithClock(c.Now))
	r := rates.NewResolver(feed, store, nil, rates.WithClock(c.Now), rates.WithTableStore(store))
	return &fixture{clock: c, feed: feed, store: store, resolver: r}
}

func (f *fixture) manual(t *testing.T, from, to, rate string) {
	t.Helper()
	_, err := f.store.UpsertManualRate(context.Background(), core.ManualExchangeRate{
		FromCurrency: from, ToCurrency: to, Rate: dec(rate),
	})
	require.NoError(t, err)
}

func TestGetRateIdentityBypassesEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, "USD", "EUR", "0.9")

	r := f.resolver.GetRate(context.Background(), "xau", "XAU")
	assert.True(t, r.Value.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, rates.SourceIdentity, r.Source)
	assert.True(t, r.Known)
	assert.Zero(t, f.feed.calls.Load())
}

func TestGetRateManualBeatsRemote(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"BTC": "0.0000199"}})
	f.manual(t, "USD", "BTC", "0.00002")

	r := f.resolver.GetRate(context.Background(), "USD", "BTC")
	assert.Equal(t, "0.00002", r.Value.String())
	assert.Equal(t, rates.SourceManual, r.Source)
	assert.Zero(t, f.feed.calls.Load(), "manual rate must not touch the feed")
}

func TestGetRateInvertsManual(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, "BTC", "USD", "50000")

	r := f.resolver.GetRate(context.Background(), "USD", "BTC")
	assert.Equal(t, "0.00002", r.Value.String())
	assert.Equal(t, rates.SourceManualInverse, r.Source)
}

func TestGetRateAcceptsRemoteParity(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"USDT": "1"}})

	r := f.resolver.GetRate(context.Background(), "USD", "USDT")
	assert.True(t, r.Known)
	assert.Equal(t, rates.SourceRemote, r.Source)
	assert.True(t, r.Value.Equal(decimal.NewFromInt(1)))
}

func TestGetRateRemoteInverse(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"EUR": {"GBP": "0.85"}})

	r := f.resolver.GetRate(context.Background(), "GBP", "EUR")
	assert.Equal(t, rates.SourceRemoteInverse, r.Source)
	assert.True(t, r.Value.Equal(decimal.NewFromInt(1).Div(dec("0.85"))))
}

func TestGetRateFallback(t *testing.T) {
	f := newFixture(t, nil)

	r := f.resolver.GetRate(context.Background(), "USD", "XAU")
	assert.False(t, r.Known)
	assert.Equal(t, rates.SourceFallback, r.Source)
	assert.True(t, r.Value.Equal(decimal.NewFromInt(1)))
}

func TestGetRatesMergesManualRates(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.92", "JPY": "149", "GBP": "0.79"}})
	f.manual(t, "USD", "JPY", "150")
	f.manual(t, "EUR", "USD", "1.25")
	f.manual(t, "GBP", "CHF", "1.1")

	table, err := f.resolver.GetRates(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, "150", table.Rates["JPY"].String())
	assert.Equal(t, "0.8", table.Rates["EUR"].String())
	assert.Equal(t, "0.79", table.Rates["GBP"].String())
	_, hasCHF := table.Rates["CHF"]
	assert.False(t, hasCHF)
}

func TestGetRatesFreshnessWindow(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	ctx := context.Background()

	_, err := f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	f.clock.Advance(59 * time.Minute)
	_, err = f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.feed.calls.Load())

	f.clock.Advance(2 * time.Minute)
	_, err = f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.feed.calls.Load())
}

func TestGetRatesAdoptsPersistedTable(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	ctx := context.Background()
	require.NoError(t, f.store.SaveRateTable(ctx, core.RateTable{
		Base:      "USD",
		Rates:     map[string]decimal.Decimal{"EUR": dec("0.95")},
		FetchedAt: f.clock.Now().Add(-30 * time.Minute),
	}))

	table, err := f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.95", table.Rates["EUR"].String())
	assert.Zero(t, f.feed.calls.Load())

	age, ok := f.resolver.CacheAge(ctx, "USD")
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, age)

	// The adopted entry keeps its original fetch time.
	f.clock.Advance(31 * time.Minute)
	table, err = f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.9", table.Rates["EUR"].String())
	assert.EqualValues(t, 1, f.feed.calls.Load())
}

func TestGetRatesStaleFallback(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	ctx := context.Background()

	_, err := f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	f.feed.setFail(true)
	table, err := f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.9", table.Rates["EUR"].String())
	assert.EqualValues(t, 2, f.feed.calls.Load())
}

func TestGetRatesStaleFallbackFromPersistedOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SaveRateTable(ctx, core.RateTable{
		Base:      "EUR",
		Rates:     map[string]decimal.Decimal{"USD": dec("1.08")},
		FetchedAt: f.clock.Now().Add(-48 * time.Hour),
	}))

	table, err := f.resolver.GetRates(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "1.08", table.Rates["USD"].String())
}

func TestGetRatesPropagatesFetchErrorWithoutCache(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.resolver.GetRates(context.Background(), "USD")
	var fe *core.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "USD", fe.Base)
}

func TestGetRatesCoalescesConcurrentFetches(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	f.feed.before = func() { time.Sleep(50 * time.Millisecond) }

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.resolver.GetRates(context.Background(), "USD")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.feed.calls.Load())
}

func TestGetRatesSharedFetchOutlivesCanceledCaller(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	f.feed.started = make(chan struct{}, 1)
	f.feed.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.resolver.GetRates(ctx, "USD")
		first <- err
	}()

	<-f.feed.started
	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(f.feed.release)
	table, err := f.resolver.GetRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.9", table.Rates["EUR"].String())
	assert.EqualValues(t, 1, f.feed.calls.Load())
}

func TestForceRefresh(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	ctx := context.Background()

	_, err := f.resolver.GetRates(ctx, "USD")
	require.NoError(t, err)

	f.feed.tables["USD"]["EUR"] = "0.91"
	table, err := f.resolver.ForceRefresh(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.91", table.Rates["EUR"].String())
	assert.EqualValues(t, 2, f.feed.calls.Load())

	persisted, err := f.store.LoadRateTable(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.91", persisted.Rates["EUR"].String())
}

func TestConvert(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	ctx := context.Background()

	c := f.resolver.Convert(ctx, dec("100"), "USD", "EUR")
	assert.True(t, c.Converted)
	assert.Equal(t, "90", c.Amount.String())

	c = f.resolver.Convert(ctx, dec("100"), "USD", "XAU")
	assert.False(t, c.Converted)
	assert.Equal(t, "100", c.Amount.String())
	assert.Equal(t, rates.SourceFallback, c.Rate.Source)
}

func TestConvertBalances(t *testing.T) {
	f := newFixture(t, nil)
	f.manual(t, "EUR", "USD", "1.1")

	total := f.resolver.ConvertBalances(context.Background(), []core.CurrencyBalance{
		{Amount: dec("100"), Currency: "USD"},
		{Amount: dec("50"), Currency: "EUR"},
		{Amount: dec("2"), Currency: "XAU"},
		{Amount: dec("1"), Currency: "xau"},
	}, "usd")

	assert.Equal(t, "USD", total.Currency)
	assert.Equal(t, "158", total.Amount.String())
	assert.Equal(t, []string{"XAU"}, total.Unconverted)
	assert.False(t, total.Complete())
}

func TestCacheAgeUnknownBase(t *testing.T) {
	f := newFixture(t, nil)
	_, ok := f.resolver.CacheAge(context.Background(), "USD")
	assert.False(t, ok)
}

func TestAvailable(t *testing.T) {
	f := newFixture(t, map[string]map[string]string{"USD": {"EUR": "0.9"}})
	assert.True(t, f.resolver.Available(context.Background()))
	f.feed.setFail(true)
	assert.False(t, f.resolver.Available(context.Background()))
}
