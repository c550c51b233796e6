// Package rates answers "1 unit of A is how many units of B". Manual
// overrides always win; remote tables are cached in memory and in the store
// for a fixed freshness window.
package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"ledgerbook/internal/cache"
	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
)

const (
	DefaultTTL = time.Hour

	availabilityTimeout = 5 * time.Second
	sharedFetchTimeout  = 30 * time.Second
	maxCachedBases      = 64
)

var one = decimal.NewFromInt(1)

// Source tells where a rate came from.
type Source string

const (
	SourceIdentity      Source = "identity"
	SourceManual        Source = "manual"
	SourceManualInverse Source = "manual-inverse"
	SourceRemote        Source = "remote"
	SourceRemoteInverse Source = "remote-inverse"
	SourceFallback      Source = "fallback"
)

// Rate is a resolved conversion factor. Known is false only for the
// fallback, whose Value is 1.
type Rate struct {
	Value  decimal.Decimal `json:"value"`
	Source Source          `json:"source"`
	Known  bool            `json:"known"`
}

// Conversion is the result of Convert. When Converted is false Amount is
// the input amount, unchanged.
type Conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	Rate      Rate            `json:"rate"`
	Converted bool            `json:"converted"`
}

// Total is the sum of a heterogeneous balance list in one currency.
// Unconverted lists the currencies that were added at face value.
type Total struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Unconverted []string        `json:"unconverted,omitempty"`
}

// Complete reports whether every entry was converted.
func (t Total) Complete() bool {
	return len(t.Unconverted) == 0
}

// Resolver owns the rate cache for one process.
type Resolver struct {
	feed   Feed
	manual ManualRates
	tables TableStore
	cache  *cache.LRUCache[core.RateTable]
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	logger *log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithTableStore enables the persisted cache.
func WithTableStore(s TableStore) Option {
	return func(r *Resolver) { r.tables = s }
}

func NewResolver(feed Feed, manual ManualRates, logger *log.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	r := &Resolver{
		feed:   feed,
		manual: manual,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentRates),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.NewLRUCacheWithClock[core.RateTable](maxCachedBases, r.ttl, r.now)
	return r
}

func (r *Resolver) fresh(t core.RateTable) bool {
	return r.now().Sub(t.FetchedAt) < r.ttl
}

// GetRates returns the rate table for base. A fresh memory entry wins, then
// a fresh persisted one, then a remote fetch. When the fetch fails a stale
// entry is returned instead; only with no entry at all is the FetchError
// propagated.
func (r *Resolver) GetRates(ctx context.Context, base string) (core.RateTable, error) {
	base = core.NormalizeCurrency(base)

	if t, ok := r.cache.Get(base); ok {
		return t.Clone(), nil
	}

	persisted, havePersisted := r.loadPersisted(ctx, base)
	if havePersisted && r.fresh(persisted) {
		r.cache.SetWithExpiry(base, persisted, persisted.FetchedAt.Add(r.ttl))
		return persisted.Clone(), nil
	}

	// Concurrent callers share one fetch, so it runs detached from any
	// single caller's cancellation. Each caller still stops waiting when its
	// own context ends.
	ch := r.group.DoChan(base, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return r.fetch(fctx, base)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return core.RateTable{}, ctx.Err()
	}
	err := res.Err
	if err == nil {
		return res.Val.(core.RateTable).Clone(), nil
	}

	if stale, _, ok := r.cache.GetStale(base); ok {
		r.logger.WarnContext(ctx, "Rate fetch failed, using stale cached table",
			log.FieldBase, base, "fetched_at", stale.FetchedAt, log.FieldError, err)
		return stale.Clone(), nil
	}
	if havePersisted {
		r.logger.WarnContext(ctx, "Rate fetch failed, using stale persisted table",
			log.FieldBase, base, "fetched_at", persisted.FetchedAt, log.FieldError, err)
		r.cache.SetWithExpiry(base, persisted, persisted.FetchedAt.Add(r.ttl))
		return persisted.Clone(), nil
	}
	return core.RateTable{}, err
}

func (r *Resolver) loadPersisted(ctx context.Context, base string) (core.RateTable, bool) {
	if r.tables == nil {
		return core.RateTable{}, false
	}
	t, err := r.tables.LoadRateTable(ctx, base)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			r.logger.WarnContext(ctx, "Failed to load persisted rate table", log.FieldBase, base, log.FieldError, err)
		}
		return core.RateTable{}, false
	}
	return t, true
}

func (r *Resolver) fetch(ctx context.Context, base string) (core.RateTable, error) {
	t, err := r.feed.FetchRates(ctx, base)
	if err != nil {
		var fe *core.FetchError
		if !errors.As(err, &fe) {
			err = &core.FetchError{Base: base, Err: err}
		}
		return core.RateTable{}, err
	}
	t.Base = base
	if t.FetchedAt.IsZero() {
		t.FetchedAt = r.now()
	}
	if err := r.mergeManual(ctx, &t); err != nil {
		r.logger.WarnContext(ctx, "Manual rates not merged", log.FieldBase, base, log.FieldError, err)
	}

	r.cache.SetWithExpiry(base, t, t.FetchedAt.Add(r.ttl))
	if r.tables != nil {
		if err := r.tables.SaveRateTable(ctx, t); err != nil {
			r.logger.WarnContext(ctx, "Failed to persist rate table", log.FieldBase, base, log.FieldError, err)
		}
	}
	return t, nil
}

// mergeManual overlays manual overrides onto a freshly fetched table:
// rows from base set the target directly, rows into base are inverted.
func (r *Resolver) mergeManual(ctx context.Context, t *core.RateTable) error {
	if r.manual == nil {
		return nil
	}
	rows, err := r.manual.ListManualRates(ctx)
	if err != nil {
		return fmt.Errorf("list manual rates: %w", err)
	}
	if t.Rates == nil {
		t.Rates = make(map[string]decimal.Decimal)
	}
	for _, m := range rows {
		if !m.Rate.IsPositive() {
			continue
		}
		switch {
		case m.FromCurrency == t.Base:
			t.Rates[m.ToCurrency] = m.Rate
		case m.ToCurrency == t.Base:
			t.Rates[m.FromCurrency] = m.Inverse()
		}
	}
	return nil
}

func (r *Resolver) manualRate(ctx context.Context, from, to string) (core.ManualExchangeRate, bool) {
	if r.manual == nil {
		return core.ManualExchangeRate{}, false
	}
	m, err := r.manual.GetManualRate(ctx, from, to)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			r.logger.WarnContext(ctx, "Manual rate lookup failed",
				log.FieldFromCurrency, from, log.FieldToCurrency, to, log.FieldError, err)
		}
		return core.ManualExchangeRate{}, false
	}
	if !m.Rate.IsPositive() {
		return core.ManualExchangeRate{}, false
	}
	now := r.now()
	r.logger.DebugContext(ctx, "Manual rate applied",
		log.FieldFromCurrency, m.FromCurrency, log.FieldToCurrency, m.ToCurrency,
		"age", m.Age(now).Round(time.Minute).String(), "current", m.IsCurrent(now))
	return m, true
}

// GetRate resolves 1 from = ? to. It never fails: when nothing is known the
// result is the fallback rate 1 with Known set to false.
func (r *Resolver) GetRate(ctx context.Context, from, to string) Rate {
	from, to = core.NormalizeCurrency(from), core.NormalizeCurrency(to)
	if from == to {
		return Rate{Value: one, Source: SourceIdentity, Known: true}
	}

	if m, ok := r.manualRate(ctx, from, to); ok {
		return Rate{Value: m.Rate, Source: SourceManual, Known: true}
	}
	if m, ok := r.manualRate(ctx, to, from); ok {
		return Rate{Value: m.Inverse(), Source: SourceManualInverse, Known: true}
	}

	if t, err := r.GetRates(ctx, from); err == nil {
		if v, ok := t.Lookup(to); ok {
			return Rate{Value: v, Source: SourceRemote, Known: true}
		}
	} else {
		r.logger.WarnContext(ctx, "Rates unavailable", log.FieldBase, from, log.FieldError, err)
	}

	if t, err := r.GetRates(ctx, to); err == nil {
		if v, ok := t.Lookup(from); ok {
			return Rate{Value: one.Div(v), Source: SourceRemoteInverse, Known: true}
		}
	} else {
		r.logger.WarnContext(ctx, "Rates unavailable", log.FieldBase, to, log.FieldError, err)
	}

	r.logger.WarnContext(ctx, "No rate known, falling back to parity",
		log.FieldFromCurrency, from, log.FieldToCurrency, to)
	return Rate{Value: one, Source: SourceFallback, Known: false}
}

// Convert multiplies amount by the from→to rate. Unknown rates leave the
// amount unchanged and mark the result as not converted.
func (r *Resolver) Convert(ctx context.Context, amount decimal.Decimal, from, to string) Conversion {
	rate := r.GetRate(ctx, from, to)
	if !rate.Known {
		return Conversion{Amount: amount, Rate: rate, Converted: false}
	}
	return Conversion{Amount: amount.Mul(rate.Value), Rate: rate, Converted: true}
}

// ConvertBalances sums balances into target, one entry at a time so later
// entries reuse tables cached by earlier ones.
func (r *Resolver) ConvertBalances(ctx context.Context, balances []core.CurrencyBalance, target string) Total {
	target = core.NormalizeCurrency(target)
	total := Total{Amount: decimal.Zero, Currency: target}
	seen := map[string]bool{}
	for _, b := range balances {
		c := r.Convert(ctx, b.Amount, b.Currency, target)
		total.Amount = total.Amount.Add(c.Amount)
		code := core.NormalizeCurrency(b.Currency)
		if !c.Converted && !seen[code] {
			seen[code] = true
			total.Unconverted = append(total.Unconverted, code)
		}
	}
	return total
}

// ForceRefresh drops both cached copies for base and fetches again.
func (r *Resolver) ForceRefresh(ctx context.Context, base string) (core.RateTable, error) {
	base = core.NormalizeCurrency(base)
	r.cache.Delete(base)
	if r.tables != nil {
		if err := r.tables.DeleteRateTable(ctx, base); err != nil {
			return core.RateTable{}, core.Persist("delete rate table", err)
		}
	}
	r.logger.InfoContext(ctx, "Rate cache cleared", log.FieldBase, base, log.FieldOperation, log.OpRefresh)
	return r.GetRates(ctx, base)
}

// CacheAge reports how old the cached table for base is, if any.
func (r *Resolver) CacheAge(ctx context.Context, base string) (time.Duration, bool) {
	base = core.NormalizeCurrency(base)
	if t, _, ok := r.cache.GetStale(base); ok {
		return r.now().Sub(t.FetchedAt), true
	}
	if t, ok := r.loadPersisted(ctx, base); ok {
		return r.now().Sub(t.FetchedAt), true
	}
	return 0, false
}

// Available probes the remote feed with a short timeout.
func (r *Resolver) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	_, err := r.feed.FetchRates(ctx, "USD")
	return err == nil
}

// CleanExpired drops expired in-memory tables. Persisted copies remain and
// still serve as the stale fallback.
func (r *Resolver) CleanExpired() int {
	return r.cache.CleanExpired()
}
