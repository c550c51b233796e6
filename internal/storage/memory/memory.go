// Package memory is an in-process ledger store. It backs the "memory" data
// backend and the engine tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
)

type state struct {
	seq          int64
	nextID       int64
	currencies   map[int64]core.Currency
	categories   map[int64]core.Category
	accounts     map[int64]core.Account
	transactions map[int64]core.Transaction
	exchanges    map[int64]core.Exchange
	adjustments  map[int64]core.BalanceAdjustment
	manualRates  map[int64]core.ManualExchangeRate
	reports      map[int64]core.MonthlyReport
	rateTables   map[string]core.RateTable
}

func newState() *state {
	return &state{
		currencies:   map[int64]core.Currency{},
		categories:   map[int64]core.Category{},
		accounts:     map[int64]core.Account{},
		transactions: map[int64]core.Transaction{},
		exchanges:    map[int64]core.Exchange{},
		adjustments:  map[int64]core.BalanceAdjustment{},
		manualRates:  map[int64]core.ManualExchangeRate{},
		reports:      map[int64]core.MonthlyReport{},
		rateTables:   map[string]core.RateTable{},
	}
}

func (s *state) clone() *state {
	c := &state{seq: s.seq, nextID: s.nextID}
	c.currencies = cloneMap(s.currencies)
	c.categories = cloneMap(s.categories)
	c.accounts = cloneMap(s.accounts)
	c.transactions = cloneMap(s.transactions)
	c.exchanges = cloneMap(s.exchanges)
	c.adjustments = cloneMap(s.adjustments)
	c.manualRates = cloneMap(s.manualRates)
	c.reports = cloneMap(s.reports)
	c.rateTables = make(map[string]core.RateTable, len(s.rateTables))
	for k, v := range s.rateTables {
		c.rateTables[k] = v.Clone()
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store keeps the whole ledger in memory. WithTx works on a copy of the
// state and swaps it in only when fn succeeds.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store seeded with the given currencies and categories.
func New(currencies []core.Currency, categories []core.Category, opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range currencies {
		c.ID = s.st.id()
		s.st.currencies[c.ID] = c
	}
	for _, c := range categories {
		c.ID = s.st.id()
		s.st.categories[c.ID] = c
	}
	return s
}

// NewFromFiles seeds from seed_currencies.txt ("CODE;Name;Symbol") and
// seed_categories.txt ("type;Name") under base, falling back to defaults.
func NewFromFiles(base string, opts ...Option) *Store {
	var currencies []core.Currency
	for _, line := range readLines(filepath.Join(base, "seed_currencies.txt")) {
		parts := strings.SplitN(line, ";", 3)
		c := core.Currency{Code: core.NormalizeCurrency(parts[0])}
		if len(parts) > 1 {
			c.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			c.Symbol = strings.TrimSpace(parts[2])
		}
		if c.Validate() == nil {
			currencies = append(currencies, c)
		}
	}
	var categories []core.Category
	for _, line := range readLines(filepath.Join(base, "seed_categories.txt")) {
		parts := strings.SplitN(line, ";", 2)
		if len(parts) != 2 {
			continue
		}
		c := core.Category{Type: core.TransactionType(strings.TrimSpace(parts[0])), Name: strings.TrimSpace(parts[1])}
		if c.Validate() == nil {
			categories = append(categories, c)
		}
	}
	if len(currencies) == 0 {
		currencies = DefaultCurrencies()
	}
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	return New(currencies, categories, opts...)
}

func DefaultCurrencies() []core.Currency {
	return []core.Currency{
		{Code: "USD", Name: "US Dollar", Symbol: "$"},
		{Code: "EUR", Name: "Euro", Symbol: "€"},
		{Code: "GBP", Name: "British Pound", Symbol: "£"},
		{Code: "BTC", Name: "Bitcoin", Symbol: "₿"},
	}
}

func DefaultCategories() []core.Category {
	return []core.Category{
		{Name: "Salary", Type: core.Income},
		{Name: "Other Income", Type: core.Income},
		{Name: "Groceries", Type: core.Expense},
		{Name: "Housing", Type: core.Expense},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// WithTx runs fn against a private copy of the state.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := &view{st: s.st.clone(), now: s.now}
	if err := fn(work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

// read runs fn on the live state under the lock.
func (s *Store) read(fn func(*view)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&view{st: s.st, now: s.now})
}

// view implements ledger.Tx over one state.
type view struct {
	st  *state
	now func() time.Time
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, core.ErrNotFound)
}

func (v *view) NextSeq(context.Context) (int64, error) {
	v.st.seq++
	return v.st.seq, nil
}

func (v *view) account(id int64) (core.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return core.Account{}, notFound("account", id)
	}
	cur := v.st.currencies[a.CurrencyID]
	a.CurrencyCode, a.CurrencySymbol = cur.Code, cur.Symbol
	return a, nil
}

func (v *view) GetAccount(_ context.Context, id int64) (core.Account, error) {
	return v.account(id)
}

func (v *view) InsertAccount(_ context.Context, a core.Account) (int64, error) {
	if _, ok := v.st.currencies[a.CurrencyID]; !ok {
		return 0, notFound("currency", a.CurrencyID)
	}
	a.ID = v.st.id()
	a.CreatedAt = v.now()
	v.st.accounts[a.ID] = a
	return a.ID, nil
}

func (v *view) SetAccountBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	a, ok := v.st.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.Balance = balance
	v.st.accounts[id] = a
	return nil
}

func (v *view) UpdateAccountLabels(_ context.Context, id int64, l core.AccountLabels) error {
	a, ok := v.st.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.Name, a.Owner, a.Country, a.AssetType = l.Name, l.Owner, l.Country, l.AssetType
	v.st.accounts[id] = a
	return nil
}

func (v *view) DeleteAccount(_ context.Context, id int64) error {
	if _, ok := v.st.accounts[id]; !ok {
		return notFound("account", id)
	}
	delete(v.st.accounts, id)
	return nil
}

func (v *view) GetCurrency(_ context.Context, id int64) (core.Currency, error) {
	c, ok := v.st.currencies[id]
	if !ok {
		return core.Currency{}, notFound("currency", id)
	}
	return c, nil
}

func (v *view) GetCategory(_ context.Context, id int64) (core.Category, error) {
	c, ok := v.st.categories[id]
	if !ok {
		return core.Category{}, notFound("category", id)
	}
	return c, nil
}

func (v *view) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	t, ok := v.st.transactions[id]
	if !ok {
		return core.Transaction{}, notFound("transaction", id)
	}
	return t, nil
}

func (v *view) InsertTransaction(_ context.Context, t core.Transaction) (int64, error) {
	if _, ok := v.st.categories[t.CategoryID]; !ok {
		return 0, notFound("category", t.CategoryID)
	}
	t.ID = v.st.id()
	t.CreatedAt = v.now()
	v.st.transactions[t.ID] = t
	return t.ID, nil
}

func (v *view) UpdateTransaction(_ context.Context, t core.Transaction) error {
	old, ok := v.st.transactions[t.ID]
	if !ok {
		return notFound("transaction", t.ID)
	}
	t.CreatedAt = old.CreatedAt
	v.st.transactions[t.ID] = t
	return nil
}

func (v *view) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := v.st.transactions[id]; !ok {
		return notFound("transaction", id)
	}
	delete(v.st.transactions, id)
	return nil
}

func (v *view) AccountTransactions(_ context.Context, accountID int64) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range v.st.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (v *view) GetExchange(_ context.Context, id int64) (core.Exchange, error) {
	e, ok := v.st.exchanges[id]
	if !ok {
		return core.Exchange{}, notFound("exchange", id)
	}
	return e, nil
}

func (v *view) InsertExchange(_ context.Context, e core.Exchange) (int64, error) {
	e.ID = v.st.id()
	e.CreatedAt = v.now()
	v.st.exchanges[e.ID] = e
	return e.ID, nil
}

func (v *view) DeleteExchange(_ context.Context, id int64) error {
	if _, ok := v.st.exchanges[id]; !ok {
		return notFound("exchange", id)
	}
	delete(v.st.exchanges, id)
	return nil
}

func (v *view) AccountExchanges(_ context.Context, accountID int64) ([]core.Exchange, error) {
	var out []core.Exchange
	for _, e := range v.st.exchanges {
		if e.FromAccountID == accountID || e.ToAccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (v *view) GetAdjustment(_ context.Context, id int64) (core.BalanceAdjustment, error) {
	a, ok := v.st.adjustments[id]
	if !ok {
		return core.BalanceAdjustment{}, notFound("adjustment", id)
	}
	return a, nil
}

func (v *view) InsertAdjustment(_ context.Context, a core.BalanceAdjustment) (int64, error) {
	a.ID = v.st.id()
	a.CreatedAt = v.now()
	v.st.adjustments[a.ID] = a
	return a.ID, nil
}

func (v *view) DeleteAdjustment(_ context.Context, id int64) error {
	if _, ok := v.st.adjustments[id]; !ok {
		return notFound("adjustment", id)
	}
	delete(v.st.adjustments, id)
	return nil
}

func (v *view) AccountAdjustments(_ context.Context, accountID int64) ([]core.BalanceAdjustment, error) {
	var out []core.BalanceAdjustment
	for _, a := range v.st.adjustments {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
