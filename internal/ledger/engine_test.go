package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/storage"
	"ledgerbook/internal/storage/memory"
)

// backend is what the engine tests need from a store beyond ledger.Store.
type backend interface {
	ledger.Store
	GetAccount(ctx context.Context, id int64) (core.Account, error)
	ListCurrencies(ctx context.Context) ([]core.Currency, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.TransactionDetail, error)
}

var backends = []struct {
	name string
	open func(t *testing.T) backend
}{
	{"memory", func(*testing.T) backend {
		return memory.New(memory.DefaultCurrencies(), memory.DefaultCategories())
	}},
	{"sqlite", func(t *testing.T) backend {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	}},
}

type fixture struct {
	ctx     context.Context
	store   backend
	engine  *ledger.Engine
	usd     int64
	eur     int64
	income  int64
	expense int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.New(memory.DefaultCurrencies(), memory.DefaultCategories()))
}

func newFixtureOn(t *testing.T, store backend) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{ctx: ctx, store: store, engine: ledger.NewEngine(store, nil)}

	curs, err := store.ListCurrencies(ctx)
	require.NoError(t, err)
	for _, c := range curs {
		switch c.Code {
		case "USD":
			f.usd = c.ID
		case "EUR":
			f.eur = c.ID
		}
	}
	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	for _, c := range cats {
		if c.Type == core.Income && f.income == 0 {
			f.income = c.ID
		}
		if c.Type == core.Expense && f.expense == 0 {
			f.expense = c.ID
		}
	}
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) account(t *testing.T, currency int64, opening string) int64 {
	t.Helper()
	a, err := f.engine.CreateAccount(f.ctx, core.Account{Name: "acct", CurrencyID: currency, OpeningBalance: d(opening)})
	require.NoError(t, err)
	return a.ID
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(f.ctx, id)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) tx(accountID int64, typ core.TransactionType, amount string) core.Transaction {
	cat := f.income
	if typ == core.Expense {
		cat = f.expense
	}
	return core.Transaction{
		AccountID:  accountID,
		CategoryID: cat,
		Amount:     d(amount),
		Type:       typ,
		Date:       core.NewDate(2024, 1, 15),
	}
}

func assertBalance(t *testing.T, f *fixture, id int64, want string) {
	t.Helper()
	got := f.balance(t, id)
	assert.True(t, got.Equal(d(want)), "balance of %d: got %s want %s", id, got, want)
}

func assertInSync(t *testing.T, f *fixture, id int64) {
	t.Helper()
	rec, err := f.engine.RecomputeBalance(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.InSync(), "drift %s (stored %s, replayed %s)", rec.Drift, rec.Stored, rec.Replayed)
}

func TestCreateAccountStartsAtOpeningBalance(t *testing.T) {
	f := newFixture(t)
	id := f.account(t, f.usd, "100")
	assertBalance(t, f, id, "100")
	assertInSync(t, f, id)

	_, err := f.engine.CreateAccount(f.ctx, core.Account{Name: "", CurrencyID: f.usd})
	assert.ErrorIs(t, err, core.ErrEmptyName)
}

func TestIncomeThenDelete(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")

	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "50"))
	require.NoError(t, err)
	assertBalance(t, f, a, "150")

	require.NoError(t, f.engine.DeleteTransaction(f.ctx, tx.ID))
	assertBalance(t, f, a, "100")
	assertInSync(t, f, a)

	err = f.engine.DeleteTransaction(f.ctx, tx.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExpenseDebits(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "10")

	_, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "12.50"))
	require.NoError(t, err)
	assertBalance(t, f, a, "-2.5")
	assertInSync(t, f, a)
}

func TestRecordTransactionUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RecordTransaction(f.ctx, f.tx(999, core.Income, "1"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteAndReAddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "0")
	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "33.33"))
	require.NoError(t, err)
	before := f.balance(t, a)

	require.NoError(t, f.engine.DeleteTransaction(f.ctx, tx.ID))
	_, err = f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "33.33"))
	require.NoError(t, err)

	assert.True(t, f.balance(t, a).Equal(before))
	assertInSync(t, f, a)
}

func TestEditRoundTripRestoresBalance(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "1000")
	orig, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "0.1"))
	require.NoError(t, err)
	before := f.balance(t, a)

	edited := f.tx(a, core.Income, "0.2")
	_, err = f.engine.EditTransaction(f.ctx, orig.ID, edited)
	require.NoError(t, err)
	assertBalance(t, f, a, "1000.2")

	_, err = f.engine.EditTransaction(f.ctx, orig.ID, f.tx(a, core.Expense, "0.1"))
	require.NoError(t, err)
	assert.True(t, f.balance(t, a).Equal(before), "got %s want %s", f.balance(t, a), before)
	assertInSync(t, f, a)
}

func TestEditMovesTransactionBetweenAccounts(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")
	b := f.account(t, f.usd, "100")

	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "40"))
	require.NoError(t, err)
	assertBalance(t, f, a, "60")

	_, err = f.engine.EditTransaction(f.ctx, tx.ID, f.tx(b, core.Expense, "40"))
	require.NoError(t, err)
	assertBalance(t, f, a, "100")
	assertBalance(t, f, b, "60")
	assertInSync(t, f, a)
	assertInSync(t, f, b)
}

func TestEditGetsNewSequence(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "0")
	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "1"))
	require.NoError(t, err)

	edited, err := f.engine.EditTransaction(f.ctx, tx.ID, f.tx(a, core.Income, "2"))
	require.NoError(t, err)
	assert.Equal(t, tx.ID, edited.ID)
	assert.Greater(t, edited.Seq, tx.Seq)
}

func TestExchangeMovesBothLegs(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "500")
	b := f.account(t, f.eur, "0")

	ex, err := f.engine.RecordExchange(f.ctx, core.Exchange{
		FromAccountID: a,
		ToAccountID:   b,
		FromAmount:    d("100"),
		ToAmount:      d("92"),
		Date:          core.NewDate(2024, 2, 1),
	})
	require.NoError(t, err)
	assertBalance(t, f, a, "400")
	assertBalance(t, f, b, "92")
	assert.True(t, ex.ExchangeRate.Equal(d("0.92")), "default rate %s", ex.ExchangeRate)
	assertInSync(t, f, a)
	assertInSync(t, f, b)

	require.NoError(t, f.engine.DeleteExchange(f.ctx, ex.ID))
	assertBalance(t, f, a, "500")
	assertBalance(t, f, b, "0")
	assertInSync(t, f, a)
	assert.ErrorIs(t, f.engine.DeleteExchange(f.ctx, ex.ID), core.ErrNotFound)
}

func TestExchangeIgnoresSuppliedRate(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "500")
	b := f.account(t, f.eur, "0")

	_, err := f.engine.RecordExchange(f.ctx, core.Exchange{
		FromAccountID: a, ToAccountID: b,
		FromAmount: d("100"), ToAmount: d("92"), ExchangeRate: d("5"),
		Date: core.NewDate(2024, 2, 1),
	})
	require.NoError(t, err)
	assertBalance(t, f, b, "92")
}

func TestAdjustmentThenDelete(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")
	_, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "50"))
	require.NoError(t, err)

	adj, err := f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: a, NewBalance: d("200"), Date: core.NewDate(2024, 1, 31)})
	require.NoError(t, err)
	assert.True(t, adj.OldBalance.Equal(d("150")))
	assert.True(t, adj.Difference.Equal(d("50")))
	assertBalance(t, f, a, "200")
	assertInSync(t, f, a)

	require.NoError(t, f.engine.DeleteBalanceAdjustment(f.ctx, adj.ID))
	assertBalance(t, f, a, "150")
	assertInSync(t, f, a)
}

func TestAdjustmentErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: 404, NewBalance: d("1"), Date: core.NewDate(2024, 1, 1)})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, f.engine.DeleteBalanceAdjustment(f.ctx, 404), core.ErrNotFound)
}

func TestDeleteAdjustmentKeepsInterveningEvents(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")

	adj, err := f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: a, NewBalance: d("200"), Date: core.NewDate(2024, 1, 1)})
	require.NoError(t, err)
	_, err = f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "10"))
	require.NoError(t, err)
	assertBalance(t, f, a, "210")

	require.NoError(t, f.engine.DeleteBalanceAdjustment(f.ctx, adj.ID))
	assertBalance(t, f, a, "110")
	assertInSync(t, f, a)
}

func TestDeleteAdjustmentShadowedByLaterAdjustment(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")

	first, err := f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: a, NewBalance: d("200"), Date: core.NewDate(2024, 1, 1)})
	require.NoError(t, err)
	_, err = f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: a, NewBalance: d("300"), Date: core.NewDate(2024, 1, 2)})
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteBalanceAdjustment(f.ctx, first.ID))
	assertBalance(t, f, a, "300")
	assertInSync(t, f, a)
}

func TestRecomputeDetectsDriftAndRepairFixesIt(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")

	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "50"))
	require.NoError(t, err)
	_, err = f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: a, NewBalance: d("300"), Date: core.NewDate(2024, 1, 2)})
	require.NoError(t, err)

	// Removing an event that an adjustment already absorbed moves the
	// incremental balance but not the replayed one.
	require.NoError(t, f.engine.DeleteTransaction(f.ctx, tx.ID))
	assertBalance(t, f, a, "250")

	rec, err := f.engine.RecomputeBalance(f.ctx, a)
	require.NoError(t, err)
	assert.False(t, rec.InSync())
	assert.True(t, rec.Replayed.Equal(d("300")))
	assert.True(t, rec.Drift.Equal(d("-50")))
	assertBalance(t, f, a, "250")

	fixed, err := f.engine.RepairBalance(f.ctx, a)
	require.NoError(t, err)
	assert.True(t, fixed.Drift.Equal(d("-50")))
	assertBalance(t, f, a, "300")
	assertInSync(t, f, a)
}

// Property: for any sequence of record/edit/delete on an account without
// adjustments, the balance is the opening balance plus every live effect.
func TestRandomSequencesMatchLiveSum(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "25")
	b := f.account(t, f.usd, "0")
	r := rand.New(rand.NewSource(42))

	var live []int64
	for i := 0; i < 300; i++ {
		op := r.Intn(3)
		if len(live) == 0 {
			op = 0
		}
		typ := core.Income
		if r.Intn(2) == 0 {
			typ = core.Expense
		}
		acct := a
		if r.Intn(4) == 0 {
			acct = b
		}
		amount := decimal.New(int64(r.Intn(100000)+1), -2).String()

		switch op {
		case 0:
			tx, err := f.engine.RecordTransaction(f.ctx, f.tx(acct, typ, amount))
			require.NoError(t, err)
			live = append(live, tx.ID)
		case 1:
			id := live[r.Intn(len(live))]
			_, err := f.engine.EditTransaction(f.ctx, id, f.tx(acct, typ, amount))
			require.NoError(t, err)
		case 2:
			idx := r.Intn(len(live))
			require.NoError(t, f.engine.DeleteTransaction(f.ctx, live[idx]))
			live = append(live[:idx], live[idx+1:]...)
		}
	}

	for _, id := range []int64{a, b} {
		acct, err := f.store.GetAccount(f.ctx, id)
		require.NoError(t, err)
		txs, err := f.store.ListTransactions(f.ctx, core.TransactionFilter{AccountID: id})
		require.NoError(t, err)

		want := acct.OpeningBalance
		for _, tx := range txs {
			want = want.Add(tx.Effect())
		}
		assert.True(t, acct.Balance.Equal(want), "account %d: got %s want %s", id, acct.Balance, want)
		assertInSync(t, f, id)
	}
}

type failingStore struct {
	inner ledger.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.inner.WithTx(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	ledger.Tx
}

var errDisk = errors.New("disk full")

func (failingTx) UpdateTransaction(context.Context, core.Transaction) error { return errDisk }

func (failingTx) InsertTransaction(context.Context, core.Transaction) (int64, error) {
	return 0, errDisk
}

func TestFailedInsertNamesOperationOnce(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")

	broken := ledger.NewEngine(failingStore{inner: f.store}, nil)
	_, err := broken.RecordTransaction(f.ctx, f.tx(a, core.Income, "5"))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, "persist record transaction: disk full", err.Error())
	assertBalance(t, f, a, "100")
}

func TestFailedEditRollsBackReversal(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, f.usd, "100")
	tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "30"))
	require.NoError(t, err)

	broken := ledger.NewEngine(failingStore{inner: f.store}, nil)
	_, err = broken.EditTransaction(f.ctx, tx.ID, f.tx(a, core.Expense, "10"))
	require.ErrorIs(t, err, errDisk)

	var pe *core.PersistError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "edit transaction", pe.Op)

	assertBalance(t, f, a, "70")
	assertInSync(t, f, a)
}

func TestReplayOrdersBySequence(t *testing.T) {
	acct := core.Account{ID: 1, OpeningBalance: d("0")}
	txs := []core.Transaction{
		{AccountID: 1, Type: core.Income, Amount: d("5"), Seq: 3},
		{AccountID: 1, Type: core.Income, Amount: d("7"), Seq: 1},
	}
	adjs := []core.BalanceAdjustment{{AccountID: 1, NewBalance: d("100"), Seq: 2}}
	exs := []core.Exchange{{FromAccountID: 1, ToAccountID: 2, FromAmount: d("10"), ToAmount: d("9"), Seq: 4}}

	got := ledger.Replay(acct, txs, exs, adjs)
	assert.True(t, got.Equal(d("95")), "got %s", got)
}

func TestUnknownReferencesAreNotFoundOnEveryBackend(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			f := newFixtureOn(t, b.open(t))
			a := f.account(t, f.usd, "100")

			bad := f.tx(a, core.Expense, "10")
			bad.CategoryID = 9999
			_, err := f.engine.RecordTransaction(f.ctx, bad)
			require.ErrorIs(t, err, core.ErrNotFound)
			var pe *core.PersistError
			assert.False(t, errors.As(err, &pe), "missing category should not be a persistence failure: %v", err)
			assertBalance(t, f, a, "100")

			tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Expense, "10"))
			require.NoError(t, err)
			_, err = f.engine.EditTransaction(f.ctx, tx.ID, bad)
			require.ErrorIs(t, err, core.ErrNotFound)
			assertBalance(t, f, a, "90")

			_, err = f.engine.CreateAccount(f.ctx, core.Account{Name: "ghost", CurrencyID: 9999})
			require.ErrorIs(t, err, core.ErrNotFound)

			_, err = f.engine.RecordTransaction(f.ctx, f.tx(9999, core.Income, "1"))
			require.ErrorIs(t, err, core.ErrNotFound)
			assert.Equal(t, 1, strings.Count(err.Error(), "account 9999"), err.Error())
		})
	}
}

func TestLedgerScenariosOnEveryBackend(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			f := newFixtureOn(t, b.open(t))
			usd := f.account(t, f.usd, "100")
			eur := f.account(t, f.eur, "0")

			tx, err := f.engine.RecordTransaction(f.ctx, f.tx(usd, core.Income, "50"))
			require.NoError(t, err)
			_, err = f.engine.EditTransaction(f.ctx, tx.ID, f.tx(usd, core.Expense, "20"))
			require.NoError(t, err)
			assertBalance(t, f, usd, "80")

			_, err = f.engine.RecordExchange(f.ctx, core.Exchange{
				FromAccountID: usd, ToAccountID: eur,
				FromAmount: d("40"), ToAmount: d("36"),
				Date: core.NewDate(2024, 1, 20),
			})
			require.NoError(t, err)
			assertBalance(t, f, usd, "40")
			assertBalance(t, f, eur, "36")

			_, err = f.engine.RecordBalanceAdjustment(f.ctx, core.BalanceAdjustment{AccountID: eur, NewBalance: d("35"), Date: core.NewDate(2024, 1, 21)})
			require.NoError(t, err)
			assertBalance(t, f, eur, "35")
			assertInSync(t, f, usd)
			assertInSync(t, f, eur)
		})
	}
}

func TestAccountLabelsAndDeletionOnEveryBackend(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			f := newFixtureOn(t, b.open(t))
			a := f.account(t, f.usd, "100")

			got, err := f.engine.UpdateAccount(f.ctx, a, core.AccountLabels{Name: "Brokerage", Owner: "sam", Country: "CH", AssetType: "stocks"})
			require.NoError(t, err)
			assert.Equal(t, "Brokerage", got.Name)
			assert.Equal(t, "sam", got.Owner)
			assert.Equal(t, "CH", got.Country)
			assert.Equal(t, "stocks", got.AssetType)
			assert.Equal(t, f.usd, got.CurrencyID)
			assertBalance(t, f, a, "100")

			_, err = f.engine.UpdateAccount(f.ctx, a, core.AccountLabels{Name: " "})
			assert.ErrorIs(t, err, core.ErrEmptyName)
			_, err = f.engine.UpdateAccount(f.ctx, 9999, core.AccountLabels{Name: "x"})
			assert.ErrorIs(t, err, core.ErrNotFound)

			tx, err := f.engine.RecordTransaction(f.ctx, f.tx(a, core.Income, "5"))
			require.NoError(t, err)
			err = f.engine.DeleteAccount(f.ctx, a)
			require.ErrorIs(t, err, core.ErrInUse)
			assertBalance(t, f, a, "105")

			require.NoError(t, f.engine.DeleteTransaction(f.ctx, tx.ID))
			require.NoError(t, f.engine.DeleteAccount(f.ctx, a))
			_, err = f.store.GetAccount(f.ctx, a)
			assert.ErrorIs(t, err, core.ErrNotFound)
			assert.ErrorIs(t, f.engine.DeleteAccount(f.ctx, a), core.ErrNotFound)
		})
	}
}
