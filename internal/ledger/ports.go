package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

// Tx is the unit-of-work view of the ledger store. Every Engine mutation
// runs against exactly one Tx so its steps commit or roll back together.
// Lookups of missing rows return core.ErrNotFound.
type Tx interface {
	NextSeq(ctx context.Context) (int64, error)

	GetCurrency(ctx context.Context, id int64) (core.Currency, error)
	GetCategory(ctx context.Context, id int64) (core.Category, error)

	GetAccount(ctx context.Context, id int64) (core.Account, error)
	InsertAccount(ctx context.Context, a core.Account) (int64, error)
	UpdateAccountLabels(ctx context.Context, id int64, l core.AccountLabels) error
	DeleteAccount(ctx context.Context, id int64) error
	SetAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error

	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	InsertTransaction(ctx context.Context, t core.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	AccountTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error)

	GetExchange(ctx context.Context, id int64) (core.Exchange, error)
	InsertExchange(ctx context.Context, e core.Exchange) (int64, error)
	DeleteExchange(ctx context.Context, id int64) error
	AccountExchanges(ctx context.Context, accountID int64) ([]core.Exchange, error)

	GetAdjustment(ctx context.Context, id int64) (core.BalanceAdjustment, error)
	InsertAdjustment(ctx context.Context, a core.BalanceAdjustment) (int64, error)
	DeleteAdjustment(ctx context.Context, id int64) error
	AccountAdjustments(ctx context.Context, accountID int64) ([]core.BalanceAdjustment, error)
}

// Store opens units of work. fn's error rolls everything back; a nil
// return commits.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}
