// Package ledger maintains account running balances as transactions,
// exchanges and balance adjustments are recorded, edited and removed.
//
// Balances are kept incrementally: each mutation applies its signed effect
// to the stored balance inside one store transaction. RecomputeBalance
// replays the full event history for consistency checks; it is never run
// implicitly.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
)

// Engine applies money-movement events to account balances.
type Engine struct {
	store  Store
	logger *log.Logger
}

func NewEngine(store Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Engine{
		store:  store,
		logger: logger.WithComponent(log.ComponentLedger),
	}
}

// CreateAccount stores a new account whose balance starts at its opening
// balance.
func (e *Engine) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	a.Balance = a.OpeningBalance

	var created core.Account
	err := e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCurrency(ctx, a.CurrencyID); err != nil {
			return err
		}
		id, err := tx.InsertAccount(ctx, a)
		if err != nil {
			return err
		}
		created, err = tx.GetAccount(ctx, id)
		return err
	})
	if err != nil {
		return core.Account{}, core.Persist("create account", err)
	}

	e.logger.InfoContext(ctx, "Account created",
		log.FieldAccountID, created.ID,
		"name", created.Name,
		"opening_balance", created.OpeningBalance.String())
	return created, nil
}

// UpdateAccount rewrites the descriptive fields of an account. Currency and
// balance are not editable here.
func (e *Engine) UpdateAccount(ctx context.Context, id int64, l core.AccountLabels) (core.Account, error) {
	if err := l.Validate(); err != nil {
		return core.Account{}, err
	}

	var updated core.Account
	err := e.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateAccountLabels(ctx, id, l); err != nil {
			return err
		}
		var err error
		updated, err = tx.GetAccount(ctx, id)
		return err
	})
	if err != nil {
		return core.Account{}, core.Persist("update account", err)
	}

	e.logger.InfoContext(ctx, "Account updated", log.FieldAccountID, id, "name", updated.Name)
	return updated, nil
}

// DeleteAccount removes an account that no transaction, exchange or
// adjustment references. Otherwise it fails with core.ErrInUse.
func (e *Engine) DeleteAccount(ctx context.Context, id int64) error {
	err := e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAccount(ctx, id); err != nil {
			return err
		}
		n, err := liveEvents(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("account %d has %d recorded event(s): %w", id, n, core.ErrInUse)
		}
		return tx.DeleteAccount(ctx, id)
	})
	if err != nil {
		return core.Persist("delete account", err)
	}

	e.logger.InfoContext(ctx, "Account deleted", log.FieldAccountID, id)
	return nil
}

// RecordTransaction persists t and applies its effect to the owning account.
func (e *Engine) RecordTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := e.store.WithTx(ctx, func(tx Tx) error {
		if err := checkReferences(ctx, tx, t); err != nil {
			return err
		}
		seq, err := tx.NextSeq(ctx)
		if err != nil {
			return err
		}
		t.Seq = seq
		if t.ID, err = tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		return applyDelta(ctx, tx, t.AccountID, t.Effect())
	})
	if err != nil {
		return core.Transaction{}, core.Persist("record transaction", err)
	}

	e.logger.InfoContext(ctx, "Transaction recorded",
		log.FieldTransactionID, t.ID,
		log.FieldAccountID, t.AccountID,
		log.FieldAmount, t.Amount.String(),
		"type", t.Type)
	return t, nil
}

// EditTransaction reverses the stored transaction on its old account,
// overwrites it with next and applies next to next.AccountID, which may
// differ from the old account. The edited row is re-committed with a new
// sequence number.
func (e *Engine) EditTransaction(ctx context.Context, id int64, next core.Transaction) (core.Transaction, error) {
	if err := next.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := e.store.WithTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := checkReferences(ctx, tx, next); err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, old.AccountID, old.Effect().Neg()); err != nil {
			return err
		}

		seq, err := tx.NextSeq(ctx)
		if err != nil {
			return err
		}
		next.ID = id
		next.Seq = seq
		next.CreatedAt = old.CreatedAt
		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return err
		}
		return applyDelta(ctx, tx, next.AccountID, next.Effect())
	})
	if err != nil {
		return core.Transaction{}, core.Persist("edit transaction", err)
	}

	e.logger.InfoContext(ctx, "Transaction edited",
		log.FieldTransactionID, id,
		log.FieldAccountID, next.AccountID,
		log.FieldAmount, next.Amount.String())
	return next, nil
}

// DeleteTransaction reverses the transaction's effect and removes it.
func (e *Engine) DeleteTransaction(ctx context.Context, id int64) error {
	err := e.store.WithTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, old.AccountID, old.Effect().Neg()); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return core.Persist("delete transaction", err)
	}

	e.logger.InfoContext(ctx, "Transaction deleted", log.FieldTransactionID, id)
	return nil
}

// RecordExchange debits FromAmount from the source account and credits
// ToAmount to the destination. The two amounts are authoritative; the rate
// is informational and defaults to ToAmount/FromAmount.
func (e *Engine) RecordExchange(ctx context.Context, ex core.Exchange) (core.Exchange, error) {
	if err := ex.Validate(); err != nil {
		return core.Exchange{}, err
	}
	if ex.ExchangeRate.IsZero() {
		ex.ExchangeRate = ex.ImpliedRate()
	}

	err := e.store.WithTx(ctx, func(tx Tx) error {
		for _, id := range []int64{ex.FromAccountID, ex.ToAccountID} {
			if _, err := tx.GetAccount(ctx, id); err != nil {
				return err
			}
		}
		seq, err := tx.NextSeq(ctx)
		if err != nil {
			return err
		}
		ex.Seq = seq
		if ex.ID, err = tx.InsertExchange(ctx, ex); err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, ex.FromAccountID, ex.FromAmount.Neg()); err != nil {
			return err
		}
		return applyDelta(ctx, tx, ex.ToAccountID, ex.ToAmount)
	})
	if err != nil {
		return core.Exchange{}, core.Persist("record exchange", err)
	}

	e.logger.InfoContext(ctx, "Exchange recorded",
		"exchange_id", ex.ID,
		"from_account_id", ex.FromAccountID,
		"to_account_id", ex.ToAccountID,
		"from_amount", ex.FromAmount.String(),
		"to_amount", ex.ToAmount.String())
	return ex, nil
}

// DeleteExchange reverses both legs of an exchange and removes it.
// Exchanges have no edit: delete and record again.
func (e *Engine) DeleteExchange(ctx context.Context, id int64) error {
	err := e.store.WithTx(ctx, func(tx Tx) error {
		ex, err := tx.GetExchange(ctx, id)
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, ex.FromAccountID, ex.FromAmount); err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, ex.ToAccountID, ex.ToAmount.Neg()); err != nil {
			return err
		}
		return tx.DeleteExchange(ctx, id)
	})
	if err != nil {
		return core.Persist("delete exchange", err)
	}

	e.logger.InfoContext(ctx, "Exchange deleted", "exchange_id", id)
	return nil
}

// RecordBalanceAdjustment captures the current balance as OldBalance and
// overwrites it with adj.NewBalance.
func (e *Engine) RecordBalanceAdjustment(ctx context.Context, adj core.BalanceAdjustment) (core.BalanceAdjustment, error) {
	if err := adj.Validate(); err != nil {
		return core.BalanceAdjustment{}, err
	}

	err := e.store.WithTx(ctx, func(tx Tx) error {
		acct, err := tx.GetAccount(ctx, adj.AccountID)
		if err != nil {
			return err
		}
		seq, err := tx.NextSeq(ctx)
		if err != nil {
			return err
		}
		adj.OldBalance = acct.Balance
		adj.Difference = adj.NewBalance.Sub(acct.Balance)
		adj.Seq = seq
		if adj.ID, err = tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		return tx.SetAccountBalance(ctx, adj.AccountID, adj.NewBalance)
	})
	if err != nil {
		return core.BalanceAdjustment{}, core.Persist("record adjustment", err)
	}

	e.logger.InfoContext(ctx, "Balance adjusted",
		"adjustment_id", adj.ID,
		log.FieldAccountID, adj.AccountID,
		"old_balance", adj.OldBalance.String(),
		"new_balance", adj.NewBalance.String())
	return adj, nil
}

// DeleteBalanceAdjustment removes an adjustment and leaves the balance where
// a full replay would put it. With no later adjustment on the account the
// balance moves back by the stored difference, which restores OldBalance
// when nothing else happened in between and keeps intervening events
// otherwise. A later adjustment already pins the balance, so it is left
// untouched.
func (e *Engine) DeleteBalanceAdjustment(ctx context.Context, id int64) error {
	err := e.store.WithTx(ctx, func(tx Tx) error {
		adj, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		later, err := hasLaterAdjustment(ctx, tx, adj)
		if err != nil {
			return err
		}
		if !later {
			if err := applyDelta(ctx, tx, adj.AccountID, adj.Difference.Neg()); err != nil {
				return err
			}
		}
		return tx.DeleteAdjustment(ctx, id)
	})
	if err != nil {
		return core.Persist("delete adjustment", err)
	}

	e.logger.InfoContext(ctx, "Balance adjustment deleted", "adjustment_id", id)
	return nil
}

func applyDelta(ctx context.Context, tx Tx, accountID int64, delta decimal.Decimal) error {
	acct, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := tx.SetAccountBalance(ctx, accountID, acct.Balance.Add(delta)); err != nil {
		return fmt.Errorf("set balance of account %d: %w", accountID, err)
	}
	return nil
}

// checkReferences resolves the account and category of t so a dangling
// reference reports core.ErrNotFound on every store.
func checkReferences(ctx context.Context, tx Tx, t core.Transaction) error {
	if _, err := tx.GetAccount(ctx, t.AccountID); err != nil {
		return err
	}
	if _, err := tx.GetCategory(ctx, t.CategoryID); err != nil {
		return err
	}
	return nil
}

func liveEvents(ctx context.Context, tx Tx, accountID int64) (int, error) {
	txs, err := tx.AccountTransactions(ctx, accountID)
	if err != nil {
		return 0, err
	}
	exs, err := tx.AccountExchanges(ctx, accountID)
	if err != nil {
		return 0, err
	}
	adjs, err := tx.AccountAdjustments(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return len(txs) + len(exs) + len(adjs), nil
}

func hasLaterAdjustment(ctx context.Context, tx Tx, adj core.BalanceAdjustment) (bool, error) {
	all, err := tx.AccountAdjustments(ctx, adj.AccountID)
	if err != nil {
		return false, fmt.Errorf("list adjustments: %w", err)
	}
	for _, other := range all {
		if other.ID != adj.ID && other.Seq > adj.Seq {
			return true, nil
		}
	}
	return false, nil
}
