package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

// Reconciliation compares a stored balance with its replayed value.
type Reconciliation struct {
	AccountID int64           `json:"account_id"`
	Stored    decimal.Decimal `json:"stored"`
	Replayed  decimal.Decimal `json:"replayed"`
	Drift     decimal.Decimal `json:"drift"`
	Events    int             `json:"events"`
}

// InSync reports whether stored and replayed balances agree.
func (r Reconciliation) InSync() bool {
	return r.Drift.IsZero()
}

type event struct {
	seq   int64
	apply func(decimal.Decimal) decimal.Decimal
}

// Replay folds the opening balance with every live event of the account in
// commit order. Transactions and exchange legs add their signed effect;
// adjustments pin the balance to their new value.
func Replay(acct core.Account, txs []core.Transaction, exs []core.Exchange, adjs []core.BalanceAdjustment) decimal.Decimal {
	events := make([]event, 0, len(txs)+len(exs)+len(adjs))
	for _, t := range txs {
		effect := t.Effect()
		events = append(events, event{t.Seq, func(b decimal.Decimal) decimal.Decimal { return b.Add(effect) }})
	}
	for _, ex := range exs {
		var delta decimal.Decimal
		if ex.FromAccountID == acct.ID {
			delta = delta.Sub(ex.FromAmount)
		}
		if ex.ToAccountID == acct.ID {
			delta = delta.Add(ex.ToAmount)
		}
		events = append(events, event{ex.Seq, func(b decimal.Decimal) decimal.Decimal { return b.Add(delta) }})
	}
	for _, a := range adjs {
		target := a.NewBalance
		events = append(events, event{a.Seq, func(decimal.Decimal) decimal.Decimal { return target }})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].seq < events[j].seq })

	balance := acct.OpeningBalance
	for _, ev := range events {
		balance = ev.apply(balance)
	}
	return balance
}

// RecomputeBalance replays the account history and reports drift against
// the stored balance. It never writes.
func (e *Engine) RecomputeBalance(ctx context.Context, accountID int64) (Reconciliation, error) {
	var rec Reconciliation
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		rec, err = reconcile(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.InSync() {
		e.logger.WarnContext(ctx, "Balance drift detected",
			"account_id", accountID,
			"stored", rec.Stored.String(),
			"replayed", rec.Replayed.String(),
			"drift", rec.Drift.String())
	}
	return rec, nil
}

// RepairBalance overwrites the stored balance with the replayed value and
// returns the reconciliation observed before the write.
func (e *Engine) RepairBalance(ctx context.Context, accountID int64) (Reconciliation, error) {
	var rec Reconciliation
	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if rec, err = reconcile(ctx, tx, accountID); err != nil {
			return err
		}
		if rec.InSync() {
			return nil
		}
		return tx.SetAccountBalance(ctx, accountID, rec.Replayed)
	})
	if err != nil {
		return Reconciliation{}, core.Persist("repair balance", err)
	}
	if !rec.InSync() {
		e.logger.InfoContext(ctx, "Balance repaired",
			"account_id", accountID,
			"from", rec.Stored.String(),
			"to", rec.Replayed.String())
	}
	return rec, nil
}

func reconcile(ctx context.Context, tx Tx, accountID int64) (Reconciliation, error) {
	acct, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	txs, err := tx.AccountTransactions(ctx, accountID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("list transactions: %w", err)
	}
	exs, err := tx.AccountExchanges(ctx, accountID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("list exchanges: %w", err)
	}
	adjs, err := tx.AccountAdjustments(ctx, accountID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("list adjustments: %w", err)
	}

	replayed := Replay(acct, txs, exs, adjs)
	return Reconciliation{
		AccountID: accountID,
		Stored:    acct.Balance,
		Replayed:  replayed,
		Drift:     acct.Balance.Sub(replayed),
		Events:    len(txs) + len(exs) + len(adjs),
	}, nil
}
