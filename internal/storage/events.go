package storage

import (
	"context"
	"fmt"
	"strings"

	"ledgerbook/internal/core"
)

const transactionColumns = `t.id, t.account_id, t.category_id, t.amount, t.type, t.date, t.description, t.seq, t.created_at`

func scanTransaction(row rowScanner, extra ...any) (core.Transaction, error) {
	var (
		t       core.Transaction
		created timestamp
	)
	dest := append([]any{&t.ID, &t.AccountID, &t.CategoryID, &t.Amount, &t.Type, &t.Date, &t.Description, &t.Seq, &created}, extra...)
	err := row.Scan(dest...)
	t.CreatedAt = created.Time
	return t, err
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id))
	if err != nil {
		return core.Transaction{}, notFound(err, "transaction", id)
	}
	return t, nil
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (account_id, category_id, amount, type, date, description, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.CategoryID, t.Amount, t.Type, t.Date, t.Description, t.Seq, formatTimestamp(q.now()))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions
		 SET account_id = ?, category_id = ?, amount = ?, type = ?, date = ?, description = ?, seq = ?
		 WHERE id = ?`,
		t.AccountID, t.CategoryID, t.Amount, t.Type, t.Date, t.Description, t.Seq, t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireAffected(res, "transaction", t.ID)
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireAffected(res, "transaction", id)
}

func (q *Queries) AccountTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.account_id = ? ORDER BY t.seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("account transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTransactions returns transactions with their display joins, newest
// date first.
func (q *Queries) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.TransactionDetail, error) {
	var (
		where []string
		args  []any
	)
	if !f.Start.IsZero() {
		where = append(where, "t.date >= ?")
		args = append(args, f.Start)
	}
	if !f.End.IsZero() {
		where = append(where, "t.date <= ?")
		args = append(args, f.End)
	}
	if f.AccountID > 0 {
		where = append(where, "t.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Type != "" {
		where = append(where, "t.type = ?")
		args = append(args, f.Type)
	}

	query := `SELECT ` + transactionColumns + `, a.name, a.owner, cat.name, cat.type, cur.code, cur.symbol
FROM transactions t
JOIN accounts a ON a.id = t.account_id
JOIN categories cat ON cat.id = t.category_id
JOIN currencies cur ON cur.id = a.currency_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.date DESC, t.id DESC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionDetail
	for rows.Next() {
		var d core.TransactionDetail
		t, err := scanTransaction(rows, &d.AccountName, &d.Owner, &d.CategoryName, &d.CategoryType, &d.CurrencyCode, &d.CurrencySymbol)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		d.Transaction = t
		out = append(out, d)
	}
	return out, rows.Err()
}

const exchangeColumns = `e.id, e.from_account_id, e.to_account_id, e.from_amount, e.to_amount, e.exchange_rate, e.date, e.description, e.seq, e.created_at`

func scanExchange(row rowScanner, extra ...any) (core.Exchange, error) {
	var (
		e       core.Exchange
		created timestamp
	)
	dest := append([]any{&e.ID, &e.FromAccountID, &e.ToAccountID, &e.FromAmount, &e.ToAmount, &e.ExchangeRate, &e.Date, &e.Description, &e.Seq, &created}, extra...)
	err := row.Scan(dest...)
	e.CreatedAt = created.Time
	return e, err
}

func (q *Queries) GetExchange(ctx context.Context, id int64) (core.Exchange, error) {
	e, err := scanExchange(q.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges e WHERE e.id = ?`, id))
	if err != nil {
		return core.Exchange{}, notFound(err, "exchange", id)
	}
	return e, nil
}

func (q *Queries) InsertExchange(ctx context.Context, e core.Exchange) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO exchanges (from_account_id, to_account_id, from_amount, to_amount, exchange_rate, date, description, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FromAccountID, e.ToAccountID, e.FromAmount, e.ToAmount, e.ExchangeRate, e.Date, e.Description, e.Seq, formatTimestamp(q.now()))
	if err != nil {
		return 0, fmt.Errorf("insert exchange: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) DeleteExchange(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM exchanges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete exchange: %w", err)
	}
	return requireAffected(res, "exchange", id)
}

func (q *Queries) AccountExchanges(ctx context.Context, accountID int64) ([]core.Exchange, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges e WHERE e.from_account_id = ? OR e.to_account_id = ? ORDER BY e.seq`,
		accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("account exchanges: %w", err)
	}
	defer rows.Close()

	var out []core.Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) ListExchanges(ctx context.Context) ([]core.ExchangeDetail, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+exchangeColumns+`, fa.name, ta.name, fc.symbol, tc.symbol
FROM exchanges e
JOIN accounts fa ON fa.id = e.from_account_id
JOIN accounts ta ON ta.id = e.to_account_id
JOIN currencies fc ON fc.id = fa.currency_id
JOIN currencies tc ON tc.id = ta.currency_id
ORDER BY e.date DESC, e.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	var out []core.ExchangeDetail
	for rows.Next() {
		var d core.ExchangeDetail
		e, err := scanExchange(rows, &d.FromAccountName, &d.ToAccountName, &d.FromCurrencySymbol, &d.ToCurrencySymbol)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		d.Exchange = e
		out = append(out, d)
	}
	return out, rows.Err()
}

const adjustmentColumns = `b.id, b.account_id, b.old_balance, b.new_balance, b.difference, b.reason, b.date, b.seq, b.created_at`

func scanAdjustment(row rowScanner, extra ...any) (core.BalanceAdjustment, error) {
	var (
		a       core.BalanceAdjustment
		created timestamp
	)
	dest := append([]any{&a.ID, &a.AccountID, &a.OldBalance, &a.NewBalance, &a.Difference, &a.Reason, &a.Date, &a.Seq, &created}, extra...)
	err := row.Scan(dest...)
	a.CreatedAt = created.Time
	return a, err
}

func (q *Queries) GetAdjustment(ctx context.Context, id int64) (core.BalanceAdjustment, error) {
	a, err := scanAdjustment(q.db.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM balance_adjustments b WHERE b.id = ?`, id))
	if err != nil {
		return core.BalanceAdjustment{}, notFound(err, "adjustment", id)
	}
	return a, nil
}

func (q *Queries) InsertAdjustment(ctx context.Context, a core.BalanceAdjustment) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO balance_adjustments (account_id, old_balance, new_balance, difference, reason, date, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.OldBalance, a.NewBalance, a.Difference, a.Reason, a.Date, a.Seq, formatTimestamp(q.now()))
	if err != nil {
		return 0, fmt.Errorf("insert adjustment: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) DeleteAdjustment(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM balance_adjustments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete adjustment: %w", err)
	}
	return requireAffected(res, "adjustment", id)
}

func (q *Queries) AccountAdjustments(ctx context.Context, accountID int64) ([]core.BalanceAdjustment, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+adjustmentColumns+` FROM balance_adjustments b WHERE b.account_id = ? ORDER BY b.seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("account adjustments: %w", err)
	}
	defer rows.Close()

	var out []core.BalanceAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAdjustments returns adjustments dated within [start, end]; zero
// bounds are open.
func (q *Queries) ListAdjustments(ctx context.Context, start, end core.Date) ([]core.AdjustmentDetail, error) {
	query := `SELECT ` + adjustmentColumns + `, a.name, c.code, c.symbol
FROM balance_adjustments b
JOIN accounts a ON a.id = b.account_id
JOIN currencies c ON c.id = a.currency_id
WHERE 1 = 1`
	var args []any
	if !start.IsZero() {
		query += " AND b.date >= ?"
		args = append(args, start)
	}
	if !end.IsZero() {
		query += " AND b.date <= ?"
		args = append(args, end)
	}
	query += " ORDER BY b.date DESC, b.id DESC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var out []core.AdjustmentDetail
	for rows.Next() {
		var d core.AdjustmentDetail
		a, err := scanAdjustment(rows, &d.AccountName, &d.CurrencyCode, &d.CurrencySymbol)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		d.BalanceAdjustment = a
		out = append(out, d)
	}
	return out, rows.Err()
}
