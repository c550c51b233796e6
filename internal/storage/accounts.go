package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

const selectAccount = `SELECT a.id, a.name, a.owner, a.country, a.asset_type, a.currency_id,
       c.code, c.symbol, a.opening_balance, a.balance, a.created_at
FROM accounts a
JOIN currencies c ON c.id = a.currency_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a       core.Account
		created timestamp
	)
	err := row.Scan(&a.ID, &a.Name, &a.Owner, &a.Country, &a.AssetType, &a.CurrencyID,
		&a.CurrencyCode, &a.CurrencySymbol, &a.OpeningBalance, &a.Balance, &created)
	a.CreatedAt = created.Time
	return a, err
}

func (q *Queries) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, selectAccount+` WHERE a.id = ?`, id))
	if err != nil {
		return core.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, selectAccount+` ORDER BY a.name, a.id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (name, owner, country, asset_type, currency_id, opening_balance, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Owner, a.Country, a.AssetType, a.CurrencyID,
		a.OpeningBalance, a.Balance, formatTimestamp(q.now()))
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) UpdateAccountLabels(ctx context.Context, id int64, l core.AccountLabels) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, owner = ?, country = ?, asset_type = ? WHERE id = ?`,
		l.Name, l.Owner, l.Country, l.AssetType, id)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireAffected(res, "account", id)
}

func (q *Queries) DeleteAccount(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireAffected(res, "account", id)
}

func (q *Queries) SetAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	res, err := q.db.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, balance, id)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return requireAffected(res, "account", id)
}

// AccountCurrencies returns the distinct currency codes used by any account.
func (q *Queries) AccountCurrencies(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT DISTINCT c.code FROM accounts a JOIN currencies c ON c.id = a.currency_id ORDER BY c.code`)
	if err != nil {
		return nil, fmt.Errorf("account currencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (q *Queries) GetCurrency(ctx context.Context, id int64) (core.Currency, error) {
	var c core.Currency
	err := q.db.QueryRowContext(ctx, `SELECT id, code, name, symbol FROM currencies WHERE id = ?`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Symbol)
	if err != nil {
		return core.Currency{}, notFound(err, "currency", id)
	}
	return c, nil
}

func (q *Queries) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, code, name, symbol FROM currencies ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var out []core.Currency
	for rows.Next() {
		var c core.Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) CreateCurrency(ctx context.Context, c core.Currency) (core.Currency, error) {
	c.Code = core.NormalizeCurrency(c.Code)
	if err := c.Validate(); err != nil {
		return core.Currency{}, err
	}
	res, err := q.db.ExecContext(ctx, `INSERT INTO currencies (code, name, symbol) VALUES (?, ?, ?)`,
		c.Code, c.Name, c.Symbol)
	if err != nil {
		return core.Currency{}, fmt.Errorf("insert currency: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

// UpdateCurrency renames a currency. Its code may change only while no
// account uses it.
func (q *Queries) UpdateCurrency(ctx context.Context, c core.Currency) (core.Currency, error) {
	c.Code = core.NormalizeCurrency(c.Code)
	if err := c.Validate(); err != nil {
		return core.Currency{}, err
	}
	old, err := q.GetCurrency(ctx, c.ID)
	if err != nil {
		return core.Currency{}, err
	}
	if old.Code != c.Code {
		if err := q.ensureUnused(ctx, `SELECT COUNT(*) FROM accounts WHERE currency_id = ?`, "currency", c.ID); err != nil {
			return core.Currency{}, err
		}
	}
	if _, err := q.db.ExecContext(ctx, `UPDATE currencies SET code = ?, name = ?, symbol = ? WHERE id = ?`,
		c.Code, c.Name, c.Symbol, c.ID); err != nil {
		return core.Currency{}, fmt.Errorf("update currency: %w", err)
	}
	return c, nil
}

func (q *Queries) DeleteCurrency(ctx context.Context, id int64) error {
	if err := q.ensureUnused(ctx, `SELECT COUNT(*) FROM accounts WHERE currency_id = ?`, "currency", id); err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM currencies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete currency: %w", err)
	}
	return requireAffected(res, "currency", id)
}

func (q *Queries) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	var c core.Category
	err := q.db.QueryRowContext(ctx, `SELECT id, name, type FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Type)
	if err != nil {
		return core.Category{}, notFound(err, "category", id)
	}
	return c, nil
}

func (q *Queries) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, type FROM categories ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	res, err := q.db.ExecContext(ctx, `INSERT INTO categories (name, type) VALUES (?, ?)`, c.Name, c.Type)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (q *Queries) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	res, err := q.db.ExecContext(ctx, `UPDATE categories SET name = ?, type = ? WHERE id = ?`, c.Name, c.Type, c.ID)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	if err := requireAffected(res, "category", c.ID); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (q *Queries) DeleteCategory(ctx context.Context, id int64) error {
	if err := q.ensureUnused(ctx, `SELECT COUNT(*) FROM transactions WHERE category_id = ?`, "category", id); err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return requireAffected(res, "category", id)
}

// ensureUnused runs a COUNT query over the rows referencing id and maps a
// non-zero count to core.ErrInUse.
func (q *Queries) ensureUnused(ctx context.Context, countQuery, what string, id int64) error {
	var n int
	if err := q.db.QueryRowContext(ctx, countQuery, id).Scan(&n); err != nil {
		return fmt.Errorf("count references to %s %d: %w", what, id, err)
	}
	if n > 0 {
		return fmt.Errorf("%s %d is used by %d row(s): %w", what, id, n, core.ErrInUse)
	}
	return nil
}

// NextSeq advances and returns the store-wide event sequence.
func (q *Queries) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `UPDATE ledger_seq SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("ledger sequence row missing")
	}
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}
