package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"ledgerbook/internal/core"
)

const manualRateColumns = `id, from_currency, to_currency, rate, description, updated_at`

func scanManualRate(row rowScanner) (core.ManualExchangeRate, error) {
	var (
		r       core.ManualExchangeRate
		updated timestamp
	)
	err := row.Scan(&r.ID, &r.FromCurrency, &r.ToCurrency, &r.Rate, &r.Description, &updated)
	r.UpdatedAt = updated.Time
	return r, err
}

func (q *Queries) ListManualRates(ctx context.Context) ([]core.ManualExchangeRate, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+manualRateColumns+` FROM manual_exchange_rates ORDER BY from_currency, to_currency`)
	if err != nil {
		return nil, fmt.Errorf("list manual rates: %w", err)
	}
	defer rows.Close()

	var out []core.ManualExchangeRate
	for rows.Next() {
		r, err := scanManualRate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetManualRate looks up the rate for the exact (from, to) pair.
func (q *Queries) GetManualRate(ctx context.Context, from, to string) (core.ManualExchangeRate, error) {
	r, err := scanManualRate(q.db.QueryRowContext(ctx,
		`SELECT `+manualRateColumns+` FROM manual_exchange_rates WHERE from_currency = ? AND to_currency = ?`, from, to))
	if err != nil {
		return core.ManualExchangeRate{}, notFound(err, "manual rate", from+"/"+to)
	}
	return r, nil
}

// UpsertManualRate inserts the pair or replaces its rate and description.
func (q *Queries) UpsertManualRate(ctx context.Context, r core.ManualExchangeRate) (core.ManualExchangeRate, error) {
	r.FromCurrency = core.NormalizeCurrency(r.FromCurrency)
	r.ToCurrency = core.NormalizeCurrency(r.ToCurrency)
	if err := r.Validate(); err != nil {
		return core.ManualExchangeRate{}, err
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO manual_exchange_rates (from_currency, to_currency, rate, description, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (from_currency, to_currency)
		 DO UPDATE SET rate = excluded.rate, description = excluded.description, updated_at = excluded.updated_at`,
		r.FromCurrency, r.ToCurrency, r.Rate, r.Description, formatTimestamp(q.now()))
	if err != nil {
		return core.ManualExchangeRate{}, fmt.Errorf("upsert manual rate: %w", err)
	}
	return q.GetManualRate(ctx, r.FromCurrency, r.ToCurrency)
}

func (q *Queries) UpdateManualRate(ctx context.Context, id int64, rate decimal.Decimal, description string) error {
	if !rate.IsPositive() {
		return core.ErrInvalidRate
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE manual_exchange_rates SET rate = ?, description = ?, updated_at = ? WHERE id = ?`,
		rate, description, formatTimestamp(q.now()), id)
	if err != nil {
		return fmt.Errorf("update manual rate: %w", err)
	}
	return requireAffected(res, "manual rate", id)
}

func (q *Queries) DeleteManualRate(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM manual_exchange_rates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete manual rate: %w", err)
	}
	return requireAffected(res, "manual rate", id)
}

// cachedTable is the msgpack shape of a persisted rate table. Rates are
// kept as decimal strings so no precision is lost.
type cachedTable struct {
	Base      string            `msgpack:"base"`
	Rates     map[string]string `msgpack:"rates"`
	FetchedAt int64             `msgpack:"fetched_at"`
}

func encodeRateTable(t core.RateTable) ([]byte, error) {
	ct := cachedTable{Base: t.Base, Rates: make(map[string]string, len(t.Rates)), FetchedAt: t.FetchedAt.UnixMilli()}
	for code, r := range t.Rates {
		ct.Rates[code] = r.String()
	}
	return msgpack.Marshal(&ct)
}

func decodeRateTable(b []byte) (core.RateTable, error) {
	var ct cachedTable
	if err := msgpack.Unmarshal(b, &ct); err != nil {
		return core.RateTable{}, fmt.Errorf("decode rate table: %w", err)
	}
	t := core.RateTable{Base: ct.Base, Rates: make(map[string]decimal.Decimal, len(ct.Rates)), FetchedAt: time.UnixMilli(ct.FetchedAt).UTC()}
	for code, s := range ct.Rates {
		r, err := decimal.NewFromString(s)
		if err != nil {
			return core.RateTable{}, fmt.Errorf("decode rate %s: %w", code, err)
		}
		t.Rates[code] = r
	}
	return t, nil
}

// LoadRateTable returns the persisted table for base regardless of age.
func (q *Queries) LoadRateTable(ctx context.Context, base string) (core.RateTable, error) {
	var data []byte
	err := q.db.QueryRowContext(ctx, `SELECT data FROM rate_cache WHERE base = ?`, base).Scan(&data)
	if err != nil {
		return core.RateTable{}, notFound(err, "rate table", base)
	}
	return decodeRateTable(data)
}

func (q *Queries) SaveRateTable(ctx context.Context, t core.RateTable) error {
	data, err := encodeRateTable(t)
	if err != nil {
		return fmt.Errorf("encode rate table: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rate_cache (base, data, fetched_at) VALUES (?, ?, ?)`,
		t.Base, data, t.FetchedAt.Unix())
	if err != nil {
		return fmt.Errorf("save rate table %s: %w", t.Base, err)
	}
	return nil
}

func (q *Queries) DeleteRateTable(ctx context.Context, base string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM rate_cache WHERE base = ?`, base); err != nil {
		return fmt.Errorf("delete rate table %s: %w", base, err)
	}
	return nil
}
