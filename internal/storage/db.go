package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgerbook/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries runs the ledger statements against a DBTX.
type Queries struct {
	db  DBTX
	now func() time.Time
}

func New(db DBTX) *Queries {
	return &Queries{db: db, now: time.Now}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, now: q.now}
}

// timestamp scans TEXT or DATETIME columns into a time.Time.
type timestamp struct {
	time.Time
}

const timestampLayout = time.RFC3339Nano

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	case []byte:
		src = string(v)
	}
	s, ok := src.(string)
	if !ok {
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("scan timestamp: cannot parse %q", s)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// notFound maps sql.ErrNoRows to core.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %v: %w", what, id, err)
}

// requireAffected returns core.ErrNotFound when a statement touched no rows.
func requireAffected(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, core.ErrNotFound)
	}
	return nil
}
