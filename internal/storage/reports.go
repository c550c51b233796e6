package storage

import (
	"context"
	"fmt"

	"ledgerbook/internal/core"
)

const reportColumns = `id, report_name, period_start, period_end, report_currency, exchange_rates, report_data,
       total_income, total_expense, net_change, created_at`

func scanReport(row rowScanner) (core.MonthlyReport, error) {
	var (
		r           core.MonthlyReport
		rates, data string
		created     timestamp
	)
	err := row.Scan(&r.ID, &r.Name, &r.PeriodStart, &r.PeriodEnd, &r.Currency, &rates, &data,
		&r.TotalIncome, &r.TotalExpense, &r.NetChange, &created)
	r.ExchangeRates = []byte(rates)
	r.ReportData = []byte(data)
	r.CreatedAt = created.Time
	return r, err
}

func (q *Queries) InsertReport(ctx context.Context, r core.MonthlyReport) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO monthly_reports (report_name, period_start, period_end, report_currency, exchange_rates,
		     report_data, total_income, total_expense, net_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.PeriodStart, r.PeriodEnd, r.Currency, string(r.ExchangeRates), string(r.ReportData),
		r.TotalIncome, r.TotalExpense, r.NetChange, formatTimestamp(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) GetReport(ctx context.Context, id int64) (core.MonthlyReport, error) {
	r, err := scanReport(q.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM monthly_reports WHERE id = ?`, id))
	if err != nil {
		return core.MonthlyReport{}, notFound(err, "report", id)
	}
	return r, nil
}

// FindReport returns the newest report covering exactly the given period
// in the given currency.
func (q *Queries) FindReport(ctx context.Context, start, end core.Date, currency string) (core.MonthlyReport, error) {
	r, err := scanReport(q.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM monthly_reports
		 WHERE period_start = ? AND period_end = ? AND report_currency = ?
		 ORDER BY id DESC LIMIT 1`, start, end, currency))
	if err != nil {
		return core.MonthlyReport{}, notFound(err, "report", start.String()+".."+end.String())
	}
	return r, nil
}

func (q *Queries) ListReports(ctx context.Context) ([]core.MonthlyReport, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM monthly_reports ORDER BY period_start DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteReport(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM monthly_reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return requireAffected(res, "report", id)
}
