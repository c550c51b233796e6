// Package report freezes period aggregates and the rates needed to read
// them into immutable MonthlyReport rows.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/rates"
)

type (
	Store interface {
		ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.TransactionDetail, error)
		ListAdjustments(ctx context.Context, start, end core.Date) ([]core.AdjustmentDetail, error)
		AccountCurrencies(ctx context.Context) ([]string, error)
		InsertReport(ctx context.Context, r core.MonthlyReport) (int64, error)
		GetReport(ctx context.Context, id int64) (core.MonthlyReport, error)
		FindReport(ctx context.Context, start, end core.Date, currency string) (core.MonthlyReport, error)
		ListReports(ctx context.Context) ([]core.MonthlyReport, error)
		DeleteReport(ctx context.Context, id int64) error
	}

	// RateSource resolves "1 from = ? to". rates.Resolver satisfies it.
	RateSource interface {
		GetRate(ctx context.Context, from, to string) rates.Rate
	}

	// Publisher announces new reports to downstream exporters.
	Publisher interface {
		PublishReportGenerated(ctx context.Context, reportID int64) error
	}
)

// Request describes the report to generate. An empty Name becomes
// "<start> - <end>".
type Request struct {
	Name        string    `json:"report_name"`
	PeriodStart core.Date `json:"period_start"`
	PeriodEnd   core.Date `json:"period_end"`
	Currency    string    `json:"report_currency"`
}

func (r Request) Validate() error {
	if err := r.PeriodStart.Validate(); err != nil {
		return fmt.Errorf("period start: %w", err)
	}
	if err := r.PeriodEnd.Validate(); err != nil {
		return fmt.Errorf("period end: %w", err)
	}
	if r.PeriodStart.After(r.PeriodEnd.Time) {
		return core.ErrInvalidPeriod
	}
	return core.ValidateCurrency(core.NormalizeCurrency(r.Currency))
}

type Snapshotter struct {
	store     Store
	rates     RateSource
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

type Option func(*Snapshotter)

// WithPublisher enables report.generated messages.
func WithPublisher(p Publisher) Option {
	return func(s *Snapshotter) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Snapshotter) { s.now = now }
}

func NewSnapshotter(store Store, rates RateSource, logger *log.Logger, opts ...Option) *Snapshotter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &Snapshotter{
		store:  store,
		rates:  rates,
		logger: logger.WithComponent(log.ComponentReport),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate aggregates the period, freezes one rate per account currency and
// stores the result. The returned report is the stored row.
func (s *Snapshotter) Generate(ctx context.Context, req Request) (core.MonthlyReport, error) {
	if err := req.Validate(); err != nil {
		return core.MonthlyReport{}, err
	}
	currency := core.NormalizeCurrency(req.Currency)
	name := req.Name
	if name == "" {
		name = req.PeriodStart.String() + " - " + req.PeriodEnd.String()
	}

	txs, err := s.store.ListTransactions(ctx, core.TransactionFilter{Start: req.PeriodStart, End: req.PeriodEnd})
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("list transactions: %w", err)
	}
	adjs, err := s.store.ListAdjustments(ctx, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("list adjustments: %w", err)
	}
	currencies, err := s.store.AccountCurrencies(ctx)
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("list account currencies: %w", err)
	}

	frozen, unresolved := s.freezeRates(ctx, currency, currencies)

	data := core.ReportData{
		Transactions:         txs,
		IncomeByCategory:     core.AggregateByCategory(txs, core.Income),
		ExpensesByCategory:   core.AggregateByCategory(txs, core.Expense),
		ExpensesByCurrency:   core.AggregateByCurrency(txs, core.Expense),
		Adjustments:          adjs,
		AccountCurrencies:    currencies,
		UnresolvedCurrencies: unresolved,
	}
	if data.Transactions == nil {
		data.Transactions = []core.TransactionDetail{}
	}
	if data.Adjustments == nil {
		data.Adjustments = []core.AdjustmentDetail{}
	}
	if data.AccountCurrencies == nil {
		data.AccountCurrencies = []string{}
	}

	income := sumConverted(data.IncomeByCategory, currency, frozen)
	expense := sumConverted(data.ExpensesByCategory, currency, frozen)

	ratesJSON, err := core.EncodeRates(frozen)
	if err != nil {
		return core.MonthlyReport{}, err
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("encode report data: %w", err)
	}

	report := core.MonthlyReport{
		Name:          name,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		Currency:      currency,
		ExchangeRates: ratesJSON,
		ReportData:    dataJSON,
		TotalIncome:   income,
		TotalExpense:  expense,
		NetChange:     income.Sub(expense),
		CreatedAt:     s.now().UTC(),
	}
	report.ID, err = s.store.InsertReport(ctx, report)
	if err != nil {
		return core.MonthlyReport{}, core.Persist("insert report", err)
	}

	log.NewStructuredLogger(s.logger).LogReportGenerated(ctx, report.ID,
		report.PeriodStart.String(), report.PeriodEnd.String(), report.Currency)
	if len(unresolved) > 0 {
		s.logger.WarnContext(ctx, "Report frozen with unresolved rates",
			log.FieldReportID, report.ID, "currencies", unresolved)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishReportGenerated(ctx, report.ID); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish report", log.FieldReportID, report.ID, log.FieldError, err)
		}
	}
	return report, nil
}

// freezeRates resolves 1 reportCurrency = rate c for every c. Unknown rates
// are frozen at 1 and reported back.
func (s *Snapshotter) freezeRates(ctx context.Context, reportCurrency string, currencies []string) (map[string]decimal.Decimal, []string) {
	frozen := map[string]decimal.Decimal{reportCurrency: decimal.NewFromInt(1)}
	var unresolved []string
	for _, c := range currencies {
		c = core.NormalizeCurrency(c)
		if _, done := frozen[c]; done {
			continue
		}
		r := s.rates.GetRate(ctx, reportCurrency, c)
		frozen[c] = r.Value
		if !r.Known {
			unresolved = append(unresolved, c)
		}
		s.logger.DebugContext(ctx, "Rate frozen",
			log.FieldCurrency, c, log.FieldRate, r.Value.String(), log.FieldRateSource, string(r.Source))
	}
	return frozen, unresolved
}

// toReportCurrency divides by the frozen rate since rates read
// 1 reportCurrency = rate code.
func toReportCurrency(amount decimal.Decimal, code, reportCurrency string, frozen map[string]decimal.Decimal) (decimal.Decimal, bool) {
	if code == reportCurrency {
		return amount, true
	}
	r, ok := frozen[code]
	if !ok || !r.IsPositive() {
		return amount, false
	}
	return amount.Div(r), true
}

func sumConverted(rows []core.CategoryTotal, reportCurrency string, frozen map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		v, _ := toReportCurrency(row.TotalAmount, row.CurrencyCode, reportCurrency, frozen)
		total = total.Add(v)
	}
	return total
}

func (s *Snapshotter) Get(ctx context.Context, id int64) (core.MonthlyReport, error) {
	return s.store.GetReport(ctx, id)
}

func (s *Snapshotter) List(ctx context.Context) ([]core.MonthlyReport, error) {
	return s.store.ListReports(ctx)
}

// Delete is the only mutation a stored report supports.
func (s *Snapshotter) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteReport(ctx, id); err != nil {
		return core.Persist("delete report", err)
	}
	s.logger.InfoContext(ctx, "Report deleted", log.FieldReportID, id, log.FieldOperation, log.OpDelete)
	return nil
}

// Find returns the newest report for the exact period and currency.
func (s *Snapshotter) Find(ctx context.Context, start, end core.Date, currency string) (core.MonthlyReport, bool, error) {
	r, err := s.store.FindReport(ctx, start, end, core.NormalizeCurrency(currency))
	if errors.Is(err, core.ErrNotFound) {
		return core.MonthlyReport{}, false, nil
	}
	if err != nil {
		return core.MonthlyReport{}, false, err
	}
	return r, true, nil
}

// View loads a report and renders it from its frozen rates.
func (s *Snapshotter) View(ctx context.Context, id int64) (View, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return View{}, err
	}
	return Render(r)
}

// PreviousMonth returns the first and last day of the calendar month
// before the one containing now.
func PreviousMonth(now time.Time) (core.Date, core.Date) {
	y, m, _ := now.UTC().Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, -1, 0)
	end := first.AddDate(0, 0, -1)
	return core.DateOf(start), core.DateOf(end)
}
