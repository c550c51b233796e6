package backend

import (
	"context"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/sheets"
)

// Store is everything the binaries need from a ledger store. Both the
// SQLite repository and the in-memory store satisfy it.
type Store interface {
	ledger.Store

	GetAccount(ctx context.Context, id int64) (core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	AccountCurrencies(ctx context.Context) ([]string, error)
	ListCurrencies(ctx context.Context) ([]core.Currency, error)
	CreateCurrency(ctx context.Context, c core.Currency) (core.Currency, error)
	UpdateCurrency(ctx context.Context, c core.Currency) (core.Currency, error)
	DeleteCurrency(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.TransactionDetail, error)
	ListExchanges(ctx context.Context) ([]core.ExchangeDetail, error)
	ListAdjustments(ctx context.Context, start, end core.Date) ([]core.AdjustmentDetail, error)

	ListManualRates(ctx context.Context) ([]core.ManualExchangeRate, error)
	GetManualRate(ctx context.Context, from, to string) (core.ManualExchangeRate, error)
	UpsertManualRate(ctx context.Context, r core.ManualExchangeRate) (core.ManualExchangeRate, error)
	UpdateManualRate(ctx context.Context, id int64, rate decimal.Decimal, description string) error
	DeleteManualRate(ctx context.Context, id int64) error

	LoadRateTable(ctx context.Context, base string) (core.RateTable, error)
	SaveRateTable(ctx context.Context, t core.RateTable) error
	DeleteRateTable(ctx context.Context, base string) error

	InsertReport(ctx context.Context, r core.MonthlyReport) (int64, error)
	GetReport(ctx context.Context, id int64) (core.MonthlyReport, error)
	FindReport(ctx context.Context, start, end core.Date, currency string) (core.MonthlyReport, error)
	ListReports(ctx context.Context) ([]core.MonthlyReport, error)
	DeleteReport(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds the store plus the optional report exporter. Exporter is
// nil when exporting is disabled.
type Result struct {
	Store    Store
	Exporter sheets.ReportExporter
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type         BackendType
	SQLiteDBPath string
	// DataDirectory holds the seed files read by the memory backend.
	DataDirectory string

	Export ExportType
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// ExportType selects where generated reports are copied.
type ExportType string

const (
	ExportNone   ExportType = "none"
	ExportMemory ExportType = "memory"
	ExportSheets ExportType = "sheets"
)

func (et ExportType) IsValid() bool {
	switch et {
	case ExportNone, ExportMemory, ExportSheets:
		return true
	default:
		return false
	}
}
