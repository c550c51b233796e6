// Package http serves the ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/log"
	"ledgerbook/internal/middleware/ratelimit"
	"ledgerbook/internal/middleware/security"
	"ledgerbook/internal/middleware/trace"
	"ledgerbook/internal/rates"
	"ledgerbook/internal/report"
)

type (
	// Store is the read side of the ledger plus the reference data the API
	// edits directly.
	Store interface {
		GetAccount(ctx context.Context, id int64) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
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
		UpsertManualRate(ctx context.Context, r core.ManualExchangeRate) (core.ManualExchangeRate, error)
		UpdateManualRate(ctx context.Context, id int64, rate decimal.Decimal, description string) error
		DeleteManualRate(ctx context.Context, id int64) error

		Ping(ctx context.Context) error
	}

	// Ledger mutates balances. ledger.Engine satisfies it.
	Ledger interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		UpdateAccount(ctx context.Context, id int64, l core.AccountLabels) (core.Account, error)
		DeleteAccount(ctx context.Context, id int64) error
		RecordTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		EditTransaction(ctx context.Context, id int64, next core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id int64) error
		RecordExchange(ctx context.Context, ex core.Exchange) (core.Exchange, error)
		DeleteExchange(ctx context.Context, id int64) error
		RecordBalanceAdjustment(ctx context.Context, adj core.BalanceAdjustment) (core.BalanceAdjustment, error)
		DeleteBalanceAdjustment(ctx context.Context, id int64) error
		RecomputeBalance(ctx context.Context, accountID int64) (ledger.Reconciliation, error)
	}

	// Rates resolves exchange rates. rates.Resolver satisfies it.
	Rates interface {
		GetRates(ctx context.Context, base string) (core.RateTable, error)
		GetRate(ctx context.Context, from, to string) rates.Rate
		Convert(ctx context.Context, amount decimal.Decimal, from, to string) rates.Conversion
		ConvertBalances(ctx context.Context, balances []core.CurrencyBalance, target string) rates.Total
		ForceRefresh(ctx context.Context, base string) (core.RateTable, error)
		CacheAge(ctx context.Context, base string) (time.Duration, bool)
		Available(ctx context.Context) bool
	}

	// Reports generates and reads report snapshots. report.Snapshotter
	// satisfies it.
	Reports interface {
		Generate(ctx context.Context, req report.Request) (core.MonthlyReport, error)
		Get(ctx context.Context, id int64) (core.MonthlyReport, error)
		List(ctx context.Context) ([]core.MonthlyReport, error)
		View(ctx context.Context, id int64) (report.View, error)
		Delete(ctx context.Context, id int64) error
	}
)

// Deps wires the server to the domain.
type Deps struct {
	Store   Store
	Ledger  Ledger
	Rates   Rates
	Reports Reports
	Logger  *log.Logger

	// DefaultCurrency is used when a request names no target currency.
	DefaultCurrency string
	// Now overrides the clock used for month defaults.
	Now func() time.Time
}

// Options tune the middleware stack.
type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "USD"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	detector := security.NewDetector()
	s := &Server{
		deps:     deps,
		logger:   deps.Logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP, deps.Logger),
	}

	router := chi.NewRouter()
	s.setupMiddleware(router, opts)
	s.setupRoutes(router)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(router chi.Router, opts Options) {
	router.Use(s.tracer.Middleware)
	router.Use(middleware.Recoverer)
	router.Use(s.detector.Middleware(s.deps.Logger))
	router.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", trace.HeaderRequestID},
		ExposedHeaders: []string{trace.HeaderRequestID, "Retry-After"},
		MaxAge:         300,
	}))
	router.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			"client_ip", s.detector.ExtractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path)
		TooManyRequestsError().Write(w)
	}))
	router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes(router chi.Router) {
	router.Get("/health", s.handleHealth)

	router.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Put("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Get("/{id}/recompute", s.handleRecomputeAccount)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleCreateCategory)
			r.Put("/{id}", s.handleUpdateCategory)
			r.Delete("/{id}", s.handleDeleteCategory)
		})

		r.Route("/currencies", func(r chi.Router) {
			r.Get("/", s.handleListCurrencies)
			r.Post("/", s.handleCreateCurrency)
			r.Put("/{id}", s.handleUpdateCurrency)
			r.Delete("/{id}", s.handleDeleteCurrency)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleCreateTransaction)
			r.Put("/{id}", s.handleUpdateTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
		})

		r.Route("/exchanges", func(r chi.Router) {
			r.Get("/", s.handleListExchanges)
			r.Post("/", s.handleCreateExchange)
			r.Delete("/{id}", s.handleDeleteExchange)
		})

		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", s.handleListAdjustments)
			r.Post("/", s.handleCreateAdjustment)
			r.Delete("/{id}", s.handleDeleteAdjustment)
		})

		r.Route("/manual-rates", func(r chi.Router) {
			r.Get("/", s.handleListManualRates)
			r.Post("/", s.handleUpsertManualRate)
			r.Put("/{id}", s.handleUpdateManualRate)
			r.Delete("/{id}", s.handleDeleteManualRate)
		})

		r.Route("/rates", func(r chi.Router) {
			r.Post("/convert", s.handleConvert)
			r.Get("/{base}", s.handleGetRates)
			r.Get("/{base}/age", s.handleCacheAge)
			r.Post("/{base}/refresh", s.handleRefreshRates)
			r.Get("/{from}/{to}", s.handleGetRate)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Post("/", s.handleGenerateReport)
			r.Get("/{id}", s.handleGetReport)
			r.Get("/{id}/view", s.handleViewReport)
			r.Delete("/{id}", s.handleDeleteReport)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/balances/currency", s.handleBalancesByCurrency)
			r.Get("/balances/owner", s.handleBalancesByOwner)
			r.Get("/balances/country", s.handleBalancesByCountry)
			r.Get("/balances/asset-type", s.handleBalancesByAssetType)
			r.Get("/owners", s.handleOwners)
			r.Get("/expenses/categories", s.handleExpensesByCategory)
			r.Get("/net-worth", s.handleNetWorth)
		})
	})
}

// Shutdown gracefully shuts down the server and the limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type healthResponse struct {
	Status    string       `json:"status"`
	Database  string       `json:"database"`
	RatesFeed string       `json:"rates_feed"`
	Traffic   trafficStats `json:"traffic"`
}

type trafficStats struct {
	Requests           int64   `json:"requests"`
	AvgResponseMillis  float64 `json:"avg_response_ms"`
	SuspiciousRequests int64   `json:"suspicious_requests"`
	TrackedClients     int64   `json:"tracked_clients"`
}

func (s *Server) trafficStats() trafficStats {
	traced := s.tracer.GetMetrics()
	return trafficStats{
		Requests:           traced.TotalRequests,
		AvgResponseMillis:  float64(traced.AverageResponseTime().Microseconds()) / 1000,
		SuspiciousRequests: s.detector.GetMetrics().SuspiciousRequests,
		TrackedClients:     s.limiter.GetMetrics().ClientCount,
	}
}

// handleHealth reports database reachability, whether the rate feed
// answers and request counters. An unreachable feed degrades but does not
// fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", RatesFeed: "available", Traffic: s.trafficStats()}
	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Health check database ping failed", log.FieldError, err.Error())
		resp.Status, resp.Database = "unavailable", "unreachable"
		status = http.StatusServiceUnavailable
	}
	if s.deps.Rates != nil && !s.deps.Rates.Available(ctx) {
		resp.RatesFeed = "unavailable"
		if status == http.StatusOK {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, status, resp)
}
