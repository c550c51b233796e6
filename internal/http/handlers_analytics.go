package http

import (
	"net/http"
	"sort"
	"strings"

	"ledgerbook/internal/core"
	"ledgerbook/internal/rates"
)

func (s *Server) handleBalancesByCurrency(w http.ResponseWriter, r *http.Request) {
	s.writeBalanceSummary(w, r, func(a core.Account) string { return a.CurrencyCode })
}

// handleBalancesByOwner groups by owner and currency. Accounts without an
// owner are listed under "Unassigned".
func (s *Server) handleBalancesByOwner(w http.ResponseWriter, r *http.Request) {
	s.writeBalanceSummary(w, r, func(a core.Account) string {
		if owner := strings.TrimSpace(a.Owner); owner != "" {
			return owner
		}
		return "Unassigned"
	})
}

func (s *Server) handleBalancesByCountry(w http.ResponseWriter, r *http.Request) {
	s.writeBalanceSummary(w, r, labelOr(func(a core.Account) string { return a.Country }, "Unspecified"))
}

func (s *Server) handleBalancesByAssetType(w http.ResponseWriter, r *http.Request) {
	s.writeBalanceSummary(w, r, labelOr(func(a core.Account) string { return a.AssetType }, "Unspecified"))
}

func labelOr(field func(core.Account) string, fallback string) func(core.Account) string {
	return func(a core.Account) string {
		if v := strings.TrimSpace(field(a)); v != "" {
			return v
		}
		return fallback
	}
}

// writeBalanceSummary groups balances by group and currency, restricted to
// ?owner= when given.
func (s *Server) writeBalanceSummary(w http.ResponseWriter, r *http.Request, group func(core.Account) string) {
	accounts, err := s.listAccounts(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.SummarizeBalances(accounts, group))
}

// handleOwners lists the distinct non-empty account owners in order.
func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	seen := map[string]bool{}
	owners := []string{}
	for _, a := range accounts {
		owner := strings.TrimSpace(a.Owner)
		if owner != "" && !seen[owner] {
			seen[owner] = true
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	writeJSON(w, http.StatusOK, owners)
}

// handleExpensesByCategory totals expenses per category and currency over
// the period named by start/end or year/month, largest first.
func (s *Server) handleExpensesByCategory(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseTransactionFilter(r.URL.Query(), s.deps.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.Type = core.Expense
	txs, err := s.deps.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.AggregateByCategory(txs, core.Expense))
}

// handleNetWorth sums account balances, optionally only those of ?owner=,
// in ?currency= (default: the configured report currency). Balances in currencies without a known rate
// are added at face value and listed in "unconverted".
func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	target := core.NormalizeCurrency(r.URL.Query().Get("currency"))
	if target == "" {
		target = s.deps.DefaultCurrency
	}
	if err := core.ValidateCurrency(target); err != nil {
		writeError(w, r, err)
		return
	}

	accounts, err := s.listAccounts(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	balances := make([]core.CurrencyBalance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, core.CurrencyBalance{Amount: a.Balance, Currency: a.CurrencyCode})
	}

	total := s.deps.Rates.ConvertBalances(r.Context(), balances, target)
	writeJSON(w, http.StatusOK, struct {
		Total    rates.Total `json:"total"`
		Complete bool        `json:"complete"`
		Accounts int         `json:"accounts"`
	}{total, total.Complete(), len(accounts)})
}
