package http

import (
	"net/http"
	"strings"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
)

// listAccounts returns every account, or only those of ?owner= when the
// query names one.
func (s *Server) listAccounts(r *http.Request) ([]core.Account, error) {
	accounts, err := s.deps.Store.ListAccounts(r.Context())
	if err != nil {
		return nil, err
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		return accounts, nil
	}
	filtered := accounts[:0]
	for _, a := range accounts {
		if strings.TrimSpace(a.Owner) == owner {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.listAccounts(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(accounts) == 0 {
		accounts = []core.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	account, err := s.deps.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var a core.Account
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	a.Name = sanitizeInput(a.Name)
	a.Owner = sanitizeInput(a.Owner)
	a.Country = sanitizeInput(a.Country)
	a.AssetType = sanitizeInput(a.AssetType)

	created, err := s.deps.Ledger.CreateAccount(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateAccount edits the labels of an account. The body carries
// only name, owner, country and asset_type; balances and currency are not
// editable here.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var l core.AccountLabels
	if err := decodeJSON(w, r, &l); err != nil {
		writeError(w, r, err)
		return
	}
	l.Name = sanitizeInput(l.Name)
	l.Owner = sanitizeInput(l.Owner)
	l.Country = sanitizeInput(l.Country)
	l.AssetType = sanitizeInput(l.AssetType)

	updated, err := s.deps.Ledger.UpdateAccount(r.Context(), id, l)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Ledger.DeleteAccount)
}

// handleRecomputeAccount replays the account history and reports drift
// without writing anything.
func (s *Server) handleRecomputeAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.deps.Ledger.RecomputeBalance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ledger.Reconciliation
		InSync bool `json:"in_sync"`
	}{rec, rec.InSync()})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Store.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []core.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c core.Category
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.Name = sanitizeInput(c.Name)
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var c core.Category
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = id
	c.Name = sanitizeInput(c.Name)
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.deps.Store.UpdateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Store.DeleteCategory)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.deps.Store.ListCurrencies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if currencies == nil {
		currencies = []core.Currency{}
	}
	writeJSON(w, http.StatusOK, currencies)
}

func (s *Server) handleCreateCurrency(w http.ResponseWriter, r *http.Request) {
	var c core.Currency
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.Code = core.NormalizeCurrency(c.Code)
	c.Name = sanitizeInput(c.Name)
	c.Symbol = sanitizeInput(c.Symbol)
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateCurrency(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCurrency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var c core.Currency
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = id
	c.Code = core.NormalizeCurrency(c.Code)
	c.Name = sanitizeInput(c.Name)
	c.Symbol = sanitizeInput(c.Symbol)
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.deps.Store.UpdateCurrency(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCurrency(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Store.DeleteCurrency)
}
