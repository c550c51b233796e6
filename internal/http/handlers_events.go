package http

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseTransactionFilter(r.URL.Query(), s.deps.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.deps.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.TransactionDetail{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var t core.Transaction
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	t.Description = sanitizeInput(t.Description)
	if t.Date.IsZero() {
		t.Date = core.DateOf(s.deps.Now())
	}

	created, err := s.deps.Ledger.RecordTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var t core.Transaction
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	t.Description = sanitizeInput(t.Description)

	updated, err := s.deps.Ledger.EditTransaction(r.Context(), id, t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Ledger.DeleteTransaction)
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := s.deps.Store.ListExchanges(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exchanges == nil {
		exchanges = []core.ExchangeDetail{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (s *Server) handleCreateExchange(w http.ResponseWriter, r *http.Request) {
	var ex core.Exchange
	if err := decodeJSON(w, r, &ex); err != nil {
		writeError(w, r, err)
		return
	}
	ex.Description = sanitizeInput(ex.Description)
	if ex.Date.IsZero() {
		ex.Date = core.DateOf(s.deps.Now())
	}

	created, err := s.deps.Ledger.RecordExchange(r.Context(), ex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteExchange(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Ledger.DeleteExchange)
}

func (s *Server) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, err := parseDateParam(query, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDateParam(query, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	adjs, err := s.deps.Store.ListAdjustments(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if adjs == nil {
		adjs = []core.AdjustmentDetail{}
	}
	writeJSON(w, http.StatusOK, adjs)
}

// adjustmentRequest carries only the caller-controlled fields; old
// balance and difference are derived from the account.
type adjustmentRequest struct {
	AccountID  int64           `json:"account_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Reason     string          `json:"reason"`
	Date       core.Date       `json:"date"`
}

func (s *Server) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Date.IsZero() {
		req.Date = core.DateOf(s.deps.Now())
	}

	created, err := s.deps.Ledger.RecordBalanceAdjustment(r.Context(), core.BalanceAdjustment{
		AccountID:  req.AccountID,
		NewBalance: req.NewBalance,
		Reason:     sanitizeInput(req.Reason),
		Date:       req.Date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Ledger.DeleteBalanceAdjustment)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, id int64) error) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
