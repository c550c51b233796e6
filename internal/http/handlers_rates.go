package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/rates"
)

// manualRateView adds the age labels shown next to a manual rate.
type manualRateView struct {
	core.ManualExchangeRate
	InverseRate decimal.Decimal `json:"inverse_rate"`
	AgeSeconds  int64           `json:"age_seconds"`
	Current     bool            `json:"current"`
}

func (s *Server) manualRateView(r core.ManualExchangeRate) manualRateView {
	now := s.deps.Now()
	return manualRateView{
		ManualExchangeRate: r,
		InverseRate:        r.Inverse(),
		AgeSeconds:         int64(r.Age(now) / time.Second),
		Current:            r.IsCurrent(now),
	}
}

func (s *Server) handleListManualRates(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListManualRates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]manualRateView, 0, len(list))
	for _, mr := range list {
		out = append(out, s.manualRateView(mr))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpsertManualRate creates the pair or replaces its rate.
func (s *Server) handleUpsertManualRate(w http.ResponseWriter, r *http.Request) {
	var mr core.ManualExchangeRate
	if err := decodeJSON(w, r, &mr); err != nil {
		writeError(w, r, err)
		return
	}
	mr.FromCurrency = core.NormalizeCurrency(mr.FromCurrency)
	mr.ToCurrency = core.NormalizeCurrency(mr.ToCurrency)
	mr.Description = sanitizeInput(mr.Description)
	if err := mr.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := s.deps.Store.UpsertManualRate(r.Context(), mr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manualRateView(saved))
}

type manualRateUpdate struct {
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description"`
}

func (s *Server) handleUpdateManualRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req manualRateUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Rate.IsPositive() {
		writeError(w, r, core.ErrInvalidRate)
		return
	}
	if err := s.deps.Store.UpdateManualRate(r.Context(), id, req.Rate, sanitizeInput(req.Description)); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteManualRate(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Store.DeleteManualRate)
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	base, err := pathCurrency(r, "base")
	if err != nil {
		writeError(w, r, err)
		return
	}
	table, err := s.deps.Rates.GetRates(r.Context(), base)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	from, err := pathCurrency(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := pathCurrency(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rate := s.deps.Rates.GetRate(r.Context(), from, to)
	writeJSON(w, http.StatusOK, struct {
		From string     `json:"from"`
		To   string     `json:"to"`
		Rate rates.Rate `json:"rate"`
	}{from, to, rate})
}

type convertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	from, to := core.NormalizeCurrency(req.From), core.NormalizeCurrency(req.To)
	for _, code := range []string{from, to} {
		if err := core.ValidateCurrency(code); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Rates.Convert(r.Context(), req.Amount, from, to))
}

func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	base, err := pathCurrency(r, "base")
	if err != nil {
		writeError(w, r, err)
		return
	}
	table, err := s.deps.Rates.ForceRefresh(r.Context(), base)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

type cacheAgeResponse struct {
	Base       string `json:"base"`
	Cached     bool   `json:"cached"`
	AgeSeconds int64  `json:"age_seconds,omitempty"`
}

func (s *Server) handleCacheAge(w http.ResponseWriter, r *http.Request) {
	base, err := pathCurrency(r, "base")
	if err != nil {
		writeError(w, r, err)
		return
	}
	age, ok := s.deps.Rates.CacheAge(r.Context(), base)
	resp := cacheAgeResponse{Base: base, Cached: ok}
	if ok {
		resp.AgeSeconds = int64(age / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}
