package http

import (
	"net/http"

	"ledgerbook/internal/core"
	"ledgerbook/internal/report"
)

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.deps.Reports.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []core.MonthlyReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleGenerateReport freezes a new report. A request without a period
// covers the previous calendar month; one without a currency uses the
// configured default.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req report.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PeriodStart.IsZero() && req.PeriodEnd.IsZero() {
		req.PeriodStart, req.PeriodEnd = report.PreviousMonth(s.deps.Now())
	}
	if req.Currency == "" {
		req.Currency = s.deps.DefaultCurrency
	}
	req.Name = sanitizeInput(req.Name)

	generated, err := s.deps.Reports.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, generated)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleViewReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.deps.Reports.View(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.deps.Reports.Delete)
}
