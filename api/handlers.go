// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"symbiont/core/feedback"
	"symbiont/core/monitor"
	"symbiont/core/orchestrator"
	"symbiont/core/privacy"
)

// statusForKind maps a failed request's error kind to the HTTP status the
// caller sees. Cancellation maps to 408 because the standard library has
// no client-closed-request status.
func statusForKind(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.KindBudgetExceeded:
		return http.StatusTooManyRequests
	case orchestrator.KindGateBlocked, orchestrator.KindTribunalDenied:
		return http.StatusForbidden
	case orchestrator.KindModelFilteredEmpty:
		return http.StatusUnprocessableEntity
	case orchestrator.KindExecutionFailed:
		return http.StatusBadGateway
	case orchestrator.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	var input orchestrator.ProcessInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// Authenticated callers may omit the user id; the token subject is it.
	if input.UserID == "" {
		input.UserID = Subject(r.Context())
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := s.deps.Pipeline.Process(ctx, input)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	setTransparencyHeaders(w, req)
	status := http.StatusOK
	if !req.Success {
		status = statusForKind(req.ErrorKind)
	}
	s.writeJSON(w, status, req)
}

func (s *Server) requestHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.deps.Pipeline.Request(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "request not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) recentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests := s.deps.Pipeline.Recent(queryInt(r, "limit", 20))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(requests),
		"requests": requests,
	})
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	var snap interface{}
	switch mux.Vars(r)["component"] {
	case "orchestrator":
		snap = s.deps.Pipeline.Snapshot()
	case "router":
		snap = map[string]interface{}{
			"providers":   s.deps.Router.ProviderStatuses(r.Context()),
			"performance": s.deps.Router.Performance().Snapshot(),
		}
	case "privacy":
		snap = s.deps.Privacy.Snapshot()
	case "memory":
		snap = s.deps.Memory.Snapshot()
	case "monitor":
		snap = s.deps.Monitors.Snapshot()
	case "feedback":
		snap = s.deps.Feedback.Snapshot()
	default:
		s.writeError(w, "unknown component", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.deps.Router.ProviderStatuses(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(statuses),
		"providers": statuses,
	})
}

func (s *Server) performanceHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Router.Performance().Snapshot())
}

func (s *Server) ariReportHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	report, err := s.deps.Monitors.ARI.Report(userID, queryInt(r, "window", 0))
	if err != nil {
		if errors.Is(err, monitor.ErrNoSamples) {
			s.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) budgetHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Privacy.Budget(mux.Vars(r)["id"]))
}

func (s *Server) consentHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Privacy.Consent(apiRequestID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) updateConsentHandler(w http.ResponseWriter, r *http.Request) {
	var record privacy.ConsentRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// The path, not the body, names the user.
	record.UserID = mux.Vars(r)["id"]

	stored, err := s.deps.Privacy.RecordConsent(apiRequestID(r), record)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) userDebtsHandler(w http.ResponseWriter, r *http.Request) {
	debts := s.deps.Monitors.EDM.Debts(mux.Vars(r)["id"], queryBool(r, "open"))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(debts),
		"debts": debts,
	})
}

func (s *Server) memoryStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   s.deps.Memory.UserStats(userID),
		"threads": s.deps.Memory.Threads(userID),
	})
}

func (s *Server) rdiHandler(w http.ResponseWriter, r *http.Request) {
	current, err := s.deps.Monitors.RDI.Current(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, monitor.ErrNoSamples) {
			s.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, current)
}

func (s *Server) rdiOptInHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptIn bool `json:"opt_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := mux.Vars(r)["id"]
	s.deps.Monitors.RDI.SetExportOptIn(userID, body.OptIn)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"opt_in":  body.OptIn,
	})
}

func (s *Server) rdiExportHandler(w http.ResponseWriter, r *http.Request) {
	export, err := s.deps.Monitors.RDI.Export(mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrExportNotPermitted):
			s.writeError(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, monitor.ErrNoSamples):
			s.writeError(w, err.Error(), http.StatusNotFound)
		default:
			s.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, export)
}

func (s *Server) debtsHandler(w http.ResponseWriter, r *http.Request) {
	debts := s.deps.Monitors.EDM.Debts(r.URL.Query().Get("user"), queryBool(r, "open"))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(debts),
		"debts": debts,
	})
}

func (s *Server) debtHandler(w http.ResponseWriter, r *http.Request) {
	debt, err := s.deps.Monitors.EDM.Debt(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, debt)
}

func (s *Server) resolveDebtHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status monitor.DebtStatus `json:"status"`
		Method string             `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validResolution(body.Status) {
		s.writeError(w, "status must be verified, disputed, false, or unverifiable", http.StatusBadRequest)
		return
	}
	if body.Method == "" {
		body.Method = "manual"
	}

	debt, err := s.deps.Monitors.EDM.Resolve(mux.Vars(r)["id"], body.Status, body.Method)
	if err != nil {
		if errors.Is(err, monitor.ErrDebtNotFound) {
			s.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, debt)
}

// validResolution accepts the closed fact-check verdicts; pending would
// reopen the debt through the resolve endpoint, so it is rejected.
func validResolution(status monitor.DebtStatus) bool {
	switch status {
	case monitor.StatusVerified, monitor.StatusDisputed, monitor.StatusFalse, monitor.StatusUnverifiable:
		return true
	}
	return false
}

func (s *Server) suggestionsHandler(w http.ResponseWriter, r *http.Request) {
	suggestions := s.deps.Feedback.Suggestions(
		r.URL.Query().Get("component"),
		queryBool(r, "implemented"),
	)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(suggestions),
		"suggestions": suggestions,
	})
}

func (s *Server) approveSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	suggestion, err := s.deps.Feedback.Approve(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, feedback.ErrSuggestionNotFound) {
			s.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

// apiRequestID tags consent journal entries written on behalf of API
// callers rather than pipeline runs.
func apiRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return "api"
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
