// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the runtime over HTTP: request processing, component
// snapshots, per-user monitor reports, consent and budget surfaces, and a
// live event stream. The surface is read-mostly; the mutating endpoints are
// request processing, consent updates, debt resolution, RDI export opt-in,
// and suggestion approval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/memory"
	"symbiont/core/monitor"
	"symbiont/core/orchestrator"
	"symbiont/core/privacy"
	"symbiont/core/router"
	"symbiont/core/shared/logger"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Deps are the runtime components the server fronts. All of them are
// required; the server never substitutes a missing one.
type Deps struct {
	Pipeline *orchestrator.Pipeline
	Router   *router.Router
	Privacy  *privacy.Engine
	Memory   *memory.ContextStore
	Monitors *monitor.Suite
	Feedback *feedback.Loop
	Bus      *events.Bus
}

func (d Deps) validate() error {
	switch {
	case d.Pipeline == nil:
		return errors.New("api: pipeline is required")
	case d.Router == nil:
		return errors.New("api: router is required")
	case d.Privacy == nil:
		return errors.New("api: privacy engine is required")
	case d.Memory == nil:
		return errors.New("api: context store is required")
	case d.Monitors == nil:
		return errors.New("api: monitor suite is required")
	case d.Feedback == nil:
		return errors.New("api: feedback loop is required")
	case d.Bus == nil:
		return errors.New("api: event bus is required")
	}
	return nil
}

// Server serves the collaborator API.
type Server struct {
	cfg  config.APIConfig
	deps Deps
	log  *logger.Logger
	http *http.Server
}

// NewServer wires routes and middleware. It does not start listening;
// call Start.
func NewServer(cfg config.APIConfig, deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger.New("api"),
	}

	// WriteTimeout stays unset: the event stream holds its response open
	// for the life of the subscription.
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler builds the full handler chain: CORS around the mux router, with
// bearer auth on the versioned API. Health, readiness, and metrics stay
// outside auth so probes need no token.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Liveness and metrics
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.bearerAuth())

	// Request processing
	api.HandleFunc("/requests", s.processHandler).Methods("POST")
	api.HandleFunc("/requests", s.recentRequestsHandler).Methods("GET")
	api.HandleFunc("/requests/{id}", s.requestHandler).Methods("GET")

	// Component snapshots
	api.HandleFunc("/snapshots/{component}", s.snapshotHandler).Methods("GET")

	// Model routing
	api.HandleFunc("/providers", s.providersHandler).Methods("GET")
	api.HandleFunc("/performance", s.performanceHandler).Methods("GET")

	// Per-user surfaces
	api.HandleFunc("/users/{id}/ari", s.ariReportHandler).Methods("GET")
	api.HandleFunc("/users/{id}/budget", s.budgetHandler).Methods("GET")
	api.HandleFunc("/users/{id}/consent", s.consentHandler).Methods("GET")
	api.HandleFunc("/users/{id}/consent", s.updateConsentHandler).Methods("PUT")
	api.HandleFunc("/users/{id}/debts", s.userDebtsHandler).Methods("GET")
	api.HandleFunc("/users/{id}/memory", s.memoryStatsHandler).Methods("GET")
	api.HandleFunc("/users/{id}/rdi", s.rdiHandler).Methods("GET")
	api.HandleFunc("/users/{id}/rdi/optin", s.rdiOptInHandler).Methods("PUT")
	api.HandleFunc("/users/{id}/rdi/export", s.rdiExportHandler).Methods("GET")

	// Epistemic debts
	api.HandleFunc("/debts", s.debtsHandler).Methods("GET")
	api.HandleFunc("/debts/{id}", s.debtHandler).Methods("GET")
	api.HandleFunc("/debts/{id}/resolve", s.resolveDebtHandler).Methods("POST")

	// Feedback loop
	api.HandleFunc("/suggestions", s.suggestionsHandler).Methods("GET")
	api.HandleFunc("/suggestions/{id}/approve", s.approveSuggestionHandler).Methods("POST")

	// Event stream
	api.HandleFunc("/events", s.eventsHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Start begins serving and blocks until the listener fails or Shutdown
// closes it. A listener closed by Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("", "", "api listening", map[string]interface{}{
		"addr": s.cfg.ListenAddr,
	})
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"pipeline": s.deps.Pipeline != nil,
		"router":   s.deps.Router != nil,
		"privacy":  s.deps.Privacy != nil,
		"memory":   s.deps.Memory != nil,
		"monitor":  s.deps.Monitors != nil,
		"feedback": s.deps.Feedback != nil,
		"events":   s.deps.Bus != nil,
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "symbiont-core",
		"version":    Version,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready": true,
	})
}

// errorResponse is the body every failed call returns.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("", "", "encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: message})
}
