// Package server exposes the read-side HTTP API plus the operational
// endpoints (health probes and Prometheus metrics). All mutation flows in
// through NATS; this surface is strictly read-only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/query"
)

// Server hosts the query API.
type Server struct {
	addr   string
	svc    *query.Service
	health *observability.HealthChecker
	log    zerolog.Logger

	httpServer *http.Server
}

// NewServer builds the server and its route table.
func NewServer(addr string, svc *query.Service, health *observability.HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		addr:   addr,
		svc:    svc,
		health: health,
		log:    log.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)

	mux.HandleFunc("GET /v1/accounts/{owner}/positions", s.handlePositions)
	mux.HandleFunc("GET /v1/accounts/{owner}/options", s.handleOptions)
	mux.HandleFunc("GET /v1/accounts/{owner}/futures", s.handleFutures)
	mux.HandleFunc("GET /v1/accounts/{owner}/margin", s.handleMargin)
	mux.HandleFunc("GET /v1/accounts/{owner}/balance", s.handleBalance)
	mux.HandleFunc("GET /v1/accounts/{owner}/journal", s.handleJournal)
	mux.HandleFunc("GET /v1/pools/{pool}", s.handlePoolStats)
	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Positions(owner))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Options(owner))
}

func (s *Server) handleFutures(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Futures(owner))
}

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.MarginSummary(owner))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Balance(owner, oracle.AssetID(asset)))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}

	var before uint64
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := s.svc.JournalHistory(r.Context(), owner, before, limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("journal history query failed")
		writeError(w, http.StatusInternalServerError, "journal history unavailable")
		return
	}
	if entries == nil {
		entries = []query.JournalEntryView{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.PoolStats(r.PathValue("pool"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.VerifyIntegrity(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("integrity check failed")
		writeError(w, http.StatusInternalServerError, "integrity check unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) ownerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return uuid.Nil, false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
