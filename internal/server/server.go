package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR SURFACE - Health, emergency controls, parameter access
// ═══════════════════════════════════════════════════════════════════════════════

// Engine is the trading surface the operator endpoints drive.
type Engine interface {
	Running() bool
	EmergencyStop(ctx context.Context) (int, error)
	ClosePositionByID(ctx context.Context, id int64) error
}

// Store is the read surface for the health report.
type Store interface {
	Wallet() (*types.Wallet, error)
	CountOpen() (int, error)
}

// Breaker exposes circuit state for health reporting.
type Breaker interface {
	Open() bool
	ConsecutiveFailures() int
}

// Server hosts the operator API.
type Server struct {
	engine    Engine
	store     Store
	params    *params.Set
	breaker   Breaker
	rematch   func(ctx context.Context) error
	freshness func() map[string]float64 // source → seconds since last data

	http *http.Server
}

// New builds the server on the given port.
func New(port int, engine Engine, store Store, ps *params.Set, breaker Breaker, rematch func(ctx context.Context) error, freshness func() map[string]float64) *Server {
	s := &Server{
		engine:    engine,
		store:     store,
		params:    ps,
		breaker:   breaker,
		rematch:   rematch,
		freshness: freshness,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/emergency-stop", s.handleEmergencyStop)
	r.Post("/positions/{id}/close", s.handleClosePosition)
	r.Post("/rematch", s.handleRematch)
	r.Get("/params", s.handleGetParams)
	r.Post("/params", s.handleSetParams)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("🌐 Operator API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"running":      s.engine.Running(),
		"breaker_open": s.breaker.Open(),
		"consecutive":  s.breaker.ConsecutiveFailures(),
		"ts":           time.Now().UTC().Format(time.RFC3339),
	}
	if wallet, err := s.store.Wallet(); err == nil {
		out["wallet"] = map[string]any{
			"balance":   wallet.Balance.String(),
			"peak":      wallet.Peak.String(),
			"daily_pnl": wallet.DailyPnL.String(),
			"drawdown":  wallet.Drawdown().StringFixed(4),
		}
	}
	if n, err := s.store.CountOpen(); err == nil {
		out["open_positions"] = n
	}
	if s.freshness != nil {
		out["freshness_secs"] = s.freshness()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	closed, err := s.engine.EmergencyStop(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closing": closed})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid position id"})
		return
	}
	if err := s.engine.ClosePositionByID(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closing"})
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	if err := s.rematch(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rematched"})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	all := s.params.All()
	out := make(map[string]map[string]float64, len(all))
	for k, p := range all {
		out[k] = map[string]float64{"value": p.Value, "min": p.Min, "max": p.Max}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var body map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	applied := map[string]float64{}
	for k, v := range body {
		clamped, err := s.params.Set(k, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		applied[k] = clamped
	}
	writeJSON(w, http.StatusOK, applied)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
