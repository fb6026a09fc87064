// Package api provides the HTTP control surface for the pickle engine:
// JSON commands and state, a live snapshot feed over SSE, ledger queries,
// health and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/health"
)

// Engine is the engine surface the API drives.
type Engine interface {
	Start() (bool, error)
	Stop() (bool, error)
	StartFlood() (bool, error)
	StopFlood() (bool, error)
	Submit(category domain.Category) (domain.WorkItem, error)
	SubmitBatch(n int) ([]domain.WorkItem, error)
	Reset() error
	Snapshot() (domain.Snapshot, error)
	Session() string
}

// Ledger answers payout ledger queries.
type Ledger interface {
	Totals(session string, epoch uint64) (domain.LedgerTotals, error)
	Recent(session string, limit int) ([]domain.Payout, error)
	Entries(session, account string, limit int) ([]domain.LedgerEntry, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the pickle HTTP API server.
type Server struct {
	engine         Engine
	ledger         Ledger         // nil when the ledger is disabled
	health         HealthReporter // nil reports plain "ok"
	hub            *SnapshotHub   // nil disables /api/events
	metricsEnabled bool
	corsOrigins    []string
	log            logr.Logger
}

// NewServer creates a new API server.
func NewServer(eng Engine, log logr.Logger) *Server {
	return &Server{engine: eng, corsOrigins: []string{"*"}, log: log.WithName("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetLedger enables the /api/ledger routes.
func (s *Server) SetLedger(l Ledger) { s.ledger = l }

// SetHealth sets the health reporter behind /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetSnapshotHub enables the live snapshot feed.
func (s *Server) SetSnapshotHub(h *SnapshotHub) { s.hub = h }

// SetCORSOrigins restricts allowed origins. "*" allows any.
func (s *Server) SetCORSOrigins(origins []string) { s.corsOrigins = origins }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	// Live snapshot feed. Kept out of the timeout group: streams are long-lived.
	if s.hub != nil {
		r.Get("/api/events", s.hub.HandleSSE)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Get("/validators", s.handleValidators)
			r.Get("/validators/{id}", s.handleValidator)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Post("/work", s.handleSubmit)
			r.Post("/work/batch", s.handleSubmitBatch)
			r.Post("/reset", s.handleReset)
			r.Post("/start", s.handleToggle(Engine.Start))
			r.Post("/stop", s.handleToggle(Engine.Stop))
			r.Post("/flood/start", s.handleToggle(Engine.StartFlood))
			r.Post("/flood/stop", s.handleToggle(Engine.StopFlood))

			if s.ledger != nil {
				r.Get("/ledger/totals", s.handleLedgerTotals)
				r.Get("/ledger/payouts", s.handleLedgerPayouts)
				r.Get("/ledger/entries", s.handleLedgerEntries)
			}
		})
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "pickle is running",
			"session": s.engine.Session(),
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps sentinel errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownCategory), errors.Is(err, domain.ErrInvalidCount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrValidatorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEngineClosed):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

// corsMiddleware adds CORS headers for browser dashboards.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case slices.Contains(s.corsOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.corsOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
