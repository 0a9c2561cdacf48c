// Package api provides the HTTP server for Tandem.
// Partner devices post snapshots and read engagement state over REST.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/app/rewards"
	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/health"
	"github.com/tandem-app/tandem/internal/infra/logger"
)

// maxBodyBytes caps request bodies (snapshots included).
const maxBodyBytes = 4 << 20

// Server is the Tandem HTTP API server.
type Server struct {
	engine         *engagement.Engine
	rewards        *rewards.Service
	health         *health.Checker  // nil: /health always reports ok
	bus            domain.ChangeBus // nil: snapshot changes are not broadcast
	log            *logger.Logger
	metricsEnabled bool
	version        string
}

// NewServer creates a new API server.
func NewServer(eng *engagement.Engine, rw *rewards.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{engine: eng, rewards: rw, log: log, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the health checker reported at /health.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// SetBus sets the change bus used to notify other devices of snapshots.
func (s *Server) SetBus(b domain.ChangeBus) { s.bus = b }

// SetVersion sets the version reported at /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": s.version,
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/api/achievements", s.handleAchievementCatalog)
	r.Get("/api/achievements/{id}", s.handleAchievementDefinition)
	r.Get("/api/rewards", s.handleRewardCatalog)

	r.Route("/api/partnerships/{pid}/partners/{partner}", func(r chi.Router) {
		r.Post("/snapshot", s.handleSnapshot)
		r.Put("/snapshot", s.handleStoreSnapshot)
		r.Post("/recompute", s.handleRecompute)
		r.Get("/state", s.handleState)
		r.Get("/achievements", s.handleAchievements)
		r.Get("/challenges", s.handleChallenges)
		r.Post("/challenges/{id}/complete", s.handleCompleteChallenge)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Delete("/notifications/{id}", s.handleDismiss)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/rewards", s.handleRewards)
		r.Post("/rewards/{id}/redeem", s.handleRedeem)
		r.Get("/ledger", s.handleLedger)
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

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
