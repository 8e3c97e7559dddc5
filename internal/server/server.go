// Package server exposes the status snapshot over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazz-dev/statusd/internal/snapshot"
)

// SnapshotSource returns the current status snapshot.
type SnapshotSource interface {
	Get(ctx context.Context) (*snapshot.Snapshot, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	source       SnapshotSource
	router       chi.Router
	logger       *slog.Logger
	liveInterval time.Duration
}

// New creates a new Server and registers all routes.
func New(source SnapshotSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source:       source,
		router:       chi.NewRouter(),
		logger:       logger,
		liveInterval: snapshot.DefaultTTL,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

// SetLiveInterval changes how often live clients receive a snapshot.
func (s *Server) SetLiveInterval(d time.Duration) {
	s.liveInterval = d
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleSnapshot)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/live", s.handleLive)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// refreshError is the body returned when no snapshot could be produced.
const refreshError = "Error refreshing state"

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// --- Handlers ---

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.source.Get(r.Context())
	if err != nil {
		s.logger.Error("serving snapshot", "error", err)
		http.Error(w, refreshError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logger.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	sw.status = http.StatusSwitchingProtocols
	return http.NewResponseController(sw.ResponseWriter).Hijack()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
