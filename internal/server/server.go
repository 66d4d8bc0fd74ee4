package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/stage0"
)

// Server is the stage0 HTTP API server.
type Server struct {
	eng     *stage0.Engine
	router  chi.Router
	version string
	started time.Time
	log     *slog.Logger
}

// New creates a new Server over the engine.
func New(eng *stage0.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		eng:     eng,
		version: version,
		started: time.Now(),
		log:     logging.OrDefault(logger),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/run", s.handleRun)
		r.Post("/compile", s.handleCompile)

		r.Post("/memories", s.handleCreateMemory)
		r.Put("/memories/{id}", s.handleUpdateMemory)
		r.Post("/memories/{id}/invalidate", s.handleInvalidate)

		r.Post("/scores/recalculate", s.handleRecalculate)
		r.Post("/cache/prune", s.handlePrune)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Get("/overlay/top", s.handleOverlayTop)
	})

	s.router = r
}

type pinger interface {
	Healthy(ctx context.Context) bool
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.eng.Overlay.Ping() == nil

	knowledgeOK := true
	if p, ok := s.eng.Knowledge.(pinger); ok {
		knowledgeOK = p.Healthy(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"db":        dbOK,
		"db_path":   s.eng.Overlay.Path,
		"knowledge": knowledgeOK,
		"tier2":     s.eng.Config.Tier2.Enabled && s.eng.Tier2 != nil,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
