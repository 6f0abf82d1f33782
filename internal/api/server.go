package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/config"
	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// Generator produces one thumbnail per request.
type Generator interface {
	Generate(ctx context.Context, req thumbnail.Request) (thumbnail.Result, error)
}

// ReadinessCheck reports whether a downstream dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the thumbnail pipeline.
type Server struct {
	router    chi.Router
	generator Generator
	cfg       config.Config
	logger    *zap.Logger
	checks    map[string]ReadinessCheck
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

const readinessTimeout = 2 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(generator Generator, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("api"),
		checks:    map[string]ReadinessCheck{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(s.logger))
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(timeoutMiddleware(cfg.RequestTimeout())).Get("/thumbnail", s.getThumbnail)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type errorBody struct {
	Error   thumbnail.Category `json:"error"`
	Message string             `json:"message"`
}

// writeError renders err as the category JSON body. Untyped errors never leak their text.
func writeError(w http.ResponseWriter, err error) {
	category := thumbnail.CategoryOf(err)
	msg := "internal error"
	if e, ok := asThumbnailError(err); ok {
		msg = e.Message()
	}
	writeJSON(w, category.HTTPStatus(), errorBody{Error: category, Message: msg})
}
