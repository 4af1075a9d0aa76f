// Package web is the JSON HTTP API over core.Service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/catalog/internal/config"
	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/logging"
	webmw "github.com/JonMunkholm/catalog/internal/web/middleware"
)

// Server is the HTTP server for the catalog API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	limiter *rateLimiter
	metrics http.Handler
	health  func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h at the configured metrics path.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck makes /healthz report fn's result.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer creates a Server with routes and middleware installed.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes. The request timeout
// is applied per route group so progress streams are not cut off.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Server.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(requestInfo)

	if s.cfg.Rate.Enabled {
		s.limiter = newRateLimiter(s.cfg.Rate.RequestsPerMinute, rateWindow)
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		// Streaming and blocking import endpoints run without the timeout.
		r.Get("/imports/{importID}/progress", s.handleImportProgress)
		r.Get("/imports/{importID}", s.handleImportResult)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/entities", s.handleListEntities)
			r.Get("/imports", s.handleImportStatus)
			r.Post("/imports/{importID}/cancel", s.handleCancelImport)
			r.Get("/imports/{importID}/failed-rows", s.handleExportFailedRows)

			r.Route("/{entity}", func(r chi.Router) {
				r.Get("/", s.handleList)
				r.Post("/", s.handleCreate)

				r.Get("/many", s.handleGetMany)

				r.Post("/bulk", s.handleCreateMany)
				r.Patch("/bulk", s.handleUpdateMany)
				r.Delete("/bulk", s.handleDeleteMany)

				r.Post("/import", s.handleImport)
				r.Post("/import/preview", s.handlePreview)

				r.Get("/{id}", s.handleGetOne)
				r.Patch("/{id}", s.handleUpdate)
				r.Delete("/{id}", s.handleDelete)
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones, then for
// running imports, until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.service.WaitForImports(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.FromContext(r.Context()).Error("health check failed", "error", err)
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v with the given status. Encoding errors are
// logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
