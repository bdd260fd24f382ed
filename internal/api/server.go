// Package api exposes the risk calculator over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-clinical/riskcalc/internal/calculation"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. m may be nil, in which case /metrics is
// not served.
func NewServer(cfg domain.ServerConfig, svc *calculation.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(MetricsMiddleware(m))   // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health checks are exempt from rate limiting
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Handle("/metrics", m.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, m))

		// Catalog
		r.Get("/specialties", handler.ListSpecialties)
		r.Get("/specialties/{name}", handler.GetSpecialty)
		r.Get("/models/{name}", handler.GetModel)
		r.Get("/procedures", handler.SearchProcedures)
		r.Post("/catalog/reload", handler.ReloadCatalog)

		// Calculations
		r.With(QuotaMiddleware(cache, cfg.ClientQuota, cfg.QuotaWindow, m)).
			Post("/calculations", handler.Calculate)
		r.Get("/calculations/{id}", handler.GetCalculation)
		r.Post("/calculations/{id}/sign", handler.Sign)

		// Signed results
		r.Get("/patients/{dfn}/results", handler.PatientResults)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
