// Package api serves the local diagnostics HTTP endpoint: health, audit
// log, connected clients and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/audit"
	"github.com/org/credbroker/internal/broker"
	"github.com/org/credbroker/internal/protocol"
	"github.com/org/credbroker/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
}

// Server is the diagnostics API server.
type Server struct {
	broker   *broker.Broker
	registry *protocol.Registry
	auditor  *audit.Logger
	settings models.Settings
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(b *broker.Broker, registry *protocol.Registry, auditor *audit.Logger, settings models.Settings, cfg Config) *Server {
	registerStateMetrics(b.Databases(), registry)
	return &Server{
		broker:   b,
		registry: registry,
		auditor:  auditor,
		settings: settings,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	r.Handle("/metrics", MetricsHandler())

	r.Get("/v1/sys/health", s.HealthHandler)
	r.Get("/v1/sys/settings", s.SettingsHandler)
	r.Get("/v1/sys/clients", s.ClientsHandler)
	r.Get("/v1/sys/keys", s.KeysHandler)
	r.Delete("/v1/sys/keys/{label}", s.RevokeKeyHandler)
	r.Post("/v1/sys/lock", s.LockHandler)
	r.Post("/v1/sys/unlock", s.UnlockHandler)
	r.Get("/v1/sys/audit-log", s.AuditLogHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting diagnostics server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
