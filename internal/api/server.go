package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/deaddrop/internal/blob"
	"github.com/org/deaddrop/internal/engine"
	"github.com/org/deaddrop/internal/notify"
	"github.com/org/deaddrop/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
	BaseURL    string
	// CronSecret guards POST /v1/sweep when set; empty disables the check.
	CronSecret string
}

// Server is the API server.
type Server struct {
	store   storage.DropStore
	engine  *engine.Engine
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.DropStore, blobs blob.Store, notifier notify.Notifier, cfg Config) *Server {
	eng := engine.New(store, blobs, notifier, engine.Config{BaseURL: cfg.BaseURL})
	return &Server{
		store:  store,
		engine: eng,
		cfg:    cfg,
	}
}

// Engine exposes the lifecycle engine (used by tests and the sweep wiring).
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(accessLogMiddleware)

	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Post("/v1/create", s.CreateHandler)
	r.Post("/v1/verify", s.VerifyHandler)
	r.Post("/v1/checkin", s.CheckinHandler)
	r.Post("/v1/sweep", s.SweepHandler)
	r.Get("/v1/receipt/{id}", s.ReceiptHandler)

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

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
