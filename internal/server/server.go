// Package server wires the HTTP surface of the gateway: the public service
// routes, the authenticated memory routes, and the admin key-management
// routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/plyraAI/plyra-memory-server/internal/config"
	"github.com/plyraAI/plyra-memory-server/internal/handler"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
	"github.com/plyraAI/plyra-memory-server/internal/memory"
	"github.com/plyraAI/plyra-memory-server/internal/server/middleware"
)

// Version is the service version reported on the info and health routes.
const Version = "0.1.0"

// Server is the top-level HTTP server. It owns the chi router and holds the
// key store handle for its lifetime; the store is opened at startup and
// closed on shutdown, never reopened per request.
type Server struct {
	cfg        config.Config
	router     chi.Router
	store      keystore.KeyStore
	engine     memory.Engine
	httpServer *http.Server
	logger     *slog.Logger
	startedAt  time.Time
}

// New creates a Server, wires all routes and middleware, and returns it
// ready to listen.
func New(cfg config.Config, store keystore.KeyStore, engine memory.Engine, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.cfg.ServerRateLimitRPM > 0 {
		r.Use(middleware.RateLimit(s.cfg.ServerRateLimitRPM))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "X-Latency-Ms"},
		MaxAge:         300,
	}))

	// --- Service routes (no auth) ---
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	// --- Memory routes (tenant auth) ---
	memHandler := handler.NewMemoryHandler(s.engine)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.store, s.logger))

		r.Post("/remember", memHandler.Remember)
		r.Post("/recall", memHandler.Recall)
		r.Post("/context", memHandler.Context)
		r.Get("/stats", memHandler.Stats)
		r.Delete("/memory", memHandler.Delete)
	})

	// --- Admin routes (operator secret) ---
	adminHandler := handler.NewAdminHandler(s.store, s.cfg.RateLimitRPM)
	r.Route("/admin/keys", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(s.cfg.AdminAPIKey, s.logger))

		r.Post("/", adminHandler.CreateKey)
		r.Get("/{workspaceID}", adminHandler.ListKeys)
		r.Delete("/{keyID}", adminHandler.RevokeKey)
	})

	s.router = r
}

// handleRoot serves basic service identification.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"service":"plyra-memory-server","version":"` + Version + `","status":"ok"}`))
}

// handleHealth is a liveness probe with uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startedAt).Seconds()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","version":%q,"env":%q,"uptime_seconds":%.1f}`,
		Version, s.cfg.Env, uptime)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the key store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing key store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
