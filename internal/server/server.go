// Package server wires the marginalia services together and serves the
// HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marginalia-app/marginalia/internal/api"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/coordinator"
	"github.com/marginalia-app/marginalia/internal/importer"
	"github.com/marginalia-app/marginalia/internal/providers"
	"github.com/marginalia-app/marginalia/internal/segment"
	"github.com/marginalia-app/marginalia/internal/server/endpoints"
	"github.com/marginalia-app/marginalia/internal/store"
	"github.com/marginalia-app/marginalia/internal/svcctx"
)

// Server is the main marginalia HTTP server.
type Server struct {
	httpServer  *http.Server
	store       store.Store
	registry    *providers.Registry
	coordinator *coordinator.Coordinator
	configMgr   *config.Manager
	logger      *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8580)
	Port int
	// Store is the document store; a fresh in-memory store is used when nil.
	Store store.Store
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8580
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	appCfg := cfg.ConfigManager.Get()

	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.Reload(appCfg.ToProviderConfigs(), appCfg.Defaults.Provider)

	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderConfigs(), c.Defaults.Provider)
		cfg.Logger.Info("provider registry reloaded from config")
	})

	segments := segment.NewCache(time.Duration(appCfg.Analysis.SegmentCacheTTLMinutes) * time.Minute)

	coord := coordinator.New(coordinator.Config{
		Store:       cfg.Store,
		Registry:    registry,
		Segments:    segments,
		Logger:      cfg.Logger,
		Provider:    appCfg.Defaults.Provider,
		Model:       "", // provider default
		Temperature: appCfg.Analysis.Temperature,
		MaxTokens:   appCfg.Analysis.MaxTokens,
		AutoProcess: appCfg.Analysis.AutoProcess,
	})

	s := &Server{
		store:       cfg.Store,
		registry:    registry,
		coordinator: coord,
		configMgr:   cfg.ConfigManager,
		logger:      cfg.Logger,
	}

	s.services = &svcctx.Services{
		Store:       cfg.Store,
		Registry:    registry,
		Coordinator: coord,
		Importer:    importer.New(cfg.Store, segments, cfg.Logger),
		Config:      cfg.ConfigManager,
		Logger:      cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler: s.withServices(mux),
		// No WriteTimeout: analysis streams stay open for minutes.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown: in-flight analyses are cancelled
// and the HTTP server drains.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	s.coordinator.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Coordinator returns the processing coordinator.
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coordinator
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.services)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
