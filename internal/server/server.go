// Package server runs the audiodoc HTTP server: it opens the job store,
// starts the worker pool and serves the endpoint registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/jackzampolin/audiodoc/docs"
	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/config"
	"github.com/jackzampolin/audiodoc/internal/defra"
	"github.com/jackzampolin/audiodoc/internal/generate"
	"github.com/jackzampolin/audiodoc/internal/home"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/media"
	"github.com/jackzampolin/audiodoc/internal/providers"
	"github.com/jackzampolin/audiodoc/internal/server/endpoints"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

// Server is the audiodoc HTTP server. With the defra backend it also owns
// the DefraDB container, starting it on Start and stopping it on shutdown.
type Server struct {
	cfg        Config
	httpServer *http.Server
	registry   *providers.Registry
	catalog    *catalog.Catalog
	logger     *slog.Logger

	endpointRegistry *api.Registry

	mu           sync.RWMutex
	running      bool
	services     *svcctx.Services
	runner       *jobs.Runner
	runnerCancel context.CancelFunc
}

// Config holds server configuration.
type Config struct {
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Home is the audiodoc home directory.
	Home *home.Dir
	// Host and Port override the configured listen address when set.
	Host string
	Port string
	// Probe measures narration length. Defaults to ffprobe.
	Probe  generate.ProbeFunc
	Logger *slog.Logger
}

// New creates a new Server. Nothing is opened until Start.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Probe == nil {
		cfg.Probe = media.ProbeDuration
	}
	c := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = c.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = c.Server.Port
	}

	cat, err := catalog.New(c.Catalog, cfg.Home.MediaDir())
	if err != nil {
		return nil, fmt.Errorf("invalid media catalog: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		registry: providers.NewRegistryFromConfig(c.ToProviderRegistryConfig(), cfg.Logger),
		catalog:  cat,
		logger:   cfg.Logger,
	}
	s.services = s.baseServices()

	cfg.ConfigManager.OnChange(s.applyConfig)

	s.endpointRegistry = api.NewRegistry()
	s.endpointRegistry.Register(endpoints.All()...)

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 2 * time.Minute,
		// narration and background video downloads can be slow
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) baseServices() *svcctx.Services {
	return &svcctx.Services{
		Config:   s.cfg.ConfigManager,
		Registry: s.registry,
		Catalog:  s.catalog,
		Home:     s.cfg.Home,
		Logger:   s.logger,
	}
}

// applyConfig reloads providers and the catalog after a config change.
func (s *Server) applyConfig(c *config.Config) {
	s.registry.Reload(c.ToProviderRegistryConfig())
	if err := s.catalog.Update(c.Catalog, s.cfg.Home.MediaDir()); err != nil {
		s.logger.Warn("catalog not reloaded", "error", err)
	}
	s.logger.Info("providers and catalog reloaded from config")
}

// Start opens the job store, starts the workers and serves HTTP. It blocks
// until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		s.teardown()
		s.setNotRunning()
		return err
	}
	s.cfg.ConfigManager.WatchConfig()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.teardown()
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}
	return s.shutdown()
}

// initialize opens the configured job store and starts the runner.
func (s *Server) initialize(ctx context.Context) error {
	c := s.cfg.ConfigManager.Get()
	svc := s.baseServices()

	store, node, err := s.openStore(ctx, c)
	if err != nil {
		return err
	}
	svc.DefraNode = node

	manager := jobs.NewManager(store, s.logger)
	gen := generate.New(generate.Config{
		Registry: s.registry,
		Catalog:  s.catalog,
		Home:     s.cfg.Home,
		Settings: s.settings,
		Probe:    s.cfg.Probe,
		Logger:   s.logger,
	})
	runner := jobs.NewRunner(manager, c.Defaults.MaxWorkers, s.logger)
	runner.RegisterFactory(generate.JobType, gen.Factory())

	runnerCtx, cancel := context.WithCancel(context.Background())
	if err := runner.Start(runnerCtx); err != nil {
		cancel()
		manager.Close()
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	svc.JobManager = manager
	svc.Runner = runner

	s.mu.Lock()
	s.services = svc
	s.runner = runner
	s.runnerCancel = cancel
	s.mu.Unlock()

	s.logger.Info("job runner started", "workers", c.Defaults.MaxWorkers, "store", c.Store.Backend)
	return nil
}

func (s *Server) openStore(ctx context.Context, c *config.Config) (jobs.Store, *defra.Node, error) {
	switch c.Store.Backend {
	case "memory":
		return jobs.NewMemoryStore(), nil, nil

	case "sqlite":
		path := s.cfg.Home.DBPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		store, err := jobs.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open job database: %w", err)
		}
		return store, nil, nil

	case "defra":
		node, err := defra.NewNode(defra.NodeConfig{
			ContainerName: c.Defra.ContainerName,
			Image:         c.Defra.Image,
			HostPort:      c.Defra.Port,
			DataPath:      s.cfg.Home.DefraPath(),
			Logger:        s.logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create defra node: %w", err)
		}
		s.logger.Info("starting DefraDB")
		if err := node.Start(ctx); err != nil {
			node.Close()
			return nil, nil, fmt.Errorf("failed to start DefraDB: %w", err)
		}
		store, err := jobs.OpenDefra(ctx, defra.NewClient(node.URL()))
		if err != nil {
			stopNode(node, s.logger)
			return nil, nil, fmt.Errorf("failed to open defra job store: %w", err)
		}
		s.logger.Info("DefraDB is ready", "url", node.URL())
		return store, node, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// settings is read by every job when it starts.
func (s *Server) settings() generate.Settings {
	c := s.cfg.ConfigManager.Get()
	return generate.Settings{
		OCRProvider: c.Defaults.OCRProvider,
		TTSProvider: c.Defaults.TTSProvider,
		MaxPDFPages: c.Defaults.MaxPDFPages,
	}
}

// shutdown stops HTTP first, then the workers, then the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.teardown()
	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

// teardown stops the runner and closes the store. Jobs left mid-pipeline
// resume on the next start.
func (s *Server) teardown() {
	s.mu.Lock()
	svc, runner, cancel := s.services, s.runner, s.runnerCancel
	s.services = s.baseServices()
	s.runner, s.runnerCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		runner.Wait()
	}
	if svc.JobManager != nil {
		if err := svc.JobManager.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}
	if svc.DefraNode != nil {
		stopNode(svc.DefraNode, s.logger)
	}
}

func stopNode(node *defra.Node, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("stopping DefraDB")
	if err := node.Stop(ctx); err != nil {
		logger.Error("DefraDB stop error", "error", err)
	}
	if err := node.Close(); err != nil {
		logger.Error("docker client close error", "error", err)
	}
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

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.currentServices())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit answers 503 until the job store and runner are up.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc := s.currentServices(); svc.JobManager == nil || svc.Runner == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
