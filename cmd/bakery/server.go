package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/casebake/bakery/internal/core/crypto"
	"github.com/casebake/bakery/internal/shell/api"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/scheduler"
	"github.com/casebake/bakery/internal/shell/store"
	"github.com/casebake/bakery/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the bakery application server.
type Server struct {
	config        *Config
	httpServer    *http.Server
	store         store.Store
	docker        docker.Client
	nodePool      *docker.NodePool
	baker         *workers.Baker
	runWorker     *workers.RunWorker
	reaper        *workers.Reaper
	healthChecker *workers.HealthChecker
	provisioner   *workers.Provisioner
	logger        *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// The default DSN lives under data_dir; create it before sqlite
	// touches the file.
	if dir := filepath.Dir(cfg.Database.DSN); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDatabaseError,
			}
		}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Connect to the local Docker daemon unless this instance bakes only
	// on remote nodes. NewDockerClient pings before returning.
	var local docker.Client
	if cfg.Docker.Enabled {
		d, err := docker.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDockerError,
			}
		}
		local = d
	}

	// Derive the key protecting stored SSH keys and cloud credentials.
	var encryptionKey []byte
	if cfg.Nodes.Passphrase != "" {
		encryptionKey = crypto.DeriveKey(cfg.Nodes.Passphrase)
	}

	// Create node pool and health checker if remote nodes are enabled
	var nodePool *docker.NodePool
	var healthChecker *workers.HealthChecker
	if cfg.Nodes.Enabled {
		if encryptionKey == nil {
			s.Close()
			if local != nil {
				local.Close()
			}
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      errors.New("nodes.passphrase must be set when remote nodes are enabled"),
				ExitCode: ExitConfigError,
			}
		}

		nodePool = docker.NewNodePool(s, encryptionKey, docker.DefaultNodePoolConfig())

		healthChecker = workers.NewHealthChecker(s, encryptionKey, workers.HealthCheckerConfig{
			Interval:      cfg.Nodes.HealthCheckInterval,
			NodeTimeout:   cfg.Nodes.HealthCheckTimeout,
			MaxConcurrent: cfg.Nodes.HealthCheckMaxConcurrent,
		}, logger)

		logger.Info("remote nodes enabled",
			"health_check_interval", cfg.Nodes.HealthCheckInterval,
		)
	}

	// Create provisioner worker for cloud provider provisioning
	var provisioner *workers.Provisioner
	if encryptionKey != nil {
		provisioner = workers.NewProvisioner(s, encryptionKey, workers.DefaultProvisionerConfig(), logger)
	}

	// Create the executor driving bakes and runs
	executor := docker.NewExecutor(local, nodePool, docker.ExecutorConfig{
		ScriptRoot: cfg.Bakes.ScriptRoot,
		DataDir:    cfg.Runs.DatasetDir,
		RunTimeout: cfg.Runs.Timeout,
	}, logger)

	// Create scheduler service for bake placement
	placer := scheduler.NewService(s, scheduler.Config{
		LocalDaemon:     cfg.Docker.Enabled,
		MaxBakesPerNode: cfg.Bakes.MaxPerNode,
	}, logger)

	// Create queue workers
	baker := workers.NewBaker(s, executor, placer, workers.BakerConfig{
		Interval:      cfg.Bakes.Interval,
		MaxConcurrent: cfg.Bakes.MaxConcurrent,
	}, logger)

	runWorker := workers.NewRunWorker(s, executor, workers.RunWorkerConfig{
		Interval:      cfg.Runs.Interval,
		MaxConcurrent: cfg.Runs.MaxConcurrent,
	}, logger)

	reaper := workers.NewReaper(s, executor, workers.DefaultReaperConfig(), logger)

	// Create HTTP handler
	handler := api.NewHandler(s, executor, healthChecker, provisioner, api.HandlerConfig{
		EncryptionKey:  encryptionKey,
		AuthToken:      cfg.Auth.Token,
		CaseSeriesPath: cfg.Stats.CaseSeriesPath,
	}, logger)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:        cfg,
		httpServer:    httpServer,
		store:         s,
		docker:        local,
		nodePool:      nodePool,
		baker:         baker,
		runWorker:     runWorker,
		reaper:        reaper,
		healthChecker: healthChecker,
		provisioner:   provisioner,
		logger:        logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start queue workers first so interrupted bakes and runs are failed
	// before new requests land.
	s.baker.Start()
	s.runWorker.Start()
	s.reaper.Start()

	// Start node health checker
	if s.healthChecker != nil {
		s.healthChecker.Start()
	}

	// Start cloud provisioner worker
	if s.provisioner != nil {
		s.provisioner.Start()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop queue workers; Stop blocks until in-flight work finishes.
	s.baker.Stop()
	s.runWorker.Stop()
	s.reaper.Stop()

	// Stop node health checker
	if s.healthChecker != nil {
		s.healthChecker.Stop()
	}

	// Stop cloud provisioner worker
	if s.provisioner != nil {
		s.provisioner.Stop()
	}

	// Close node pool connections
	if s.nodePool != nil {
		if err := s.nodePool.CloseAll(); err != nil {
			s.logger.Error("node pool close error", "error", err)
		}
	}

	// Close Docker client
	if s.docker != nil {
		if err := s.docker.Close(); err != nil {
			s.logger.Error("Docker client close error", "error", err)
		}
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
