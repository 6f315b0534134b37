// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/guardian/internal/activity"
	"github.com/starford/guardian/internal/api"
	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/capsuleservice"
	"github.com/starford/guardian/internal/index"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/mcpserver"
	"github.com/starford/guardian/internal/metrics"
	"github.com/starford/guardian/internal/restore"
	"github.com/starford/guardian/internal/sse"
	"github.com/starford/guardian/internal/storage"
)

// Runtime holds the wired application components. Close releases them.
type Runtime struct {
	Config   *Config
	Logger   *slog.Logger
	Store    *storage.FS
	Archive  *backup.Archive
	DB       *index.DB
	Broker   *sse.Broker
	Metrics  *metrics.Collector
	Licenses *license.Manager
	Restorer *restore.Manager
	Service  *capsuleservice.Service
}

// NewRuntime builds every component from the configuration.
func NewRuntime(opts ...Option) (*Runtime, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logWriter == nil {
		app.logWriter = os.Stdout
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logWriter, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backup_path", cfg.Backup.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("license_store", cfg.License.Store),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure backup directory exists.
	if err := os.MkdirAll(cfg.Backup.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Backup.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	archive := backup.NewArchive(store)

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	var (
		licenseRepo license.LicenseRepository
		requestRepo license.RequestRepository
	)
	switch cfg.License.Store {
	case LicenseStoreMemory:
		mem := license.NewMemoryStore()
		licenseRepo, requestRepo = mem, mem
	default:
		licenseRepo, requestRepo = db.Licenses(), db.Licenses()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.InitMetrics(registry)

	broker := sse.NewBroker(2 * time.Second)

	sink := activity.Multi{
		activity.NewSlogLogger(logger),
		activity.NewBrokerLogger(broker),
		collector,
	}

	licenses := license.NewManager(licenseRepo, requestRepo,
		license.WithActivity(sink),
		license.WithCapsuleLookup(db.Capsules()),
		license.WithDefaults(cfg.License.DefaultGriefScore, cfg.License.DefaultTruthConfidence),
	)
	restorer := restore.NewManager(archive, db.Capsules(),
		restore.WithActivity(sink),
		restore.WithRecoveryDir(filepath.ToSlash(cfg.Backup.RecoveryPath)),
	)
	svc := capsuleservice.NewService(licenses, restorer, archive, store, db,
		capsuleservice.WithRecipient(cfg.Backup.Recipient),
		capsuleservice.WithLogger(logger),
	)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Archive:  archive,
		DB:       db,
		Broker:   broker,
		Metrics:  collector,
		Licenses: licenses,
		Restorer: restorer,
		Service:  svc,
	}, nil
}

// Close stops the broker and closes the database.
func (rt *Runtime) Close() error {
	rt.Broker.Close()
	return rt.DB.Close()
}

// Sync brings the backup catalog up to date with the backup directory.
func (rt *Runtime) Sync(ctx context.Context) {
	if err := index.Sync(ctx, rt.DB, rt.Store, rt.Archive, rt.Logger); err != nil {
		rt.Logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
}

// Handler builds the root HTTP handler.
func (rt *Runtime) Handler() http.Handler {
	cfg := rt.Config
	apiRouter := api.NewRouter(rt.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.Broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := os.Stat(rt.Store.Root()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"backup directory unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", rt.Metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	return r
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := NewRuntime(opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config
	logger := rt.Logger

	// Run initial sync.
	rt.Sync(ctx)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: rt.Handler(),
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start backup directory watcher with SSE callback.
	if cfg.Backup.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, rt.DB, rt.Store, rt.Archive, rt.Store.Root(), logger, func(kind, path string) {
				rt.Broker.PublishBackupEvent(kind, path)
			}); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr unless another
// writer is configured.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogWriter(os.Stderr)}, opts...)
	rt, err := NewRuntime(opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Sync(ctx)
	return mcpserver.New(rt.Service).ServeStdio()
}
