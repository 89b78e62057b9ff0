// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/maxthraxx/chronicler/internal/api"
	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/index"
	"github.com/maxthraxx/chronicler/internal/mcpserver"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/sse"
	"github.com/maxthraxx/chronicler/internal/world"
)

// ErrBrokenLinks is returned by Check when the vault has unresolved links.
var ErrBrokenLinks = errors.New("vault has broken links")

// Run serves the HTTP API for the configured vault until ctx is cancelled
// or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("debounce", cfg.Vault.DebounceInterval.String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	m := metrics.New()

	var wld *world.World
	broker := sse.NewBroker(sse.Options{
		Logger:     logger,
		PathMapper: func(p string) string { return wld.Relative(p) },
	})
	defer broker.Close()

	wopts := worldOptions(cfg, logger, m)
	wopts.Notifier = broker
	db, err := openCatalog(cfg, &wopts)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	wld = world.New(wopts)
	defer wld.Close()

	apiRouter := api.NewRouter(wld, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, logger)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated). Ready turns 200 once the
	// initial scan finished and the watcher runs.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !wld.IsOpen() {
			writeStatus(w, http.StatusServiceUnavailable, "starting")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", m.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Scan the vault and start watching it.
	g.Go(func() error {
		if err := wld.Open(gCtx, cfg.Vault.Path); err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		return nil
	})

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

		// Open event streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the vault tools over MCP on stdin/stdout. Logs go to
// stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := newLogger(os.Stderr, cfg)

	wopts := worldOptions(cfg, logger, nil)
	db, err := openCatalog(cfg, &wopts)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	wld := world.New(wopts)
	if err := wld.Open(ctx, cfg.Vault.Path); err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	defer wld.Close()

	logger.Info("MCP server starting", slog.String("vault_path", cfg.Vault.Path))
	return mcpserver.New(wld, app.version).ServeStdio()
}

// Check scans the vault once and writes its broken links as JSON. It
// returns ErrBrokenLinks when there are any.
func Check(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := newLogger(os.Stderr, cfg)

	ix := index.New(index.Options{
		MaxFileSize: cfg.Vault.MaxFileSize,
		Ignore:      cfg.Vault.Ignore,
		Logger:      logger,
	})
	if err := ix.ScanVault(cfg.Vault.Path); err != nil {
		return fmt.Errorf("scan vault: %w", err)
	}

	broken := ix.GetAllBrokenLinks()
	root := ix.Root()
	for i := range broken {
		for j, src := range broken[i].Sources {
			if rel, err := filepath.Rel(root, src.Path); err == nil {
				broken[i].Sources[j].Path = filepath.ToSlash(rel)
			}
		}
	}
	if err := writeReport(app.out, broken); err != nil {
		return err
	}
	if len(broken) > 0 {
		return fmt.Errorf("%w: %d targets", ErrBrokenLinks, len(broken))
	}
	return nil
}

func writeReport(w io.Writer, broken []models.BrokenLink) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(broken); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func worldOptions(cfg *Config, logger *slog.Logger, m *metrics.Metrics) world.Options {
	return world.Options{
		Debounce:    cfg.Vault.DebounceInterval,
		Capacity:    cfg.Vault.EventCapacity,
		MaxFileSize: cfg.Vault.MaxFileSize,
		Ignore:      cfg.Vault.Ignore,
		Logger:      logger,
		Metrics:     m,
	}
}

// openCatalog opens the configured catalog and sets it on opts. It returns
// nil when the catalog is disabled.
func openCatalog(cfg *Config, opts *world.Options) (*catalog.DB, error) {
	if !cfg.SQLite.Enabled() {
		return nil, nil
	}
	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	opts.Catalog = db
	return db, nil
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
