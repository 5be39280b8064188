// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dsms/internal/backend"
	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/index"
	"github.com/starford/dsms/internal/manifest"
	"github.com/starford/dsms/internal/sse"
	"github.com/starford/dsms/internal/storage"
)

// Run starts the local DSMS backend with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = cfg.Logger(os.Stdout)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := backend.NewService(db, store,
		backend.WithPublisher(broker),
		backend.WithLogger(logger))
	apiRouter := backend.NewRouter(svc, cfg.Auth.Backend(), broker)

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
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listen before serving so the manifest watcher can connect right away.
	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", httpServer.Addr, err)
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if app.watchManifests {
		g.Go(func() error {
			c, err := dsms.Connect(gCtx, selfConfig(cfg), dsms.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("manifest client: %w", err)
			}
			return WatchManifests(gCtx, c, cfg.Manifests.Path, logger, func(kind string, rep manifest.Report) {
				broker.Publish(sse.Event{Type: "manifest." + kind, Data: rep})
			})
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// selfConfig points the client section at this server, using the backend's
// own credentials unless the dsms section carries some.
func selfConfig(cfg *Config) dsms.Config {
	c := cfg.DSMS
	c.HostURL = "http://127.0.0.1:" + strconv.Itoa(cfg.App.HTTP.Port)
	if c.Token != "" || c.Username != "" || !cfg.Auth.AuthEnabled() {
		return c
	}
	if cfg.Auth.Token != "" {
		c.Token = cfg.Auth.Token
	} else {
		c.Username, c.Password = cfg.Auth.Username, cfg.Auth.Password
	}
	return c
}

// WatchManifests applies the manifests below dir with c and keeps them
// applied until ctx is cancelled.
func WatchManifests(ctx context.Context, c *dsms.Client, dir string, logger *slog.Logger, cb manifest.EventCallback) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifests dir: %w", err)
	}
	a := manifest.NewApplier(c, logger)
	return manifest.Watch(ctx, a, dir, logger, func(kind string, rep manifest.Report) {
		logger.Info("manifest "+kind,
			slog.String("path", rep.Path),
			slog.Int("ktypes", rep.KTypes),
			slog.Int("kitems", rep.KItems),
			slog.Int("apps", rep.Apps))
		if cb != nil {
			cb(kind, rep)
		}
	})
}
