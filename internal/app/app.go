// Package app ties the server components together: session catalog store,
// connection registry, session router, and HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jamlink/jamlink/internal/api"
	"github.com/jamlink/jamlink/internal/config"
	"github.com/jamlink/jamlink/internal/registry"
	"github.com/jamlink/jamlink/internal/router"
	"github.com/jamlink/jamlink/internal/store"
)

// App is the main server process.
type App struct {
	cfg    *config.Config
	store  store.Store
	router *router.Router
	api    *api.Server
	logger *slog.Logger
}

// New creates a new app from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	reg := registry.New(logger)
	rt := router.New(reg, logger, router.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Session.MaxMessageBytes,
	})

	apiSrv := api.NewServer(db, rt, cfg, logger)

	a := &App{
		cfg:    cfg,
		store:  db,
		router: rt,
		api:    apiSrv,
		logger: logger.With("component", "app"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	a.api.StartBackgroundTasks(ctx)

	// Start catalog retention purger.
	if a.cfg.Storage.Retention.Duration > 0 {
		go a.runRetentionPurger(ctx, a.cfg.Storage.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		a.logger.Info("closing store")
		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

// runRetentionPurger deletes closed catalog entries older than retention.
// Live routing state is untouched; this is catalog housekeeping only.
func (a *App) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := a.store.PurgeInactiveSessions(ctx, cutoff); err != nil {
				a.logger.Warn("retention purge failed", "error", err)
			} else if n > 0 {
				a.logger.Info("retention purge: deleted closed sessions", "count", n)
			}
		}
	}
}
