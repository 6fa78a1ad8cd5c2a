// Package app provides application lifecycle management for the pattern catalog server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-pattern-catalog/internal/app/storage"
	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
	"github.com/stacklok/toolhive-pattern-catalog/internal/telemetry"
)

// PatternApp encapsulates all components needed to run the pattern catalog server
// It provides lifecycle management and graceful shutdown capabilities
type PatternApp struct {
	config         *config.Config
	components     *AppComponents
	httpServer     *http.Server
	storageFactory storage.Factory

	// telemetry is set only when the app created the providers itself
	telemetry *telemetry.Telemetry

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start recovers in-flight pipeline runs, then serves HTTP and polls the build system.
// It blocks until the HTTP server stops or either of them fails.
func (app *PatternApp) Start() error {
	if err := app.components.Orchestrator.Recover(app.ctx); err != nil {
		return fmt.Errorf("failed to recover pipeline runs: %w", err)
	}

	g, ctx := errgroup.WithContext(app.ctx)
	g.Go(func() error {
		if err := app.components.Poller.Start(ctx); err != nil {
			return fmt.Errorf("pipeline status poller failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// A failing member stops the server so Start returns
		<-ctx.Done()
		if app.ctx.Err() == nil {
			return app.httpServer.Close()
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// The poller stops first, then the HTTP server drains, then the components and
// the resources backing them are released.
func (app *PatternApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	var errs []error
	if err := app.components.Poller.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop poller: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	app.components.close()
	if app.storageFactory != nil {
		app.storageFactory.Cleanup()
	}
	if app.telemetry != nil {
		if err := app.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *PatternApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *PatternApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the application components
func (app *PatternApp) Components() *AppComponents {
	return app.components
}
