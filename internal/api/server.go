// Package api provides the HTTP server of the pattern catalog.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-pattern-catalog/internal/api/common"
	v1 "github.com/stacklok/toolhive-pattern-catalog/internal/api/v1"
	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/versions"
)

// ReadinessChecker reports whether the backing store can serve requests
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	routeOpts   []v1.Option
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRouteOptions configures the v1 routes
func WithRouteOptions(opts ...v1.Option) ServerOption {
	return func(cfg *serverConfig) {
		cfg.routeOpts = append(cfg.routeOpts, opts...)
	}
}

// NewServer creates and configures the HTTP router
func NewServer(
	cat *catalog.Catalog,
	reg *registry.Registry,
	pipeline v1.Pipeline,
	readiness ReadinessChecker,
	opts ...ServerOption,
) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(readiness))
	r.Get("/version", versionHandler)
	r.Mount("/v1", v1.Router(cat, reg, pipeline, cfg.routeOpts...))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.CheckReadiness(r.Context()); err != nil {
			common.WriteErrorResponse(w, "store not ready: "+err.Error(), "NotReady", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	common.WriteJSONResponse(w, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	}, http.StatusOK)
}
