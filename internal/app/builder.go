package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-pattern-catalog/internal/api"
	v1 "github.com/stacklok/toolhive-pattern-catalog/internal/api/v1"
	"github.com/stacklok/toolhive-pattern-catalog/internal/app/storage"
	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
	"github.com/stacklok/toolhive-pattern-catalog/internal/ledger"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/orchestrator"
	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/poller"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/telemetry"
)

const (
	defaultHTTPAddress  = ":8080"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 15 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	// writeTimeoutMargin leaves room to write the response after the longest delete wait
	writeTimeoutMargin = 15 * time.Second

	tracerName = "github.com/stacklok/toolhive-pattern-catalog"
)

// PatternAppOptions is a function that configures the pattern app builder
type PatternAppOptions func(*patternAppConfig) error

// patternAppConfig collects the inputs of NewPatternApp.
// Component overrides exist primarily for testing.
type patternAppConfig struct {
	config *config.Config

	storageFactory storage.Factory
	buildSystem    buildsystem.Client
	telemetry      *telemetry.Telemetry

	// HTTP server options
	address      string
	middlewares  []func(http.Handler) http.Handler
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

func baseConfig(opts ...PatternAppOptions) (*patternAppConfig, error) {
	cfg := &patternAppConfig{
		address:      defaultHTTPAddress,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		idleTimeout:  defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewPatternApp builds the application: storage, registry, catalog, build system
// driver, orchestrator, poller and the HTTP server in front of them
func NewPatternApp(ctx context.Context, opts ...PatternAppOptions) (*PatternApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ownsTelemetry := cfg.telemetry == nil
	if ownsTelemetry {
		cfg.telemetry, err = telemetry.New(ctx, cfg.config.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config,
			storage.WithTracer(cfg.telemetry.Tracer(tracerName)))
		if err != nil {
			cfg.shutdownTelemetry(ctx, ownsTelemetry)
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	components := &AppComponents{}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			components.close()
			cfg.storageFactory.Cleanup()
			cfg.shutdownTelemetry(ctx, ownsTelemetry)
		}
	}()

	if err := buildCoreComponents(ctx, cfg, components); err != nil {
		return nil, err
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	app := &PatternApp{
		config:         cfg.config,
		components:     components,
		httpServer:     httpServer,
		storageFactory: cfg.storageFactory,
		ctx:            appCtx,
		cancelFunc:     cancel,
	}
	if ownsTelemetry {
		app.telemetry = cfg.telemetry
	}
	return app, nil
}

func (b *patternAppConfig) shutdownTelemetry(ctx context.Context, owned bool) {
	if !owned || b.telemetry == nil {
		return
	}
	if err := b.telemetry.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithBuildSystem allows injecting a build system driver instead of the configured one
func WithBuildSystem(c buildsystem.Client) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		cfg.buildSystem = c
		return nil
	}
}

// WithTelemetry sets the telemetry providers. The caller keeps ownership and
// shuts them down.
func WithTelemetry(t *telemetry.Telemetry) PatternAppOptions {
	return func(cfg *patternAppConfig) error {
		if t == nil {
			return fmt.Errorf("telemetry cannot be nil")
		}
		cfg.telemetry = t
		return nil
	}
}

// buildCoreComponents creates the store and the domain components on top of it
func buildCoreComponents(ctx context.Context, b *patternAppConfig, c *AppComponents) error {
	slog.Info("Initializing pattern catalog components")

	store, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	c.Store = store

	mp := b.telemetry.MeterProvider()
	catalogMetrics, err := telemetry.NewCatalogMetrics(mp)
	if err != nil {
		return fmt.Errorf("failed to create catalog metrics: %w", err)
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics(mp)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	c.Registry = registry.New(store)
	c.Catalog = catalog.New(store, c.Registry, ledger.New(store), catalog.WithMetrics(catalogMetrics))

	c.BuildSystem = b.buildSystem
	if c.BuildSystem == nil {
		client, err := buildBuildSystem(b.config)
		if err != nil {
			return fmt.Errorf("failed to create build system driver: %w", err)
		}
		c.BuildSystem = client
	}

	orch := b.config.Orchestrator
	initial, maxBackoff := orch.GetBackoff()
	c.Orchestrator, err = orchestrator.New(c.Catalog, store, c.BuildSystem,
		orchestrator.WithMaxProvisionAttempts(orch.GetMaxProvisionAttempts()),
		orchestrator.WithBackoff(initial, maxBackoff),
		orchestrator.WithMetrics(pipelineMetrics),
		orchestrator.WithTracer(b.telemetry.Tracer(tracerName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if local, ok := c.BuildSystem.(*buildsystem.Local); ok {
		local.SetSink(c.Orchestrator)
	}

	c.Poller = poller.New(c.Orchestrator, c.Catalog, c.BuildSystem,
		poller.WithInterval(orch.GetPollInterval()))

	slog.Info("Pattern catalog components initialized",
		"storage", b.config.GetStorageType(),
		"build_system", b.config.BuildSystem.Type)
	return nil
}

// buildBuildSystem creates the driver selected by the configuration
func buildBuildSystem(cfg *config.Config) (buildsystem.Client, error) {
	bs := cfg.BuildSystem
	switch bs.Type {
	case config.BuildSystemTypeHTTP:
		var opts []buildsystem.HTTPOption
		if bs.CallbackURL != "" {
			opts = append(opts, buildsystem.WithCallbackURL(bs.CallbackURL))
		}
		client, err := buildsystem.NewHTTPClient(bs.Endpoint, bs.GetTimeout(), opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("Using HTTP build system", "endpoint", bs.Endpoint)
		return client, nil
	case config.BuildSystemTypeLocal:
		username, password, err := bs.GetRepositoryAuth()
		if err != nil {
			return nil, err
		}
		local, err := buildsystem.NewLocal(bs.RepositoryDir, buildsystem.WithRepositoryAuth(username, password))
		if err != nil {
			return nil, err
		}
		slog.Info("Using local build system", "repository_dir", bs.RepositoryDir)
		return local, nil
	default:
		return nil, fmt.Errorf("unknown build system type: %q", bs.Type)
	}
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	_ context.Context,
	b *patternAppConfig,
	c *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// No global timeout middleware: DELETE ?wait may block for up to maxDeleteWait
	if b.middlewares == nil {
		httpMw, err := telemetry.NewHTTPMiddleware(b.telemetry.TracerProvider(), b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry middleware: %w", err)
		}
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			httpMw.Handler,
			api.LoggingMiddleware,
		}
	}

	maxWait := b.config.Orchestrator.GetMaxDeleteWait()
	routeOpts := []v1.Option{v1.WithMaxWait(maxWait)}
	secret, err := b.config.Signals.GetWebhookSecret()
	if err != nil {
		return nil, err
	}
	if secret != "" {
		routeOpts = append(routeOpts, v1.WithSignalSecret(secret, b.config.Signals.GetMaxSkew()))
	} else {
		slog.Warn("No webhook secret configured; pipeline signals are accepted unsigned")
	}

	router := api.NewServer(c.Catalog, c.Registry, c.Orchestrator, c.Store,
		api.WithMiddlewares(b.middlewares...),
		api.WithRouteOptions(routeOpts...),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: max(b.writeTimeout, maxWait+writeTimeoutMargin),
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address, "write_timeout", server.WriteTimeout)
	return server, nil
}
