// Package storage creates the service.Store the server runs on, together with the
// resources it owns, from the storage section of the configuration.
package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the store and manages the lifecycle of what backs it
type Factory interface {
	// CreateStore returns the store. Repeated calls return the same store.
	CreateStore(ctx context.Context) (service.Store, error)

	// Cleanup releases resources held by the factory, such as the database pool
	Cleanup()
}

// FactoryOption configures a factory
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	tracer trace.Tracer
}

// WithTracer sets the tracer used for store spans. Only the database store records spans.
func WithTracer(tracer trace.Tracer) FactoryOption {
	return func(o *factoryOptions) {
		o.tracer = tracer
	}
}

// NewStorageFactory returns the factory for the configured storage type
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...FactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &factoryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeMemory:
		return NewMemoryFactory(), nil
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg.Database, o.tracer)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}
