package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-pattern-catalog/database"
	"github.com/stacklok/toolhive-pattern-catalog/internal/app/storage/auth"
	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
	"github.com/stacklok/toolhive-pattern-catalog/internal/db"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service/inmemory"
	pgstore "github.com/stacklok/toolhive-pattern-catalog/internal/service/db"
)

// DatabaseFactory creates the PostgreSQL store on top of a shared pgx pool
type DatabaseFactory struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer

	once  sync.Once
	store service.Store
	err   error
}

var _ Factory = (*DatabaseFactory)(nil)

// MemoryFactory creates the in-memory store
type MemoryFactory struct {
	store service.Store
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a factory for a fresh in-memory store
func NewMemoryFactory() *MemoryFactory {
	slog.Info("Using in-memory storage; data is lost on restart")
	return &MemoryFactory{store: inmemory.New()}
}

// CreateStore implements Factory.CreateStore
func (m *MemoryFactory) CreateStore(context.Context) (service.Store, error) {
	return m.store, nil
}

// Cleanup implements Factory.Cleanup
func (*MemoryFactory) Cleanup() {}

// NewDatabaseFactory connects to the database, applying migrations first when configured
func NewDatabaseFactory(ctx context.Context, cfg *config.DatabaseConfig, tracer trace.Tracer) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	if cfg.MigrateOnStart {
		connStr, err := auth.ConnectionString(ctx, cfg)
		if err != nil {
			return nil, err
		}
		version, err := database.MigrateUp(connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		slog.InfoContext(ctx, "Database schema is up to date", "version", version)
	}

	var poolOpts []db.PoolOption
	if cfg.DynamicAuth != nil {
		beforeConnect, err := auth.NewDynamicAuth(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up dynamic database authentication: %w", err)
		}
		poolOpts = append(poolOpts, db.WithBeforeConnect(beforeConnect))
		slog.InfoContext(ctx, "Using dynamic database authentication", "method", "awsRdsIam")
	}

	pool, err := db.NewPool(ctx, cfg, poolOpts...)
	if err != nil {
		return nil, err
	}
	return &DatabaseFactory{pool: pool, tracer: tracer}, nil
}

// CreateStore implements Factory.CreateStore
func (d *DatabaseFactory) CreateStore(_ context.Context) (service.Store, error) {
	d.once.Do(func() {
		opts := []pgstore.Option{pgstore.WithConnectionPool(d.pool)}
		if d.tracer != nil {
			opts = append(opts, pgstore.WithTracer(d.tracer))
		}
		d.store, d.err = pgstore.New(opts...)
	})
	return d.store, d.err
}

// Cleanup closes the connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}
