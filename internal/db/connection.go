// Package db contains code for connecting to the database.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
)

const (
	defaultMaxConns       = 25
	defaultMinConns       = 2
	defaultConnectTimeout = 10 * time.Second
	defaultConnectTries   = 5
)

// PoolConfig builds the pgx pool configuration described by cfg
func PoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection string: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	poolConfig.MaxConns = defaultMaxConns
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	poolConfig.MinConns = min(defaultMinConns, poolConfig.MaxConns)
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = min(cfg.MaxIdleConns, poolConfig.MaxConns)
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}
	if poolConfig.ConnConfig.ConnectTimeout == 0 {
		poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout
	}
	return poolConfig, nil
}

// PoolOption adjusts the pool configuration before the pool is opened
type PoolOption func(*pgxpool.Config)

// WithBeforeConnect sets a hook run before each new connection, used to supply
// short-lived credentials
func WithBeforeConnect(fn func(context.Context, *pgx.ConnConfig) error) PoolOption {
	return func(c *pgxpool.Config) {
		c.BeforeConnect = fn
	}
}

// NewPool opens a connection pool and waits until the database answers a ping.
// Connection failures are retried with exponential backoff.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, opts ...PoolOption) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(poolConfig)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultConnectTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Database not reachable, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.InfoContext(ctx, "Database connection pool created",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"user", cfg.User,
		"max_conns", poolConfig.MaxConns)
	return pool, nil
}
