// Package auth provides dynamic database authentication.
package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/toolhive-pattern-catalog/internal/app/storage/auth/aws"
	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
)

// NewAuthToken returns a token usable as the password of the configured user, or
// an empty string when dynamic authentication is not configured. It serves
// short-lived connections, such as migrations, that cannot use a BeforeConnect hook.
func NewAuthToken(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return "", nil
	}
	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.NewToken(ctx, cfg, cfg.User)
	}
	return "", fmt.Errorf("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
}

// NewDynamicAuth returns a pgx BeforeConnect hook that sets a fresh password on
// every new connection
func NewDynamicAuth(ctx context.Context, cfg *config.DatabaseConfig) (func(context.Context, *pgx.ConnConfig) error, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return nil, fmt.Errorf("dynamic authentication is not configured")
	}
	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.PgxAuthFunc(ctx, cfg, cfg.User)
	}
	return nil, fmt.Errorf("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
}

// ConnectionString returns a connection string with the credentials embedded,
// for golang-migrate which opens its own connections. Without dynamic auth it is
// the configured static connection string.
func ConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return cfg.GetConnectionString()
	}

	token, err := NewAuthToken(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token: %w", err)
	}
	return cfg.BuildConnectionStringWithAuth(token), nil
}
