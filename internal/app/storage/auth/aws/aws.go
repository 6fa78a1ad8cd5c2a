// Package aws implements dynamic authentication for AWS RDS IAM.
package aws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
)

const (
	regionDetect = "detect"
	imdsTimeout  = 2 * time.Second
)

// getRegion returns the configured region, asking IMDS when it is "detect"
func getRegion(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg.DynamicAuth == nil || cfg.DynamicAuth.AWSRDSIAM == nil || cfg.DynamicAuth.AWSRDSIAM.Region == "" {
		return "", fmt.Errorf("AWS RDS IAM region is not configured")
	}

	region := cfg.DynamicAuth.AWSRDSIAM.Region
	if region != regionDetect {
		return region, nil
	}

	client := imds.New(imds.Options{HTTPClient: &http.Client{Timeout: imdsTimeout}})
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get region from IMDS: %w", err)
	}
	return out.Region, nil
}

// getToken builds an RDS IAM token for user with the default credential chain
func getToken(ctx context.Context, cfg *config.DatabaseConfig, region, user string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	token, err := auth.BuildAuthToken(ctx, endpoint, region, user, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("failed to build authentication token: %w", err)
	}
	return token, nil
}

// NewToken returns an RDS IAM token for user
func NewToken(ctx context.Context, cfg *config.DatabaseConfig, user string) (string, error) {
	region, err := getRegion(ctx, cfg)
	if err != nil {
		return "", err
	}
	return getToken(ctx, cfg, region, user)
}

// PgxAuthFunc returns a BeforeConnect hook that authenticates every connection
// with a fresh RDS IAM token. The region is resolved once, here.
func PgxAuthFunc(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (func(ctx context.Context, connConfig *pgx.ConnConfig) error, error) {
	region, err := getRegion(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, connConfig *pgx.ConnConfig) error {
		token, err := getToken(ctx, cfg, region, user)
		if err != nil {
			return err
		}
		connConfig.Password = token
		return nil
	}, nil
}
