// Package telemetry provides OpenTelemetry instrumentation for the pattern catalog:
// OTLP tracer and meter providers, HTTP middleware and the domain metrics.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName identifies the service when serviceName is not configured
	DefaultServiceName = "thv-pattern-api"

	// DefaultEndpoint is the OTLP HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05

	// DefaultExportInterval is how often metrics are pushed to the collector
	DefaultExportInterval = 60 * time.Second
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled turns all telemetry on. When false, no-op providers are used.
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as host:port; /v1/traces and /v1/metrics are appended
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends telemetry over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, between 0 and 1. Unset means DefaultSampling.
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ExportInterval is a Go duration; unset means DefaultExportInterval
	ExportInterval string `yaml:"exportInterval,omitempty"`
}

// GetServiceName returns the service name, using the default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the collector endpoint, using the default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *Config) tracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// GetSampling returns the sampling ratio
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// GetExportInterval returns the metric export interval. Validate first.
func (c *MetricsConfig) GetExportInterval() time.Duration {
	if c == nil || c.ExportInterval == "" {
		return DefaultExportInterval
	}
	d, err := time.ParseDuration(c.ExportInterval)
	if err != nil {
		return DefaultExportInterval
	}
	return d
}

// Validate checks the configuration. A nil or disabled configuration is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Sampling != nil {
		if s := *c.Tracing.Sampling; s < 0 || s > 1 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %g", s))
		}
	}
	if c.Metrics != nil && c.Metrics.ExportInterval != "" {
		d, err := time.ParseDuration(c.Metrics.ExportInterval)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("metrics: exportInterval: %w", err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("metrics: exportInterval must be positive, got %s", d))
		}
	}
	return errors.Join(errs...)
}
