package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/utils/ptr"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "nil config", config: nil},
		{name: "disabled ignores bad values", config: &Config{
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(7.0)},
		}},
		{name: "valid", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.5)},
			Metrics: &MetricsConfig{Enabled: true, ExportInterval: "15s"},
		}},
		{name: "zero sampling is allowed", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.0)},
		}},
		{name: "sampling above one", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.1)},
		}, wantErr: "sampling must be between"},
		{name: "negative sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Sampling: ptr.To(-0.1)},
		}, wantErr: "sampling must be between"},
		{name: "malformed export interval", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, ExportInterval: "often"},
		}, wantErr: "exportInterval"},
		{name: "negative export interval", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, ExportInterval: "-1s"},
		}, wantErr: "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.False(t, cfg.tracingEnabled())
	assert.False(t, cfg.metricsEnabled())

	var tracing *TracingConfig
	assert.InDelta(t, DefaultSampling, tracing.GetSampling(), 1e-9)
	assert.InDelta(t, 0.0, (&TracingConfig{Sampling: ptr.To(0.0)}).GetSampling(), 1e-9)

	var metrics *MetricsConfig
	assert.Equal(t, DefaultExportInterval, metrics.GetExportInterval())
	assert.Equal(t, 15*time.Second, (&MetricsConfig{ExportInterval: "15s"}).GetExportInterval())

	cfg = &Config{ServiceName: "svc", ServiceVersion: "1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "svc", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
}
