package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"
)

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*Config{nil, {Enabled: false, Tracing: &TracingConfig{Enabled: true}}} {
		tel, err := New(context.Background(), cfg)
		require.NoError(t, err)
		assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
		assert.IsType(t, metricnoop.MeterProvider{}, tel.MeterProvider())
		assert.NoError(t, tel.Shutdown(context.Background()))
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{
		Enabled: true,
		Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(2.0)},
	})
	assert.ErrorContains(t, err, "invalid telemetry configuration")
}

// OTLP exporters and the global otel providers are process-wide, so these subtests run serially
func TestNew_Enabled(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()
	endpoint := strings.TrimPrefix(collector.URL, "http://")

	tests := []struct {
		name        string
		tracing     bool
		metrics     bool
		wantTracer  bool
		wantMetrics bool
	}{
		{name: "tracing only", tracing: true, wantTracer: true},
		{name: "metrics only", metrics: true, wantMetrics: true},
		{name: "both", tracing: true, metrics: true, wantTracer: true, wantMetrics: true},
		{name: "neither signal", tracing: false, metrics: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := New(context.Background(), &Config{
				Enabled:  true,
				Endpoint: endpoint,
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: tt.tracing, Sampling: ptr.To(1.0)},
				Metrics:  &MetricsConfig{Enabled: tt.metrics},
			})
			require.NoError(t, err)

			_, isSDKTracer := tel.TracerProvider().(*sdktrace.TracerProvider)
			assert.Equal(t, tt.wantTracer, isSDKTracer)
			_, isSDKMeter := tel.MeterProvider().(*sdkmetric.MeterProvider)
			assert.Equal(t, tt.wantMetrics, isSDKMeter)

			_, span := tel.Tracer("test").Start(context.Background(), "op")
			span.End()

			require.NoError(t, tel.Shutdown(context.Background()))
			assert.NoError(t, tel.Shutdown(context.Background()))
		})
	}
}
