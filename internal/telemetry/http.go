package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName names the HTTP tracer and meter
	HTTPInstrumentationName = "github.com/stacklok/toolhive-pattern-catalog/http"

	unknownRoute = "unknown_route"
)

// HTTPMiddleware records a server span and request metrics for every request.
// Spans and metric labels use the chi route pattern, never the raw path.
type HTTPMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMiddleware creates the middleware. Nil providers disable the matching signal.
func NewHTTPMiddleware(tp trace.TracerProvider, mp metric.MeterProvider) (*HTTPMiddleware, error) {
	m := &HTTPMiddleware{propagator: otel.GetTextMapPropagator()}
	if tp != nil {
		m.tracer = tp.Tracer(HTTPInstrumentationName)
	}
	if mp == nil {
		return m, nil
	}

	meter := mp.Meter(HTTPInstrumentationName)
	var err error
	if m.duration, err = meter.Float64Histogram(
		"thv_pat_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60, 300),
	); err != nil {
		return nil, err
	}
	if m.requests, err = meter.Int64Counter(
		"thv_pat_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter(
		"thv_pat_http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler wraps next
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	if m == nil || (m.tracer == nil && m.requests == nil) {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := m.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var span trace.Span
		if m.tracer != nil {
			ctx, span = m.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()
		}
		if m.inFlight != nil {
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)
		}

		// chi fills the route context while routing, so the pattern is read afterwards
		r = r.WithContext(ctx)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}

		if span != nil {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRouteKey.String(route), semconv.HTTPResponseStatusCode(code))
			if code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(code))
			}
		}
		if m.requests != nil {
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status_code", strconv.Itoa(code)),
			)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.requests.Add(ctx, 1, attrs)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}
