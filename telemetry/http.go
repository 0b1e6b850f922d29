package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aquamarinepk/vstore"
)

// HTTP instruments HTTP handlers with tracing and metrics.
type HTTP struct {
	tracer  vstore.Tracer
	metrics vstore.Metrics
}

// Option mutates HTTP configuration.
type Option func(*HTTP)

// NewHTTP builds an HTTP instrumentation helper with optional custom deps.
func NewHTTP(opts ...Option) *HTTP {
	h := &HTTP{
		tracer:  vstore.NoopTracer{},
		metrics: vstore.NoopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithTracer overrides the tracer implementation used by HTTP spans.
func WithTracer(t vstore.Tracer) Option {
	return func(h *HTTP) {
		if t == nil {
			t = vstore.NoopTracer{}
		}
		h.tracer = t
	}
}

// WithMetrics overrides the metrics collector used by HTTP instrumentation.
func WithMetrics(m vstore.Metrics) Option {
	return func(h *HTTP) {
		if m == nil {
			m = vstore.NoopMetrics{}
		}
		h.metrics = m
	}
}

// Middleware opens a span per request and observes its duration and status.
// Requests are labelled with the matched chi route pattern, so ids in paths
// do not multiply series. Unmatched requests fall back to the raw path.
func (h *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "http "+r.Method, map[string]any{"path": r.URL.Path})
		rw := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		status := rw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.End(nil)
		h.metrics.ObserveHTTPRequest(routePattern(r), r.Method, status, time.Since(start))
	})
}

// NewMetricsMiddleware is Middleware without tracing.
func NewMetricsMiddleware(metrics vstore.Metrics) func(http.Handler) http.Handler {
	return NewHTTP(WithMetrics(metrics)).Middleware
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
