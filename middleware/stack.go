package middleware

import (
	"fmt"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/telemetry"
)

// StackOptions configures the default middleware bundle.
type StackOptions struct {
	Logger              vstore.Logger
	Metrics             vstore.Metrics
	Tracer              vstore.Tracer
	Errors              vstore.ErrorReporter
	Timeout             time.Duration
	CompressLevel       int
	AllowedContentTypes []string
}

// DefaultStack wires the middleware order used by the vstore server.
func DefaultStack(opts StackOptions) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID(),
		RealIP(),
		Compress(opts.CompressLevel),
		Recoverer(),
		ErrorReporter(opts.Errors),
		Timeout(opts.Timeout),
		RequestLogger(opts.Logger),
		Metrics(opts.Metrics, opts.Tracer),
		AllowContentType(opts.AllowedContentTypes...),
	}
}

// RequestID ensures every request carries a correlation identifier.
func RequestID() func(http.Handler) http.Handler {
	return vstore.RequestIDMiddleware
}

// RealIP resolves the client address from proxy headers.
func RealIP() func(http.Handler) http.Handler {
	return chimiddleware.RealIP
}

// Compress enables gzip compression.
func Compress(level int) func(http.Handler) http.Handler {
	if level <= 0 {
		level = 5
	}
	return chimiddleware.Compress(level)
}

func Recoverer() func(http.Handler) http.Handler {
	return chimiddleware.Recoverer
}

// Timeout cancels the request context after duration. Store calls honor the
// context, so a slow transaction is rolled back rather than left running.
func Timeout(duration time.Duration) func(http.Handler) http.Handler {
	if duration <= 0 {
		duration = 60 * time.Second
	}
	return chimiddleware.Timeout(duration)
}

// RequestLogger emits structured request lifecycle logs.
func RequestLogger(logger vstore.Logger) func(http.Handler) http.Handler {
	return vstore.NewRequestLogger(normalizeLogger(logger))
}

// Metrics observes every request by route pattern and opens a span for it.
func Metrics(metrics vstore.Metrics, tracer vstore.Tracer) func(http.Handler) http.Handler {
	return telemetry.NewHTTP(telemetry.WithMetrics(metrics), telemetry.WithTracer(tracer)).Middleware
}

// ErrorReporter forwards 5xx responses and panics to the configured reporter.
func ErrorReporter(reporter vstore.ErrorReporter) func(http.Handler) http.Handler {
	if reporter == nil {
		reporter = vstore.NoopErrorReporter{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					reporter.Report(r.Context(), toError(rec), errorFields(r, 0))
					panic(rec)
				}
			}()

			next.ServeHTTP(recorder, r)

			status := recorder.Status()
			if status >= http.StatusInternalServerError {
				reporter.Report(r.Context(), fmt.Errorf("http %d", status), errorFields(r, status))
			}
		})
	}
}

// AllowContentType rejects bodies that are not JSON unless types say otherwise.
// Requests without a body are not checked.
func AllowContentType(types ...string) func(http.Handler) http.Handler {
	if len(types) == 0 {
		types = []string{"application/json"}
	}
	return chimiddleware.AllowContentType(types...)
}

func normalizeLogger(logger vstore.Logger) vstore.Logger {
	if logger == nil {
		return vstore.NewNoopLogger()
	}
	return logger
}

func errorFields(r *http.Request, status int) map[string]any {
	fields := map[string]any{
		"request_id": vstore.RequestIDFrom(r.Context()),
		"path":       r.URL.Path,
		"method":     r.Method,
	}
	if status != 0 {
		fields["status"] = status
	}
	return fields
}

func toError(v any) error {
	switch err := v.(type) {
	case error:
		return err
	default:
		return fmt.Errorf("panic: %v", err)
	}
}
