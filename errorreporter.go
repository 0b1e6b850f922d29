package vstore

import "context"

// ErrorReporter captures unexpected failures, such as a broker rejecting a
// change event after the write committed.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// ErrorReporterFunc adapts a function into an ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, err error, fields map[string]any)

func (f ErrorReporterFunc) Report(ctx context.Context, err error, fields map[string]any) {
	if f == nil {
		return
	}
	f(ctx, err, fields)
}

// NoopErrorReporter drops all reports.
type NoopErrorReporter struct{}

func (NoopErrorReporter) Report(context.Context, error, map[string]any) {}

// LogErrorReporter writes reports to a Logger, tagged with the request id.
type LogErrorReporter struct {
	Logger Logger
}

func (r LogErrorReporter) Report(ctx context.Context, err error, fields map[string]any) {
	if r.Logger == nil || err == nil {
		return
	}
	args := make([]any, 0, 2*len(fields)+5)
	args = append(args, "unexpected error", "error", err.Error())
	if id := RequestIDFrom(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	r.Logger.Error(args...)
}
