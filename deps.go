package vstore

import (
	"context"
	"time"
)

// Deps aggregates cross-cutting concerns shared by the HTTP and gRPC modules
// and the version manager.
type Deps struct {
	Logger  Logger
	Config  *Config
	Metrics Metrics
	Tracer  Tracer
	Errors  ErrorReporter
	PubSub  PubSub
}

// DefaultDeps returns a container filled with no-op implementations.
func DefaultDeps() *Deps {
	return &Deps{
		Metrics: NoopMetrics{},
		Tracer:  NoopTracer{},
		Errors:  NoopErrorReporter{},
		PubSub:  NoopPubSub{},
	}
}

// Metrics emits counters and HTTP request observations.
type Metrics interface {
	Counter(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHTTPRequest(path, method string, status int, duration time.Duration)
}

// Tracer creates spans around store operations.
type Tracer interface {
	Start(ctx context.Context, name string, attrs map[string]any) (context.Context, Span)
}

// Span is the handle returned by Tracer.Start.
type Span interface {
	End(err error)
}

// PubSub publishes encoded change events.
type PubSub interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

type NoopMetrics struct{}

type NoopTracer struct{}

type NoopSpan struct{}

type NoopPubSub struct{}

func (NoopMetrics) Counter(context.Context, string, float64, map[string]string) {}
func (NoopMetrics) ObserveHTTPRequest(string, string, int, time.Duration)       {}

func (NoopTracer) Start(ctx context.Context, _ string, _ map[string]any) (context.Context, Span) {
	return ctx, NoopSpan{}
}

func (NoopSpan) End(error) {}

func (NoopPubSub) Publish(context.Context, string, []byte) error { return nil }

// LogTracer logs span durations at debug level.
type LogTracer struct {
	Logger Logger
}

func (t LogTracer) Start(ctx context.Context, name string, attrs map[string]any) (context.Context, Span) {
	if t.Logger == nil {
		return ctx, NoopSpan{}
	}
	return ctx, &logSpan{logger: t.Logger, name: name, attrs: attrs, start: time.Now()}
}

type logSpan struct {
	logger Logger
	name   string
	attrs  map[string]any
	start  time.Time
}

func (s *logSpan) End(err error) {
	args := []any{"span finished", "span", s.name, "elapsed_ms", time.Since(s.start).Milliseconds()}
	for k, v := range s.attrs {
		args = append(args, k, v)
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	s.logger.Debug(args...)
}
