package vstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Option mutates the Micro instance during construction.
type Option func(*Micro) error

func WithLogger(logger Logger) Option {
	return func(ms *Micro) error {
		if logger == nil {
			return errors.New("nil logger provided")
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.Logger = logger
		return nil
	}
}

func WithConfig(cfg *Config) Option {
	return func(ms *Micro) error {
		if cfg == nil {
			return errors.New("nil config provided")
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.Config = cfg
		return nil
	}
}

func WithTracer(tracer Tracer) Option {
	return func(ms *Micro) error {
		if tracer == nil {
			tracer = NoopTracer{}
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.Tracer = tracer
		return nil
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(ms *Micro) error {
		if metrics == nil {
			metrics = NoopMetrics{}
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.Metrics = metrics
		return nil
	}
}

func WithErrorReporter(reporter ErrorReporter) Option {
	return func(ms *Micro) error {
		if reporter == nil {
			reporter = NoopErrorReporter{}
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.Errors = reporter
		return nil
	}
}

func WithPubSub(ps PubSub) Option {
	return func(ms *Micro) error {
		if ps == nil {
			ps = NoopPubSub{}
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.deps.PubSub = ps
		return nil
	}
}

// WithHealthChecks registers a liveness and, optionally, a readiness probe.
// Nil checks always pass.
func WithHealthChecks(name string, checks ...HealthCheck) Option {
	return func(ms *Micro) error {
		if name == "" {
			return errors.New("health check name required")
		}
		liveness, readiness := HealthCheck(HealthStatusOK), HealthCheck(HealthStatusOK)
		if len(checks) > 0 && checks[0] != nil {
			liveness = checks[0]
		}
		if len(checks) > 1 && checks[1] != nil {
			readiness = checks[1]
		}
		ms.health.RegisterLiveness(name, liveness)
		ms.health.RegisterReadiness(name, readiness)
		return nil
	}
}

// WithDebugRoutes enables GET /debug/routes on the HTTP server.
func WithDebugRoutes() Option {
	return func(ms *Micro) error {
		ms.mu.Lock()
		ms.debugRoutes = true
		ms.mu.Unlock()
		return nil
	}
}

// WithLifecycle registers components implementing Startable, Stoppable or
// HealthReporter.
func WithLifecycle(components ...any) Option {
	return func(ms *Micro) error {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		for _, component := range components {
			if component != nil {
				ms.addComponent(component)
			}
		}
		return nil
	}
}

func WithRunner(r Runner) Option {
	return func(ms *Micro) error {
		if r == nil {
			return errors.New("nil runner provided")
		}
		ms.addRunner(r)
		return nil
	}
}

// WithHTTPMiddleware registers middlewares applied, in order, to the HTTP
// server. It must precede WithHTTPServer.
func WithHTTPMiddleware(middlewares ...func(http.Handler) http.Handler) Option {
	return func(ms *Micro) error {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.httpMiddlewares = append(ms.httpMiddlewares, middlewares...)
		return nil
	}
}

// WithRouterConfigurator mutates the router before modules register routes.
func WithRouterConfigurator(configurer func(*chi.Mux)) Option {
	return func(ms *Micro) error {
		if configurer == nil {
			return errors.New("nil router configurator provided")
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		ms.routerConfig = append(ms.routerConfig, configurer)
		return nil
	}
}

func WithShutdown(fn ShutdownFunc) Option {
	return func(ms *Micro) error {
		if fn == nil {
			return errors.New("nil shutdown hook provided")
		}
		ms.addShutdown(fn)
		return nil
	}
}

// WithDeps allows bulk mutation of the dependency container.
func WithDeps(configurer func(*Deps) error) Option {
	return func(ms *Micro) error {
		if configurer == nil {
			return errors.New("nil dependency configurer provided")
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if err := configurer(ms.deps); err != nil {
			return fmt.Errorf("configuring dependencies: %w", err)
		}
		return nil
	}
}
