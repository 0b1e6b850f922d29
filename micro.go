package vstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Micro wires dependencies, starts lifecycle components and transports, and
// shuts them down in reverse order when the run context ends.
type Micro struct {
	deps     *Deps
	runners  []Runner
	shutdown []ShutdownFunc
	health   *HealthRegistry

	mu              sync.RWMutex
	httpConfigured  bool
	httpMiddlewares []func(http.Handler) http.Handler
	routerConfig    []func(*chi.Mux)
	debugRoutes     bool

	startFuncs []func(context.Context) error
	stopFuncs  []func(context.Context) error
}

// ShutdownFunc runs after every runner and component has stopped.
type ShutdownFunc func(context.Context) error

// NewMicro applies opts in order. It panics when an option fails or when the
// logger or config dependency is missing.
func NewMicro(opts ...Option) *Micro {
	ms := &Micro{
		deps:   DefaultDeps(),
		health: NewHealthRegistry(),
	}
	ms.health.RegisterLiveness("core", HealthStatusOK)
	ms.health.RegisterReadiness("core", HealthStatusOK)
	for _, opt := range opts {
		if err := opt(ms); err != nil {
			panic(fmt.Errorf("applying option: %w", err))
		}
	}
	ms.ensureCoreDependencies()
	return ms
}

// Run starts components and runners, blocks until ctx is cancelled, then stops
// everything. A failed start rolls back the components started before it.
func (micro *Micro) Run(ctx context.Context) error {
	micro.mu.RLock()
	runners := append([]Runner(nil), micro.runners...)
	shutdown := append([]ShutdownFunc(nil), micro.shutdown...)
	startFns := append([]func(context.Context) error(nil), micro.startFuncs...)
	stopFns := append([]func(context.Context) error(nil), micro.stopFuncs...)
	log := micro.deps.Logger
	micro.mu.RUnlock()

	for i, start := range startFns {
		if err := start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := stopFns[j](context.Background()); stopErr != nil {
					err = errors.Join(err, fmt.Errorf("lifecycle rollback: %w", stopErr))
				}
			}
			return fmt.Errorf("lifecycle start: %w", err)
		}
	}

	for i, runner := range runners {
		if err := runner.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = runners[j].Stop(context.Background())
			}
			return fmt.Errorf("runner start: %w", err)
		}
	}
	log.Info("service started", "runners", len(runners), "components", len(startFns))

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx := context.WithoutCancel(ctx)
	var aggErr error
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(stopCtx); err != nil {
			aggErr = errors.Join(aggErr, fmt.Errorf("runner stop: %w", err))
		}
	}
	for i := len(stopFns) - 1; i >= 0; i-- {
		if err := stopFns[i](stopCtx); err != nil {
			aggErr = errors.Join(aggErr, fmt.Errorf("lifecycle stop: %w", err))
		}
	}
	for _, hook := range shutdown {
		if err := hook(stopCtx); err != nil {
			aggErr = errors.Join(aggErr, fmt.Errorf("shutdown hook: %w", err))
		}
	}
	return aggErr
}

// Deps exposes the wired dependency container.
func (micro *Micro) Deps() *Deps {
	micro.mu.RLock()
	defer micro.mu.RUnlock()
	return micro.deps
}

// Health exposes the registry shared by the HTTP probes and gRPC health service.
func (micro *Micro) Health() *HealthRegistry {
	return micro.health
}

func (micro *Micro) addRunner(r Runner) {
	micro.mu.Lock()
	defer micro.mu.Unlock()
	micro.runners = append(micro.runners, r)
}

func (micro *Micro) addShutdown(fn ShutdownFunc) {
	micro.mu.Lock()
	defer micro.mu.Unlock()
	micro.shutdown = append(micro.shutdown, fn)
}

func (micro *Micro) ensureCoreDependencies() {
	micro.mu.RLock()
	defer micro.mu.RUnlock()
	if micro.deps.Logger == nil {
		panic("logger dependency must be configured")
	}
	if micro.deps.Config == nil {
		panic("config dependency must be configured")
	}
}

// addComponent registers the lifecycle and health hooks a component implements.
// Callers must hold micro.mu.
func (micro *Micro) addComponent(component any) {
	if startable, ok := component.(Startable); ok {
		micro.startFuncs = append(micro.startFuncs, startable.Start)
	}
	if stoppable, ok := component.(Stoppable); ok {
		micro.stopFuncs = append(micro.stopFuncs, stoppable.Stop)
	}
	if reporter, ok := component.(HealthReporter); ok {
		micro.health.RegisterChecks(reporter.HealthChecks())
	}
}
