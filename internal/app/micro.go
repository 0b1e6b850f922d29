package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/api"
	"github.com/aquamarinepk/vstore/middleware"
)

// Micro builds the server: the /v1 API, probes, /metrics for internal
// networks, and gRPC health. The returned Micro owns the opened backends and
// stops them on shutdown, so Close must not be called after Run.
func (a *App) Micro(opts ...vstore.Option) *vstore.Micro {
	cfg := a.Deps.Config
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:  a.Deps.Logger,
		Metrics: a.Metrics,
		Tracer:  a.Deps.Tracer,
		Errors:  a.Deps.Errors,
		Timeout: cfg.GetDurationOrDef("http.timeout", 30*time.Second),
	})

	base := []vstore.Option{
		vstore.WithConfig(cfg),
		vstore.WithLogger(a.Deps.Logger),
		vstore.WithMetrics(a.Metrics),
		vstore.WithTracer(a.Deps.Tracer),
		vstore.WithErrorReporter(a.Deps.Errors),
		vstore.WithPubSub(a.Deps.PubSub),
		vstore.WithHTTPMiddleware(stack...),
		vstore.WithHealthChecks(ServiceName),
		vstore.WithLifecycle(a.Components()...),
		vstore.WithRouterConfigurator(func(r *chi.Mux) {
			r.With(middleware.InternalOnly()).Method(http.MethodGet, "/metrics", a.Metrics.Handler())
		}),
	}
	if cfg.GetBoolOrDef("http.debug_routes", false) {
		base = append(base, vstore.WithDebugRoutes())
	}
	base = append(base, opts...)
	base = append(base,
		vstore.WithHTTPServer("http.port", api.Module(a.Manager)),
		vstore.WithGRPCServer("grpc.port"),
	)
	return vstore.NewMicro(base...)
}
