package vstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServiceRegistrar registers itself with a gRPC server.
type GRPCServiceRegistrar interface {
	RegisterGRPCService(server *grpc.Server)
}

// GRPCServiceFactory builds a GRPCServiceRegistrar from the dependency container.
type GRPCServiceFactory func(*Deps) (GRPCServiceRegistrar, error)

// HealthPollInterval is how often the gRPC health service re-runs the
// readiness checks.
var HealthPollInterval = 10 * time.Second

// WithGRPCServer adds a gRPC server listening on the port stored under addrKey.
// It always serves grpc.health.v1 backed by the readiness checks of the shared
// health registry, plus server reflection.
func WithGRPCServer(addrKey string, factories ...GRPCServiceFactory) Option {
	return func(ms *Micro) error {
		if addrKey == "" {
			return errors.New("grpc addr property key required")
		}

		server := grpc.NewServer()
		reflection.Register(server)
		hs := newHealthService(ms.health, ms.deps.Logger)
		healthpb.RegisterHealthServer(server, hs.server)

		for _, factory := range factories {
			if factory == nil {
				return errors.New("nil grpc service factory")
			}
			service, err := factory(ms.deps)
			if err != nil {
				return fmt.Errorf("building grpc service: %w", err)
			}
			if service == nil {
				return errors.New("grpc service factory returned nil service")
			}
			service.RegisterGRPCService(server)
			ms.mu.Lock()
			ms.addComponent(service)
			ms.mu.Unlock()
		}

		addr := ms.deps.Config.GetPort(addrKey, ":50051")
		ms.addRunner(&grpcServerRunner{addr: addr, server: server, health: hs, errCh: make(chan error, 1)})
		return nil
	}
}

// healthService mirrors registry readiness into the gRPC health server. Each
// readiness check is also exposed as its own service name.
type healthService struct {
	registry *HealthRegistry
	server   *health.Server
	log      Logger

	stop chan struct{}
	done sync.WaitGroup
}

func newHealthService(registry *HealthRegistry, log Logger) *healthService {
	if log == nil {
		log = NewNoopLogger()
	}
	return &healthService{registry: registry, server: health.NewServer(), log: log}
}

func (h *healthService) refresh(ctx context.Context) {
	summary := runChecks(ctx, h.registry.readinessSnapshot())
	overall := healthpb.HealthCheckResponse_SERVING
	for _, res := range summary.Results {
		status := healthpb.HealthCheckResponse_SERVING
		if res.Error != "" {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			h.log.Debug("readiness check failing", "check", res.Name, "error", res.Error)
		}
		h.server.SetServingStatus(res.Name, status)
	}
	h.server.SetServingStatus("", overall)
}

func (h *healthService) start(ctx context.Context) {
	h.stop = make(chan struct{})
	h.refresh(ctx)
	h.done.Add(1)
	go func() {
		defer h.done.Done()
		ticker := time.NewTicker(HealthPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), HealthPollInterval)
				h.refresh(checkCtx)
				cancel()
			}
		}
	}()
}

func (h *healthService) shutdown() {
	if h.stop != nil {
		close(h.stop)
		h.done.Wait()
	}
	h.server.Shutdown()
}

type grpcServerRunner struct {
	addr   string
	server *grpc.Server
	health *healthService
	errCh  chan error
}

func (r *grpcServerRunner) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", r.addr, err)
	}
	r.health.start(ctx)
	go func() {
		if err := r.server.Serve(lis); err != nil {
			r.errCh <- err
		}
		close(r.errCh)
	}()
	return nil
}

func (r *grpcServerRunner) Stop(ctx context.Context) error {
	r.health.shutdown()

	stopped := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		r.server.Stop()
	case <-ctx.Done():
		r.server.Stop()
	}

	select {
	case srvErr, ok := <-r.errCh:
		if ok && srvErr != nil {
			return srvErr
		}
	default:
	}
	return nil
}
