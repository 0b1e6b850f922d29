package vstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPModule registers routes on the shared router.
type HTTPModule interface {
	RegisterRoutes(router chi.Router)
}

// HTTPModuleFactory builds an HTTPModule from the dependency container.
type HTTPModuleFactory func(*Deps) (HTTPModule, error)

// WithHTTPServer builds the chi router, mounts health and debug endpoints,
// registers every module and adds the server as a runner listening on the
// port stored under addrKey.
func WithHTTPServer(addrKey string, factories ...HTTPModuleFactory) Option {
	return func(ms *Micro) error {
		if addrKey == "" {
			return errors.New("http addr property key required")
		}

		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.httpConfigured {
			return errors.New("http server already configured")
		}
		ms.httpConfigured = true

		router := chi.NewRouter()
		for _, mw := range ms.httpMiddlewares {
			if mw != nil {
				router.Use(mw)
			}
		}

		JSONFallbacks(router)
		RegisterHealthEndpoints(router, ms.health)
		RegisterDebugRoutes(router, ms.debugRoutes)
		for _, configurer := range ms.routerConfig {
			configurer(router)
		}

		for _, factory := range factories {
			if factory == nil {
				return errors.New("nil http module factory")
			}
			module, err := factory(ms.deps)
			if err != nil {
				return fmt.Errorf("building http module: %w", err)
			}
			if module == nil {
				return errors.New("http module factory returned nil module")
			}
			module.RegisterRoutes(router)
			ms.addComponent(module)
		}

		server := &http.Server{
			Addr:              ms.deps.Config.GetPort(addrKey, ":8080"),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		ms.runners = append(ms.runners, newHTTPServerRunner(server, ms.deps.Logger))
		return nil
	}
}

type httpServerRunner struct {
	server *http.Server
	log    Logger
	errCh  chan error
}

func newHTTPServerRunner(server *http.Server, log Logger) Runner {
	return &httpServerRunner{server: server, log: log, errCh: make(chan error, 1)}
}

// Start binds the listener synchronously so port conflicts fail Run.
func (r *httpServerRunner) Start(_ context.Context) error {
	lis, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", r.server.Addr, err)
	}
	r.log.Info("http server listening", "addr", lis.Addr().String())
	go func() {
		if err := r.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.errCh <- err
		}
		close(r.errCh)
	}()
	return nil
}

func (r *httpServerRunner) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := r.server.Shutdown(shutdownCtx)
	select {
	case srvErr, ok := <-r.errCh:
		if ok && srvErr != nil {
			err = errors.Join(err, srvErr)
		}
	default:
	}
	return err
}
