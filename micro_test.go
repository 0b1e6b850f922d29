package vstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type recordingComponent struct {
	name     string
	log      *[]string
	mu       *sync.Mutex
	startErr error
}

func (c recordingComponent) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.log = append(*c.log, "start:"+c.name)
	return c.startErr
}

func (c recordingComponent) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.log = append(*c.log, "stop:"+c.name)
	return nil
}

func (c recordingComponent) HealthChecks() HealthChecks {
	return HealthChecks{Readiness: map[string]HealthCheck{c.name: HealthStatusOK}}
}

func newTestMicro(opts ...Option) *Micro {
	base := []Option{WithLogger(NewNoopLogger()), WithConfig(NewConfig())}
	return NewMicro(append(base, opts...)...)
}

func TestMicroRunStartsAndStopsInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	a := recordingComponent{name: "store", log: &log, mu: &mu}
	b := recordingComponent{name: "locker", log: &log, mu: &mu}

	shutdownCalled := false
	ms := newTestMicro(
		WithLifecycle(a, b),
		WithShutdown(func(context.Context) error { shutdownCalled = true; return nil }),
	)

	if _, ok := ms.Health().readinessSnapshot()["locker"]; !ok {
		t.Error("component health checks should be registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"start:store", "start:locker", "stop:locker", "stop:store"}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(log, want) {
		t.Errorf("lifecycle = %v, want %v", log, want)
	}
	if !shutdownCalled {
		t.Error("shutdown hook not called")
	}
}

func TestMicroRunRollsBackOnStartFailure(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	ok := recordingComponent{name: "store", log: &log, mu: &mu}
	bad := recordingComponent{name: "broker", log: &log, mu: &mu, startErr: errors.New("dial failed")}

	ms := newTestMicro(WithLifecycle(ok, bad))
	err := ms.Run(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:store", "start:broker", "stop:store"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("lifecycle = %v, want %v", log, want)
	}
}

func TestNewMicroPanicsWithoutLogger(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic without logger")
		}
	}()
	NewMicro(WithConfig(NewConfig()))
}

func TestNewMicroPanicsOnFailingOption(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for failing option")
		}
	}()
	newTestMicro(WithRunner(nil))
}

type pingModule struct{}

func (pingModule) RegisterRoutes(r chi.Router) {
	r.Get("/v1/pong", func(w http.ResponseWriter, _ *http.Request) {
		Respond(w, http.StatusOK, "pong", nil)
	})
}

func TestWithHTTPServerMountsModules(t *testing.T) {
	var mux http.Handler
	ms := newTestMicro(
		WithDebugRoutes(),
		WithHTTPServer("http.port", func(*Deps) (HTTPModule, error) { return pingModule{}, nil }),
	)

	ms.mu.RLock()
	if len(ms.runners) != 1 {
		t.Fatalf("runners = %d", len(ms.runners))
	}
	mux = ms.runners[0].(*httpServerRunner).server.Handler
	ms.mu.RUnlock()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/v1/pong", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/debug/routes", http.StatusOK},
		{http.MethodGet, "/missing", http.StatusNotFound},
		{http.MethodPost, "/v1/pong", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestWithHTTPServerTwice(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when configuring http twice")
		}
	}()
	newTestMicro(WithHTTPServer("http.port"), WithHTTPServer("http.port"))
}
