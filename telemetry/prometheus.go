package telemetry

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquamarinepk/vstore"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Prometheus implements vstore.Metrics on a private registry. Counters are
// created on first use with the label names of that first call; later samples
// with a different label set are dropped.
type Prometheus struct {
	registry *prometheus.Registry
	service  string

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus registers the HTTP collectors plus the Go and process
// collectors. service becomes a constant label on every series.
func NewPrometheus(service string) *Prometheus {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}
	p := &Prometheus{
		registry: reg,
		service:  service,
		counters: make(map[string]*prometheus.CounterVec),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: constLabels,
				Buckets:     durationBuckets,
			},
			[]string{"method", "path"},
		),
	}
	reg.MustRegister(
		p.httpRequests,
		p.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Counter(_ context.Context, name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	vec, err := p.counter(name, labels)
	if err != nil {
		return
	}
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	c.Add(value)
}

func (p *Prometheus) counter(name string, labels map[string]string) (*prometheus.CounterVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[name]; ok {
		return vec, nil
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        name,
		ConstLabels: prometheus.Labels{"service": p.service},
	}, names)
	if err := p.registry.Register(vec); err != nil {
		return nil, err
	}
	p.counters[name] = vec
	return vec, nil
}

func (p *Prometheus) ObserveHTTPRequest(path, method string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

var _ vstore.Metrics = (*Prometheus)(nil)
