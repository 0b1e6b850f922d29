package app

import (
	"context"
	"strings"
	"testing"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/internal/shop"
	"github.com/aquamarinepk/vstore/version"
)

func testConfig(overrides map[string]any) *vstore.Config {
	cfg := vstore.NewConfig()
	for k, v := range vstore.DefaultValues {
		cfg.Set(k, v)
	}
	cfg.Set("definitions.file", "../../config/definitions.yaml")
	cfg.Set("seed.file", "../../config/seeds.yaml")
	cfg.Set("events.driver", vstore.DriverMemory)
	cfg.Set("http.port", ":0")
	cfg.Set("grpc.port", ":0")
	for k, v := range overrides {
		cfg.Set(k, v)
	}
	return cfg
}

func TestNewMemoryApp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(nil), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(ctx)

	if a.Bus == nil || a.Bus.Subscribers("vstore.changes") != 1 {
		t.Fatal("memory events driver should subscribe a logger to the topic")
	}
	if err := a.Migrate(ctx); err == nil {
		t.Error("memory store has no schema to migrate")
	}

	for i := 0; i < 2; i++ {
		if err := a.Seed(ctx); err != nil {
			t.Fatalf("Seed #%d: %v", i+1, err)
		}
	}

	repos, err := shop.NewRepositories(a.Manager)
	if err != nil {
		t.Fatalf("NewRepositories: %v", err)
	}
	details, err := repos.FormFields.ReadDetail(ctx, version.LiveContext("shop-1"), "6f1c2a58-0c43-4f0e-9a61-3c1f0e3d2b11")
	if err != nil || len(details) != 1 {
		t.Fatalf("ReadDetail: %v %d", err, len(details))
	}
	if details[0].Meta.Revision != 1 {
		t.Errorf("seed ran twice, revision = %d", details[0].Meta.Revision)
	}
	values, err := shop.Values(details[0])
	if err != nil || len(values) != 1 || values[0].Value != "#009ee0" {
		t.Errorf("values = %+v, %v", values, err)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{name: "unknown store", overrides: map[string]any{"store.driver": "sqlite"}, want: "store.driver"},
		{name: "postgres without dsn", overrides: map[string]any{"store.driver": vstore.DriverPostgres}, want: "dsn"},
		{name: "kafka without brokers", overrides: map[string]any{"events.driver": vstore.DriverKafka}, want: "brokers"},
		{name: "missing definitions", overrides: map[string]any{"definitions.file": "nope.yaml"}, want: "definitions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), testConfig(tt.overrides), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNewWithKafkaAndRedisDrivers(t *testing.T) {
	cfg := testConfig(map[string]any{
		"events.driver":        vstore.DriverKafka,
		"events.kafka.brokers": []string{"127.0.0.1:9092"},
		"lock.driver":          vstore.DriverRedis,
		"lock.redis.url":       "redis://127.0.0.1:6379/0",
	})
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(a.Components()); got != 2 {
		t.Errorf("components = %d, want redis locker and kafka publisher", got)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMicroBuilds(t *testing.T) {
	a, err := New(context.Background(), testConfig(map[string]any{"http.debug_routes": true}), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	ms := a.Micro()
	if ms.Deps().Metrics != a.Metrics {
		t.Error("micro should share the prometheus metrics")
	}
}
