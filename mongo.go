package vstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds the connection parameters of the mongo store driver.
type MongoConfig struct {
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// MongoClient wraps the driver client with lifecycle and health hooks. The
// mongo store needs a replica set, since versioned writes run in transactions.
type MongoClient struct {
	client   *mongo.Client
	database string
}

// NewMongoClient connects and pings the primary.
func NewMongoClient(ctx context.Context, cfg MongoConfig) (*MongoClient, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoClient{client: client, database: cfg.Database}, nil
}

// Database returns the configured database handle.
func (m *MongoClient) Database() *mongo.Database {
	return m.client.Database(m.database)
}

func (m *MongoClient) Collection(name string) *mongo.Collection {
	return m.Database().Collection(name)
}

// HealthChecks reports mongo reachability as a readiness probe.
func (m *MongoClient) HealthChecks() HealthChecks {
	return HealthChecks{
		Readiness: map[string]HealthCheck{
			"mongo": func(ctx context.Context) error {
				return m.client.Ping(ctx, readpref.Primary())
			},
		},
	}
}

// Stop disconnects the client.
func (m *MongoClient) Stop(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
