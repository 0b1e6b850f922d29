// Package seed loads fixture rows into the live version exactly once per
// environment.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/yaml.v3"

	"github.com/aquamarinepk/vstore/version"
)

// Actor is recorded on every change written by a seed.
const Actor = "seed"

// Seed is an idempotent mutation identified by ID.
type Seed struct {
	ID          string
	Description string
	Run         func(ctx context.Context) error
}

// Record tracks the execution metadata for a seed.
type Record struct {
	ID          string    `bson:"_id"`
	Application string    `bson:"application"`
	Description string    `bson:"description"`
	AppliedAt   time.Time `bson:"applied_at"`
}

// Tracker persists which seeds have executed.
type Tracker interface {
	HasRun(ctx context.Context, id string) (bool, error)
	MarkRun(ctx context.Context, record Record) error
}

// Apply executes the provided seeds exactly once per tracker.
func Apply(ctx context.Context, tracker Tracker, seeds []Seed, application string) error {
	if tracker == nil {
		return errors.New("seed tracker is required")
	}

	for i, s := range seeds {
		if s.ID == "" {
			return fmt.Errorf("seed at index %d missing ID", i)
		}
		if s.Run == nil {
			return fmt.Errorf("seed %s missing Run function", s.ID)
		}

		ran, err := tracker.HasRun(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("check seed %s status: %w", s.ID, err)
		}
		if ran {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Run(ctx); err != nil {
			return fmt.Errorf("seed %s failed: %w", s.ID, err)
		}

		record := Record{
			ID:          s.ID,
			Application: application,
			Description: s.Description,
			AppliedAt:   time.Now().UTC(),
		}
		if err := tracker.MarkRun(ctx, record); err != nil {
			return fmt.Errorf("mark seed %s as complete: %w", s.ID, err)
		}
	}

	return nil
}

// Fixture is one seed of a fixtures file. Batches run in file order so
// parents can precede their children.
type Fixture struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description"`
	Scope       string  `yaml:"scope"`
	Batches     []Batch `yaml:"batches"`
}

// Batch holds rows of a single entity, upserted in one transaction.
type Batch struct {
	Entity string           `yaml:"entity"`
	Rows   []map[string]any `yaml:"rows"`
}

type fixturesFile struct {
	Seeds []Fixture `yaml:"seeds"`
}

// ParseFixtures decodes a YAML document with a top level "seeds" list.
func ParseFixtures(data []byte) ([]Fixture, error) {
	var doc fixturesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return doc.Seeds, nil
}

// LoadFixtures reads and parses a fixtures file.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// FromFixtures turns fixtures into seeds that upsert their rows into live.
// Unknown entities are rejected before anything runs.
func FromFixtures(m *version.Manager, fixtures []Fixture) ([]Seed, error) {
	if m == nil {
		return nil, errors.New("seed: manager is required")
	}
	seeds := make([]Seed, 0, len(fixtures))
	for _, f := range fixtures {
		for _, b := range f.Batches {
			if _, ok := m.Registry().Get(b.Entity); !ok {
				return nil, fmt.Errorf("seed %s: unknown entity %q", f.ID, b.Entity)
			}
		}
		seeds = append(seeds, Seed{ID: f.ID, Description: f.Description, Run: fixtureRun(m, f)})
	}
	return seeds, nil
}

func fixtureRun(m *version.Manager, f Fixture) func(context.Context) error {
	return func(ctx context.Context) error {
		vctx := version.LiveContext(f.Scope)
		vctx.Actor = Actor
		for _, b := range f.Batches {
			def, _ := m.Registry().Get(b.Entity)
			if _, err := m.Upsert(ctx, def, b.Rows, vctx); err != nil {
				return fmt.Errorf("upsert %s: %w", b.Entity, err)
			}
		}
		return nil
	}
}

// MemoryTracker keeps seed records in process. It suits the memory store,
// whose data does not outlive the process either.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]Record)}
}

func (t *MemoryTracker) HasRun(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[id]
	return ok, nil
}

func (t *MemoryTracker) MarkRun(_ context.Context, record Record) error {
	if record.ID == "" {
		return errors.New("seed record ID is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[record.ID] = record
	return nil
}

// Records returns what has been marked, keyed by seed id.
func (t *MemoryTracker) Records() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Record, len(t.records))
	for k, v := range t.records {
		out[k] = v
	}
	return out
}

const defaultCollectionName = "_seeds"

// MongoTracker stores seed records inside a MongoDB collection.
type MongoTracker struct {
	collection *mongo.Collection
}

// MongoTrackerOption configures a MongoTracker.
type MongoTrackerOption func(*mongoTrackerConfig)

type mongoTrackerConfig struct {
	collectionName string
}

// WithCollectionName overrides the default collection name used by MongoTracker.
func WithCollectionName(name string) MongoTrackerOption {
	return func(cfg *mongoTrackerConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.collectionName = trimmed
		}
	}
}

// NewMongoTracker records seed executions next to the mongo store collections.
func NewMongoTracker(db *mongo.Database, opts ...MongoTrackerOption) *MongoTracker {
	cfg := mongoTrackerConfig{collectionName: defaultCollectionName}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MongoTracker{collection: db.Collection(cfg.collectionName)}
}

func (t *MongoTracker) HasRun(ctx context.Context, id string) (bool, error) {
	if t == nil || t.collection == nil {
		return false, errors.New("mongo tracker is not initialized")
	}

	err := t.collection.FindOne(ctx, bson.M{"_id": id}).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return false, fmt.Errorf("query seed %s: %w", id, err)
}

// MarkRun inserts the record. A duplicate means another instance applied the
// same seed concurrently, which is not an error.
func (t *MongoTracker) MarkRun(ctx context.Context, record Record) error {
	if t == nil || t.collection == nil {
		return errors.New("mongo tracker is not initialized")
	}
	if record.ID == "" {
		return errors.New("seed record ID is required")
	}

	_, err := t.collection.InsertOne(ctx, record)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert seed record %s: %w", record.ID, err)
	}
	return nil
}
