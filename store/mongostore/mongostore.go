// Package mongostore is a version.Store backed by MongoDB. Update runs inside a
// multi-document transaction, so the server must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aquamarinepk/vstore/version"
)

const (
	RecordsCollection  = "versioned_records"
	VersionsCollection = "versions"
)

type Store struct {
	client   *mongo.Client
	records  *mongo.Collection
	versions *mongo.Collection
}

// New opens the record and version collections of db.
func New(db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, errors.New("mongo database is required")
	}
	return &Store{
		client:   db.Client(),
		records:  db.Collection(RecordsCollection),
		versions: db.Collection(VersionsCollection),
	}, nil
}

// EnsureIndexes creates the lookup indexes used by ListVersion and ListChildren.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "version_id", Value: 1}, {Key: "entity", Value: 1}, {Key: "entity_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo create indexes: %w", err)
	}
	return nil
}

type recordDoc struct {
	Key       string    `bson:"_id"`
	Entity    string    `bson:"entity"`
	EntityID  string    `bson:"entity_id"`
	VersionID string    `bson:"version_id"`
	Fields    bson.M    `bson:"fields"`
	Revision  int64     `bson:"revision"`
	Checksum  string    `bson:"checksum"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type branchDoc struct {
	ID         string        `bson:"_id"`
	Name       string        `bson:"name"`
	State      string        `bson:"state"`
	Roots      []version.Key `bson:"roots"`
	Tombstones []version.Key `bson:"tombstones"`
	CreatedAt  time.Time     `bson:"created_at"`
	MergedAt   *time.Time    `bson:"merged_at,omitempty"`
}

func docID(entity, id string, v version.ID) string {
	return entity + "|" + id + "|" + v.String()
}

func toDoc(rec version.Record) recordDoc {
	return recordDoc{
		Key:       docID(rec.Entity, rec.ID, rec.VersionID),
		Entity:    rec.Entity,
		EntityID:  rec.ID,
		VersionID: rec.VersionID.String(),
		Fields:    bson.M(rec.Fields),
		Revision:  rec.Meta.Revision,
		Checksum:  rec.Meta.Checksum,
		CreatedAt: rec.Meta.CreatedAt,
		UpdatedAt: rec.Meta.UpdatedAt,
	}
}

func (d recordDoc) record() version.Record {
	fields, _ := plain(map[string]any(d.Fields)).(map[string]any)
	return version.Record{
		Entity:    d.Entity,
		ID:        d.EntityID,
		VersionID: version.ID(d.VersionID),
		Fields:    fields,
		Meta: version.Meta{
			Revision:  d.Revision,
			Checksum:  d.Checksum,
			CreatedAt: d.CreatedAt.UTC(),
			UpdatedAt: d.UpdatedAt.UTC(),
		},
	}
}

// plain converts driver container types back into the map and slice types
// written by the version manager.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plain(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		return plain([]any(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r version.Reader) error) error {
	return fn(ctx, &tx{s: s})
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, t version.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, &tx{s: s})
	})
	return err
}

type tx struct {
	s *Store
}

func (t *tx) Get(ctx context.Context, entity, id string, v version.ID) (version.Record, error) {
	var doc recordDoc
	err := t.s.records.FindOne(ctx, bson.M{"_id": docID(entity, id, v)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return version.Record{}, fmt.Errorf("mongo get %s:%s@%s: %w", entity, id, v, version.ErrNotFound)
	}
	if err != nil {
		return version.Record{}, fmt.Errorf("mongo get record: %w", err)
	}
	return doc.record(), nil
}

func (t *tx) find(ctx context.Context, filter bson.M) ([]version.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "entity", Value: 1}, {Key: "entity_id", Value: 1}})
	cursor, err := t.s.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list records: %w", err)
	}
	defer cursor.Close(ctx)

	var out []version.Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode record: %w", err)
		}
		out = append(out, doc.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return out, nil
}

func (t *tx) ListVersion(ctx context.Context, v version.ID) ([]version.Record, error) {
	return t.find(ctx, bson.M{"version_id": v.String()})
}

func (t *tx) ListChildren(ctx context.Context, entity, foreignKey, parentID string, v version.ID) ([]version.Record, error) {
	return t.find(ctx, bson.M{
		"entity":              entity,
		"version_id":          v.String(),
		"fields." + foreignKey: parentID,
	})
}

func (t *tx) GetBranch(ctx context.Context, v version.ID) (version.Branch, error) {
	var doc branchDoc
	err := t.s.versions.FindOne(ctx, bson.M{"_id": v.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return version.Branch{}, fmt.Errorf("mongo branch %s: %w", v, version.ErrNotFound)
	}
	if err != nil {
		return version.Branch{}, fmt.Errorf("mongo get branch: %w", err)
	}
	b := version.Branch{
		ID:         version.ID(doc.ID),
		Name:       doc.Name,
		State:      version.BranchState(doc.State),
		Roots:      doc.Roots,
		Tombstones: doc.Tombstones,
		CreatedAt:  doc.CreatedAt.UTC(),
	}
	if doc.MergedAt != nil {
		at := doc.MergedAt.UTC()
		b.MergedAt = &at
	}
	return b, nil
}

func (t *tx) Put(ctx context.Context, rec version.Record) error {
	doc := toDoc(rec)
	opts := options.Replace().SetUpsert(true)
	if _, err := t.s.records.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts); err != nil {
		return fmt.Errorf("mongo put record: %w", err)
	}
	return nil
}

// Create inserts by _id, so a concurrent insert of the same key fails with a
// duplicate key error instead of replacing the row.
func (t *tx) Create(ctx context.Context, rec version.Record) error {
	doc := toDoc(rec)
	if _, err := t.s.records.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("mongo create record %s: %w", rec.Key(), version.ErrDuplicateKey)
		}
		return fmt.Errorf("mongo create record: %w", err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, entity, id string, v version.ID) (bool, error) {
	res, err := t.s.records.DeleteOne(ctx, bson.M{"_id": docID(entity, id, v)})
	if err != nil {
		return false, fmt.Errorf("mongo delete record: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (t *tx) PutBranch(ctx context.Context, b version.Branch) error {
	doc := branchDoc{
		ID:         b.ID.String(),
		Name:       b.Name,
		State:      string(b.State),
		Roots:      b.Roots,
		Tombstones: b.Tombstones,
		CreatedAt:  b.CreatedAt,
		MergedAt:   b.MergedAt,
	}
	if doc.Roots == nil {
		doc.Roots = []version.Key{}
	}
	if doc.Tombstones == nil {
		doc.Tombstones = []version.Key{}
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := t.s.versions.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("mongo put branch: %w", err)
	}
	return nil
}
