// Package memstore is an in-memory version.Store. Update holds an exclusive
// lock for the duration of the transaction and stages writes in an overlay
// that is applied only on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aquamarinepk/vstore/version"
)

type Store struct {
	mu       sync.RWMutex
	records  map[version.Key]version.Record
	branches map[version.ID]version.Branch
}

func New() *Store {
	return &Store{
		records:  make(map[version.Key]version.Record),
		branches: make(map[version.ID]version.Branch),
	}
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r version.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &tx{s: s})
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx version.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:        s,
		writes:   make(map[version.Key]*version.Record),
		branches: make(map[version.ID]version.Branch),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// Len returns the number of stored rows across all versions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// tx reads through its overlay to the committed maps. A nil entry in writes
// marks a staged delete. A read-only tx has nil overlays.
type tx struct {
	s        *Store
	writes   map[version.Key]*version.Record
	branches map[version.ID]version.Branch
}

func (t *tx) lookup(k version.Key) (version.Record, bool) {
	if rec, staged := t.writes[k]; staged {
		if rec == nil {
			return version.Record{}, false
		}
		return *rec, true
	}
	rec, ok := t.s.records[k]
	return rec, ok
}

func (t *tx) Get(_ context.Context, entity, id string, v version.ID) (version.Record, error) {
	k := version.Key{Entity: entity, ID: id, Version: v.Normalize()}
	rec, ok := t.lookup(k)
	if !ok {
		return version.Record{}, fmt.Errorf("memstore get %s: %w", k, version.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (t *tx) scan(match func(version.Record) bool) []version.Record {
	var out []version.Record
	for k, rec := range t.s.records {
		if _, staged := t.writes[k]; staged {
			continue
		}
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	for _, rec := range t.writes {
		if rec != nil && match(*rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *tx) ListVersion(_ context.Context, v version.ID) ([]version.Record, error) {
	v = v.Normalize()
	return t.scan(func(r version.Record) bool { return r.VersionID.Normalize() == v }), nil
}

func (t *tx) ListChildren(_ context.Context, entity, foreignKey, parentID string, v version.ID) ([]version.Record, error) {
	v = v.Normalize()
	return t.scan(func(r version.Record) bool {
		return r.Entity == entity && r.VersionID.Normalize() == v && version.MatchesForeignKey(r, foreignKey, parentID)
	}), nil
}

func (t *tx) GetBranch(_ context.Context, v version.ID) (version.Branch, error) {
	if b, ok := t.branches[v]; ok {
		return cloneBranch(b), nil
	}
	b, ok := t.s.branches[v]
	if !ok {
		return version.Branch{}, fmt.Errorf("memstore branch %s: %w", v, version.ErrNotFound)
	}
	return cloneBranch(b), nil
}

func (t *tx) Put(_ context.Context, rec version.Record) error {
	rec = rec.Clone()
	rec.VersionID = rec.VersionID.Normalize()
	t.writes[rec.Key()] = &rec
	return nil
}

func (t *tx) Create(ctx context.Context, rec version.Record) error {
	k := version.Key{Entity: rec.Entity, ID: rec.ID, Version: rec.VersionID.Normalize()}
	if _, ok := t.lookup(k); ok {
		return fmt.Errorf("memstore create %s: %w", k, version.ErrDuplicateKey)
	}
	return t.Put(ctx, rec)
}

func (t *tx) Delete(_ context.Context, entity, id string, v version.ID) (bool, error) {
	k := version.Key{Entity: entity, ID: id, Version: v.Normalize()}
	_, ok := t.lookup(k)
	if !ok {
		return false, nil
	}
	t.writes[k] = nil
	return true, nil
}

func (t *tx) PutBranch(_ context.Context, b version.Branch) error {
	t.branches[b.ID] = cloneBranch(b)
	return nil
}

func (t *tx) commit() {
	for k, rec := range t.writes {
		if rec == nil {
			delete(t.s.records, k)
			continue
		}
		t.s.records[k] = *rec
	}
	for id, b := range t.branches {
		t.s.branches[id] = b
	}
}

func cloneBranch(b version.Branch) version.Branch {
	b.Roots = append([]version.Key(nil), b.Roots...)
	b.Tombstones = append([]version.Key(nil), b.Tombstones...)
	if b.MergedAt != nil {
		at := *b.MergedAt
		b.MergedAt = &at
	}
	return b
}
