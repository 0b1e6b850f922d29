// Package repository exposes typed access to one entity on top of
// version.Manager. Values travel as JSON shaped field maps, so struct types
// use json tags named after the entity fields.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/version"
)

// Item is a decoded row with its bookkeeping.
type Item[T any] struct {
	Value     T            `json:"value"`
	VersionID version.ID   `json:"version_id"`
	Meta      version.Meta `json:"meta"`
}

// Detail is an Item with its owned children, which stay untyped.
type Detail[T any] struct {
	Item[T]
	Children map[string][]version.Detail `json:"children,omitempty"`
}

// Written is the result of a write: what changed plus the rows as stored.
type Written[T any] struct {
	version.ChangeSet
	Items []T `json:"items"`
}

type Repository[T any] struct {
	m   *version.Manager
	def *entity.Definition
}

// New binds T to the entity registered under name.
func New[T any](m *version.Manager, name string) (*Repository[T], error) {
	if m == nil {
		return nil, fmt.Errorf("repository %s: nil manager", name)
	}
	def, ok := m.Registry().Get(name)
	if !ok {
		return nil, fmt.Errorf("repository: unknown entity %q", name)
	}
	return &Repository[T]{m: m, def: def}, nil
}

func (r *Repository[T]) Definition() *entity.Definition {
	return r.def
}

func (r *Repository[T]) Create(ctx context.Context, vctx version.Context, items ...T) (Written[T], error) {
	rows, err := encodeAll(items)
	if err != nil {
		return Written[T]{}, err
	}
	cs, err := r.m.Insert(ctx, r.def, rows, vctx)
	if err != nil {
		return Written[T]{}, err
	}
	return r.written(cs)
}

func (r *Repository[T]) Upsert(ctx context.Context, vctx version.Context, items ...T) (Written[T], error) {
	rows, err := encodeAll(items)
	if err != nil {
		return Written[T]{}, err
	}
	cs, err := r.m.Upsert(ctx, r.def, rows, vctx)
	if err != nil {
		return Written[T]{}, err
	}
	return r.written(cs)
}

// Update applies partial field maps. Each patch must carry the row id.
func (r *Repository[T]) Update(ctx context.Context, vctx version.Context, patches ...map[string]any) (Written[T], error) {
	cs, err := r.m.Update(ctx, r.def, patches, vctx)
	if err != nil {
		return Written[T]{}, err
	}
	return r.written(cs)
}

// written decodes the payloads of the changes to this entity.
func (r *Repository[T]) written(cs version.ChangeSet) (Written[T], error) {
	out := Written[T]{ChangeSet: cs}
	for _, c := range cs.Changes {
		if c.Entity != r.def.Name || c.Op == version.OpDeleted {
			continue
		}
		var v T
		if err := Decode(c.Payload, &v); err != nil {
			return Written[T]{}, fmt.Errorf("decode %s:%s: %w", c.Entity, c.EntityID, err)
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}

func (r *Repository[T]) Delete(ctx context.Context, vctx version.Context, ids ...string) (version.ChangeSet, error) {
	return r.m.Delete(ctx, r.def, ids, vctx)
}

func (r *Repository[T]) Get(ctx context.Context, vctx version.Context, id string) (Item[T], error) {
	rec, err := r.m.Get(ctx, r.def, id, vctx)
	if err != nil {
		return Item[T]{}, err
	}
	return decodeItem[T](rec)
}

// ReadBasic returns the rows among ids that exist, in request order.
func (r *Repository[T]) ReadBasic(ctx context.Context, vctx version.Context, ids ...string) ([]Item[T], error) {
	recs, err := r.m.ReadBasic(ctx, r.def, ids, vctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item[T], 0, len(recs))
	for _, rec := range recs {
		item, err := decodeItem[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *Repository[T]) ReadDetail(ctx context.Context, vctx version.Context, ids ...string) ([]Detail[T], error) {
	details, err := r.m.ReadDetail(ctx, r.def, ids, vctx)
	if err != nil {
		return nil, err
	}
	out := make([]Detail[T], 0, len(details))
	for _, d := range details {
		item, err := decodeItem[T](d.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, Detail[T]{Item: item, Children: d.Children})
	}
	return out, nil
}

// CreateVersion copies the live row id and its children into a draft version.
func (r *Repository[T]) CreateVersion(ctx context.Context, vctx version.Context, id, name string, versionID version.ID) (version.ID, error) {
	return r.m.CreateVersion(ctx, r.def, id, vctx, name, versionID)
}

// Merge folds versionID into live. It is not limited to this entity.
func (r *Repository[T]) Merge(ctx context.Context, vctx version.Context, versionID version.ID) (version.ChangeSet, error) {
	return r.m.Merge(ctx, versionID, vctx)
}

func encodeAll[T any](items []T) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		row, err := Encode(item)
		if err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Encode converts v into a field map through its JSON form.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return row, nil
}

// Decode fills out from a stored field map.
func Decode(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}

func decodeItem[T any](rec version.Record) (Item[T], error) {
	var v T
	if err := Decode(rec.Fields, &v); err != nil {
		return Item[T]{}, fmt.Errorf("decode %s:%s: %w", rec.Entity, rec.ID, err)
	}
	return Item[T]{Value: v, VersionID: rec.VersionID, Meta: rec.Meta}, nil
}
