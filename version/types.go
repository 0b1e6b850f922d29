// Package version implements versioned writes over a Store: every entity row
// lives in exactly one version, the live version or a draft branch, and
// branches are folded back into live by Merge.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// ID identifies a version. The live version is Live.
type ID string

// Live is the reserved identifier of the authoritative version.
const Live ID = "live"

// IsLive reports whether id refers to the live version. The empty id does.
func (id ID) IsLive() bool {
	return id == "" || id == Live
}

// Normalize maps the empty id to Live.
func (id ID) Normalize() ID {
	if id == "" {
		return Live
	}
	return id
}

func (id ID) String() string {
	return string(id.Normalize())
}

// Context carries the version, scope and actor a write or read runs under.
type Context struct {
	VersionID ID     `json:"version_id"`
	Scope     string `json:"scope,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// LiveContext returns a context addressing the live version.
func LiveContext(scope string) Context {
	return Context{VersionID: Live, Scope: scope}
}

// Version returns the normalized version id.
func (c Context) Version() ID {
	return c.VersionID.Normalize()
}

// WithVersion returns a copy of c addressing v.
func (c Context) WithVersion(v ID) Context {
	c.VersionID = v
	return c
}

type ctxKey struct{}

// WithContext attaches vctx to ctx.
func WithContext(ctx context.Context, vctx Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, vctx)
}

// FromContext returns the version context attached to ctx, or the live
// context if none was attached.
func FromContext(ctx context.Context) Context {
	if vctx, ok := ctx.Value(ctxKey{}).(Context); ok {
		return vctx
	}
	return LiveContext("")
}

// Key addresses one row in one version.
type Key struct {
	Entity  string `json:"entity" bson:"entity"`
	ID      string `json:"id" bson:"id"`
	Version ID     `json:"version_id" bson:"version_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Entity, k.ID, k.Version.Normalize())
}

// Meta is bookkeeping maintained by the Manager.
type Meta struct {
	Revision  int64     `json:"revision"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one stored row.
type Record struct {
	Entity    string         `json:"entity"`
	ID        string         `json:"id"`
	VersionID ID             `json:"version_id"`
	Fields    map[string]any `json:"fields"`
	Meta      Meta           `json:"meta"`
}

// Key returns the storage key of r.
func (r Record) Key() Key {
	return Key{Entity: r.Entity, ID: r.ID, Version: r.VersionID.Normalize()}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Fields = CopyFields(r.Fields)
	return out
}

// CopyFields deep copies a field map, descending into nested maps and slices.
func CopyFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case nil:
		return nil
	}
	return copyReflect(reflect.ValueOf(v)).Interface()
}

// copyReflect copies typed slices and maps such as []string or
// map[string]int. Other kinds are values or shared references and are kept.
func copyReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyElem(rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyElem(iter.Value()))
		}
		return out
	}
	return rv
}

func copyElem(ev reflect.Value) reflect.Value {
	if ev.Kind() == reflect.Interface {
		if ev.IsNil() {
			return ev
		}
		cp := reflect.ValueOf(copyValue(ev.Interface()))
		out := reflect.New(ev.Type()).Elem()
		out.Set(cp)
		return out
	}
	return copyReflect(ev)
}

// Op is the kind of change applied to a row.
type Op string

const (
	OpInserted Op = "inserted"
	OpUpdated  Op = "updated"
	OpDeleted  Op = "deleted"
)

// Change describes one applied row change.
type Change struct {
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	VersionID ID             `json:"version_id"`
	Op        Op             `json:"op"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ChangeSet reports what a write operation did. Skipped lists ids that were
// requested but had nothing to act on.
type ChangeSet struct {
	Context Context  `json:"context"`
	Changes []Change `json:"changes"`
	Skipped []string `json:"skipped,omitempty"`
}

// IsEmpty reports whether no row changed.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Changes) == 0
}

// ByOp returns the changes with the given op.
func (cs ChangeSet) ByOp(op Op) []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// IDs returns the entity ids touched for entity, in change order.
func (cs ChangeSet) IDs(entity string) []string {
	var out []string
	for _, c := range cs.Changes {
		if c.Entity == entity {
			out = append(out, c.EntityID)
		}
	}
	return out
}

func (cs *ChangeSet) add(c Change) {
	cs.Changes = append(cs.Changes, c)
}

// BranchState is the lifecycle state of a branch.
type BranchState string

const (
	BranchCreated BranchState = "created"
	BranchMerged  BranchState = "merged"
)

// Branch is the registry entry of a non-live version.
type Branch struct {
	ID         ID          `json:"id"`
	Name       string      `json:"name,omitempty"`
	State      BranchState `json:"state"`
	Roots      []Key       `json:"roots"`
	Tombstones []Key       `json:"tombstones,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	MergedAt   *time.Time  `json:"merged_at,omitempty"`
}

// Merged reports whether the branch has been folded into live.
func (b Branch) Merged() bool {
	return b.State == BranchMerged
}

// HasRoot reports whether entity/id was branched into b.
func (b Branch) HasRoot(entity, id string) bool {
	for _, k := range b.Roots {
		if k.Entity == entity && k.ID == id {
			return true
		}
	}
	return false
}

func (b Branch) hasTombstone(entity, id string) bool {
	for _, t := range b.Tombstones {
		if t.Entity == entity && t.ID == id {
			return true
		}
	}
	return false
}

func (b *Branch) addTombstone(k Key) {
	for _, t := range b.Tombstones {
		if t.Entity == k.Entity && t.ID == k.ID {
			return
		}
	}
	b.Tombstones = append(b.Tombstones, k)
}

func (b *Branch) clearTombstone(entity, id string) bool {
	for i, t := range b.Tombstones {
		if t.Entity == entity && t.ID == id {
			b.Tombstones = append(b.Tombstones[:i], b.Tombstones[i+1:]...)
			return true
		}
	}
	return false
}

// MarshalKeys encodes keys for storage backends that keep them as JSON.
func MarshalKeys(keys []Key) ([]byte, error) {
	if keys == nil {
		keys = []Key{}
	}
	return json.Marshal(keys)
}

// UnmarshalKeys decodes keys written by MarshalKeys.
func UnmarshalKeys(data []byte) ([]Key, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var keys []Key
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}
