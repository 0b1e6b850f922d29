package version

import (
	"context"
	"errors"

	"github.com/aquamarinepk/vstore/entity"
)

// Detail is a row together with its owned children, keyed by association name.
type Detail struct {
	Record
	Children map[string][]Detail `json:"children,omitempty"`
}

// Get reads a single row. Reads against an unknown branch return ErrNotFound;
// reads against a merged branch return ErrAlreadyMerged.
func (m *Manager) Get(ctx context.Context, def *entity.Definition, id string, vctx Context) (Record, error) {
	const op = "read"
	v := vctx.Version()
	key := Key{Entity: def.Name, ID: id, Version: v}
	var rec Record
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		if err := m.readable(ctx, r, op, v); err != nil {
			return err
		}
		var err error
		rec, err = r.Get(ctx, def.Name, id, v)
		return err
	})
	if err != nil {
		return Record{}, wrapStore(op, key, err)
	}
	return rec, nil
}

// ReadBasic returns the rows for ids in request order. Missing ids are omitted.
func (m *Manager) ReadBasic(ctx context.Context, def *entity.Definition, ids []string, vctx Context) ([]Record, error) {
	const op = "readBasic"
	v := vctx.Version()
	var out []Record
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		if err := m.readable(ctx, r, op, v); err != nil {
			return err
		}
		out = out[:0]
		for _, id := range ids {
			rec, err := r.Get(ctx, def.Name, id, v)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return wrapStore(op, Key{Entity: def.Name, ID: id, Version: v}, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore(op, Key{Entity: def.Name, Version: v}, err)
	}
	return out, nil
}

// ReadDetail is ReadBasic plus the owned children of every row, resolved in
// the same version.
func (m *Manager) ReadDetail(ctx context.Context, def *entity.Definition, ids []string, vctx Context) ([]Detail, error) {
	const op = "readDetail"
	v := vctx.Version()
	var out []Detail
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		if err := m.readable(ctx, r, op, v); err != nil {
			return err
		}
		out = out[:0]
		for _, id := range ids {
			rec, err := r.Get(ctx, def.Name, id, v)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return wrapStore(op, Key{Entity: def.Name, ID: id, Version: v}, err)
			}
			d, err := m.detail(ctx, r, def, rec, v)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore(op, Key{Entity: def.Name, Version: v}, err)
	}
	return out, nil
}

func (m *Manager) detail(ctx context.Context, r Reader, def *entity.Definition, rec Record, v ID) (Detail, error) {
	d := Detail{Record: rec}
	for _, child := range def.Children {
		rows, err := r.ListChildren(ctx, child.Entity, child.ForeignKey, rec.ID, v)
		if err != nil {
			return Detail{}, wrapStore("readDetail", Key{Entity: child.Entity, Version: v}, err)
		}
		if d.Children == nil {
			d.Children = make(map[string][]Detail, len(def.Children))
		}
		list := make([]Detail, 0, len(rows))
		for _, row := range rows {
			cd, err := m.detail(ctx, r, child.Definition(), row, v)
			if err != nil {
				return Detail{}, err
			}
			list = append(list, cd)
		}
		d.Children[child.Name] = list
	}
	return d, nil
}

// Branch returns the registry entry of v.
func (m *Manager) Branch(ctx context.Context, v ID) (Branch, error) {
	var br Branch
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		var err error
		br, err = r.GetBranch(ctx, v)
		return err
	})
	if err != nil {
		return Branch{}, wrapStore("branch", Key{Version: v}, err)
	}
	return br, nil
}

// ListVersion returns every row stored in v.
func (m *Manager) ListVersion(ctx context.Context, vctx Context) ([]Record, error) {
	const op = "listVersion"
	v := vctx.Version()
	var out []Record
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		if err := m.readable(ctx, r, op, v); err != nil {
			return err
		}
		var err error
		out, err = r.ListVersion(ctx, v)
		return err
	})
	if err != nil {
		return nil, wrapStore(op, Key{Version: v}, err)
	}
	return out, nil
}

func (m *Manager) readable(ctx context.Context, r Reader, op string, v ID) error {
	if v.IsLive() {
		return nil
	}
	_, err := m.mergeableBranch(ctx, r, op, v)
	return err
}
