package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/entity"
)

// Manager applies versioned writes against a Store. Every batch runs in a
// single store transaction while the touched rows are locked.
type Manager struct {
	store    Store
	registry *entity.Registry
	locker   Locker
	hooks    []Notifier
	log      vstore.Logger
	metrics  vstore.Metrics
	tracer   vstore.Tracer
	errs     vstore.ErrorReporter
	now      func() time.Time
	newID    func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker replaces the in-process locker, e.g. with a distributed one.
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithNotifier appends post-commit hooks.
func WithNotifier(n ...Notifier) Option {
	return func(m *Manager) {
		for _, h := range n {
			if h != nil {
				m.hooks = append(m.hooks, h)
			}
		}
	}
}

func WithLogger(l vstore.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(metrics vstore.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func WithTracer(t vstore.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithErrorReporter(r vstore.ErrorReporter) Option {
	return func(m *Manager) {
		if r != nil {
			m.errs = r
		}
	}
}

// WithDeps pulls logger, metrics, tracer and error reporter from deps.
func WithDeps(deps *vstore.Deps) Option {
	return func(m *Manager) {
		if deps == nil {
			return
		}
		WithLogger(deps.Logger)(m)
		WithMetrics(deps.Metrics)(m)
		WithTracer(deps.Tracer)(m)
		WithErrorReporter(deps.Errors)(m)
	}
}

// WithClock overrides the time source used for row metadata.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides how missing ids and version ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewManager builds a Manager over store. The registry resolves definitions
// of rows folded during Merge.
func NewManager(store Store, registry *entity.Registry, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("version: store is required")
	}
	if registry == nil {
		return nil, errors.New("version: registry is required")
	}
	m := &Manager{
		store:    store,
		registry: registry,
		locker:   NewMutexLocker(),
		log:      vstore.NewNoopLogger(),
		metrics:  vstore.NoopMetrics{},
		tracer:   vstore.NoopTracer{},
		errs:     vstore.NoopErrorReporter{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Registry returns the definitions known to m.
func (m *Manager) Registry() *entity.Registry {
	return m.registry
}

// Insert creates rows. Rows without an id get a generated one. A row whose id
// already exists in the target version fails the whole batch.
func (m *Manager) Insert(ctx context.Context, def *entity.Definition, rows []map[string]any, vctx Context) (ChangeSet, error) {
	return m.write(ctx, "insert", def, rows, vctx, modeInsert)
}

// Update patches existing rows. Absent fields keep their stored value.
func (m *Manager) Update(ctx context.Context, def *entity.Definition, rows []map[string]any, vctx Context) (ChangeSet, error) {
	return m.write(ctx, "update", def, rows, vctx, modeUpdate)
}

// Upsert updates rows that exist and inserts the rest.
func (m *Manager) Upsert(ctx context.Context, def *entity.Definition, rows []map[string]any, vctx Context) (ChangeSet, error) {
	return m.write(ctx, "upsert", def, rows, vctx, modeUpsert)
}

type writeMode int

const (
	modeInsert writeMode = iota
	modeUpdate
	modeUpsert
)

type pendingRow struct {
	id     string
	fields map[string]any
}

func (m *Manager) prepare(op string, def *entity.Definition, rows []map[string]any, mode writeMode, v ID) ([]pendingRow, error) {
	out := make([]pendingRow, 0, len(rows))
	for _, row := range rows {
		key := Key{Entity: def.Name, Version: v}
		if raw, ok := row[entity.IDField].(string); ok {
			key.ID = raw
		}
		fields, err := def.Validate(row, entity.ModePatch)
		if err != nil {
			return nil, newError(op, ErrValidation, key, err)
		}
		id, _ := fields[entity.IDField].(string)
		if id == "" {
			if mode == modeUpdate {
				return nil, newError(op, ErrValidation, key, &entity.ValidationError{
					Entity: def.Name,
					Fields: []entity.FieldError{{Field: entity.IDField, Message: "is required"}},
				})
			}
			id = m.newID()
		}
		fields[entity.IDField] = id
		out = append(out, pendingRow{id: id, fields: fields})
	}
	return out, nil
}

func (m *Manager) write(ctx context.Context, op string, def *entity.Definition, rows []map[string]any, vctx Context, mode writeMode) (cs ChangeSet, err error) {
	v := vctx.Version()
	cs = ChangeSet{Context: vctx.WithVersion(v)}
	if def == nil {
		return cs, newError(op, ErrValidation, Key{Version: v}, errors.New("definition is required"))
	}

	ctx, span := m.tracer.Start(ctx, "version."+op, map[string]any{"entity": def.Name, "version": v.String(), "rows": len(rows)})
	defer func() {
		span.End(err)
		m.observe(ctx, op, err)
	}()

	pending, err := m.prepare(op, def, rows, mode, v)
	if err != nil {
		return cs, err
	}
	if len(pending) == 0 {
		return cs, nil
	}

	keys := make([]string, 0, len(pending)+1)
	for _, p := range pending {
		keys = append(keys, RowLockKey(Key{Entity: def.Name, ID: p.id, Version: v}))
	}
	if !v.IsLive() {
		keys = append(keys, BranchLockKey(v))
	}
	unlock, err := m.locker.Lock(ctx, keys...)
	if err != nil {
		return cs, fmt.Errorf("%s %s: lock: %w", op, def.Name, err)
	}
	defer unlock()

	err = m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		cs.Changes = nil
		br, err := m.writableBranch(ctx, tx, op, v)
		if err != nil {
			return err
		}
		branchDirty := false

		for _, p := range pending {
			key := Key{Entity: def.Name, ID: p.id, Version: v}
			existing, err := tx.Get(ctx, def.Name, p.id, v)
			found := err == nil
			if err != nil && !errors.Is(err, ErrNotFound) {
				return wrapStore(op, key, err)
			}
			if found && mode == modeInsert {
				return newError(op, ErrDuplicateKey, key, nil)
			}
			if !found && mode == modeUpdate {
				return newError(op, ErrNotFound, key, nil)
			}

			var rec Record
			change := Change{Entity: def.Name, EntityID: p.id, VersionID: v}
			if found {
				rec, err = m.patched(existing, p.fields)
				change.Op = OpUpdated
			} else {
				if err := def.CheckRequired(p.fields); err != nil {
					return newError(op, ErrValidation, key, err)
				}
				rec, err = m.created(key, p.fields)
				change.Op = OpInserted
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", op, key, err)
			}
			change.Payload = CopyFields(rec.Fields)
			put := tx.Put
			if !found {
				put = tx.Create
			}
			if err := put(ctx, rec); err != nil {
				return wrapStore(op, key, err)
			}
			if br != nil && br.clearTombstone(def.Name, p.id) {
				branchDirty = true
			}
			cs.add(change)
		}

		if branchDirty {
			if err := tx.PutBranch(ctx, *br); err != nil {
				return wrapStore(op, Key{Version: v}, err)
			}
		}
		return nil
	})
	if err != nil {
		return ChangeSet{Context: cs.Context}, err
	}

	m.log.Debug("rows written", "op", op, "entity", def.Name, "version", v.String(), "changes", len(cs.Changes))
	m.notify(ctx, Event{Name: EventWritten, VersionID: v, ChangeSet: cs})
	return cs, nil
}

func (m *Manager) created(key Key, fields map[string]any) (Record, error) {
	sum, err := entity.Checksum(fields)
	if err != nil {
		return Record{}, err
	}
	now := m.now()
	return Record{
		Entity:    key.Entity,
		ID:        key.ID,
		VersionID: key.Version,
		Fields:    CopyFields(fields),
		Meta:      Meta{Revision: 1, Checksum: sum, CreatedAt: now, UpdatedAt: now},
	}, nil
}

func (m *Manager) patched(existing Record, patch map[string]any) (Record, error) {
	rec := existing.Clone()
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		rec.Fields[k] = copyValue(v)
	}
	sum, err := entity.Checksum(rec.Fields)
	if err != nil {
		return Record{}, err
	}
	rec.Meta.Revision++
	rec.Meta.Checksum = sum
	rec.Meta.UpdatedAt = m.now()
	return rec, nil
}

// Delete removes rows and their owned children. Ids with no row in the target
// version are reported in ChangeSet.Skipped. Deletes inside a branch are
// recorded so Merge removes the live rows as well.
func (m *Manager) Delete(ctx context.Context, def *entity.Definition, ids []string, vctx Context) (cs ChangeSet, err error) {
	const op = "delete"
	v := vctx.Version()
	cs = ChangeSet{Context: vctx.WithVersion(v)}
	if def == nil {
		return cs, newError(op, ErrValidation, Key{Version: v}, errors.New("definition is required"))
	}

	ctx, span := m.tracer.Start(ctx, "version."+op, map[string]any{"entity": def.Name, "version": v.String(), "rows": len(ids)})
	defer func() {
		span.End(err)
		m.observe(ctx, op, err)
	}()

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		if id == "" {
			return cs, newError(op, ErrValidation, Key{Entity: def.Name, Version: v}, &entity.ValidationError{
				Entity: def.Name,
				Fields: []entity.FieldError{{Field: entity.IDField, Message: "is required"}},
			})
		}
		keys = append(keys, RowLockKey(Key{Entity: def.Name, ID: id, Version: v}))
	}
	if len(keys) == 0 {
		return cs, nil
	}
	if !v.IsLive() {
		keys = append(keys, BranchLockKey(v))
	}
	unlock, err := m.locker.Lock(ctx, keys...)
	if err != nil {
		return cs, fmt.Errorf("%s %s: lock: %w", op, def.Name, err)
	}
	defer unlock()

	err = m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		cs.Changes, cs.Skipped = nil, nil
		br, err := m.writableBranch(ctx, tx, op, v)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			key := Key{Entity: def.Name, ID: id, Version: v}
			if _, err := tx.Get(ctx, def.Name, id, v); err != nil {
				if errors.Is(err, ErrNotFound) {
					cs.Skipped = append(cs.Skipped, id)
					continue
				}
				return wrapStore(op, key, err)
			}
			if err := m.deleteTree(ctx, tx, op, def, id, v, br, &cs); err != nil {
				return err
			}
		}
		if br != nil && len(cs.Changes) > 0 {
			if err := tx.PutBranch(ctx, *br); err != nil {
				return wrapStore(op, Key{Version: v}, err)
			}
		}
		return nil
	})
	if err != nil {
		return ChangeSet{Context: cs.Context}, err
	}

	if !cs.IsEmpty() {
		m.notify(ctx, Event{Name: EventWritten, VersionID: v, ChangeSet: cs})
	}
	return cs, nil
}

func (m *Manager) deleteTree(ctx context.Context, tx Tx, op string, def *entity.Definition, id string, v ID, br *Branch, cs *ChangeSet) error {
	for _, child := range def.Children {
		rows, err := tx.ListChildren(ctx, child.Entity, child.ForeignKey, id, v)
		if err != nil {
			return wrapStore(op, Key{Entity: child.Entity, Version: v}, err)
		}
		for _, row := range rows {
			if err := m.deleteTree(ctx, tx, op, child.Definition(), row.ID, v, br, cs); err != nil {
				return err
			}
		}
	}
	key := Key{Entity: def.Name, ID: id, Version: v}
	deleted, err := tx.Delete(ctx, def.Name, id, v)
	if err != nil {
		return wrapStore(op, key, err)
	}
	if !deleted {
		return nil
	}
	cs.add(Change{Entity: def.Name, EntityID: id, VersionID: v, Op: OpDeleted, Payload: map[string]any{entity.IDField: id}})
	if br != nil {
		br.addTombstone(key)
	}
	return nil
}

// CreateVersion copies the live row def/id and its owned children into a
// branch. When versionID is empty a new id is generated. A branch may hold
// several roots but never the same row twice.
func (m *Manager) CreateVersion(ctx context.Context, def *entity.Definition, id string, vctx Context, name string, versionID ID) (target ID, err error) {
	const op = "createVersion"
	if def == nil || id == "" {
		return "", newError(op, ErrValidation, Key{Version: versionID}, errors.New("entity and id are required"))
	}
	target = versionID
	if target == "" {
		target = ID(m.newID())
	}
	if target.IsLive() {
		return "", newError(op, ErrValidation, Key{Entity: def.Name, ID: id, Version: target}, errors.New("live is reserved"))
	}

	ctx, span := m.tracer.Start(ctx, "version."+op, map[string]any{"entity": def.Name, "id": id, "version": target.String()})
	defer func() {
		span.End(err)
		m.observe(ctx, op, err)
	}()

	key := Key{Entity: def.Name, ID: id, Version: target}
	unlock, err := m.locker.Lock(ctx, BranchLockKey(target), RowLockKey(key), RowLockKey(Key{Entity: def.Name, ID: id, Version: Live}))
	if err != nil {
		return "", fmt.Errorf("%s %s: lock: %w", op, key, err)
	}
	defer unlock()

	cs := ChangeSet{Context: vctx.WithVersion(target)}
	err = m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		cs.Changes = nil
		br, err := tx.GetBranch(ctx, target)
		switch {
		case errors.Is(err, ErrNotFound):
			br = Branch{ID: target, Name: name, State: BranchCreated, CreatedAt: m.now()}
		case err != nil:
			return wrapStore(op, key, err)
		case br.Merged():
			return newError(op, ErrAlreadyMerged, key, nil)
		}
		if br.Name == "" {
			br.Name = name
		}
		if br.HasRoot(def.Name, id) {
			return newError(op, ErrConflict, key, errors.New("row already branched"))
		}

		live, err := tx.Get(ctx, def.Name, id, Live)
		if err != nil {
			return wrapStore(op, Key{Entity: def.Name, ID: id, Version: Live}, err)
		}
		if err := m.copyTree(ctx, tx, op, def, live, &br, &cs); err != nil {
			return err
		}
		br.Roots = append(br.Roots, key)
		if err := tx.PutBranch(ctx, br); err != nil {
			return wrapStore(op, key, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.log.Info("version created", "version", target.String(), "entity", def.Name, "id", id, "rows", len(cs.Changes))
	m.notify(ctx, Event{Name: EventVersionCreated, VersionID: target, ChangeSet: cs})
	return target, nil
}

// copyTree copies rec and its owned children into br. Any row of the tree that
// br already holds, or has deleted, fails the call with ErrConflict so branch
// edits are never replaced by the live copy.
func (m *Manager) copyTree(ctx context.Context, tx Tx, op string, def *entity.Definition, rec Record, br *Branch, cs *ChangeSet) error {
	target := br.ID
	key := Key{Entity: rec.Entity, ID: rec.ID, Version: target}
	if br.hasTombstone(rec.Entity, rec.ID) {
		return newError(op, ErrConflict, key, errors.New("row deleted in branch"))
	}
	if _, err := tx.Get(ctx, rec.Entity, rec.ID, target); err == nil {
		return newError(op, ErrConflict, key, errors.New("row already present in branch"))
	} else if !errors.Is(err, ErrNotFound) {
		return wrapStore(op, key, err)
	}

	cp := rec.Clone()
	cp.VersionID = target
	if err := tx.Create(ctx, cp); err != nil {
		return wrapStore(op, cp.Key(), err)
	}
	cs.add(Change{Entity: cp.Entity, EntityID: cp.ID, VersionID: target, Op: OpInserted, Payload: CopyFields(cp.Fields)})

	for _, child := range def.Children {
		rows, err := tx.ListChildren(ctx, child.Entity, child.ForeignKey, rec.ID, Live)
		if err != nil {
			return wrapStore(op, Key{Entity: child.Entity, Version: Live}, err)
		}
		for _, row := range rows {
			if err := m.copyTree(ctx, tx, op, child.Definition(), row, br, cs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge folds every row of a branch into live, applies the deletes staged in
// the branch and marks it merged. Each row is validated against its current
// definition before anything is written; one invalid row aborts the merge.
func (m *Manager) Merge(ctx context.Context, versionID ID, vctx Context) (cs ChangeSet, err error) {
	const op = "merge"
	v := versionID
	cs = ChangeSet{Context: vctx.WithVersion(Live)}
	if v.IsLive() {
		return cs, newError(op, ErrValidation, Key{Version: Live}, errors.New("the live version cannot be merged"))
	}

	ctx, span := m.tracer.Start(ctx, "version."+op, map[string]any{"version": v.String()})
	defer func() {
		span.End(err)
		m.observe(ctx, op, err)
	}()

	unlockBranch, err := m.locker.Lock(ctx, BranchLockKey(v))
	if err != nil {
		return cs, fmt.Errorf("%s %s: lock: %w", op, v, err)
	}
	defer unlockBranch()

	var staged []Record
	var br Branch
	err = m.store.View(ctx, func(ctx context.Context, r Reader) error {
		var err error
		if br, err = m.mergeableBranch(ctx, r, op, v); err != nil {
			return err
		}
		staged, err = r.ListVersion(ctx, v)
		return err
	})
	if err != nil {
		return cs, wrapStore(op, Key{Version: v}, err)
	}

	liveKeys := make([]string, 0, len(staged)+len(br.Tombstones))
	for _, rec := range staged {
		liveKeys = append(liveKeys, RowLockKey(Key{Entity: rec.Entity, ID: rec.ID, Version: Live}))
	}
	for _, t := range br.Tombstones {
		liveKeys = append(liveKeys, RowLockKey(Key{Entity: t.Entity, ID: t.ID, Version: Live}))
	}
	if len(liveKeys) > 0 {
		unlockRows, err := m.locker.Lock(ctx, liveKeys...)
		if err != nil {
			return cs, fmt.Errorf("%s %s: lock: %w", op, v, err)
		}
		defer unlockRows()
	}

	err = m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		cs.Changes = nil
		br, err := m.mergeableBranch(ctx, tx, op, v)
		if err != nil {
			return err
		}
		records, err := tx.ListVersion(ctx, v)
		if err != nil {
			return wrapStore(op, Key{Version: v}, err)
		}

		folded := make([]map[string]any, len(records))
		for i, rec := range records {
			def, ok := m.registry.Get(rec.Entity)
			if !ok {
				return newError(op, ErrValidation, rec.Key(), &entity.ValidationError{
					Entity: rec.Entity,
					Fields: []entity.FieldError{{Field: "entity", Message: "unknown entity"}},
				})
			}
			fields, err := def.Validate(rec.Fields, entity.ModeCreate)
			if err != nil {
				return newError(op, ErrValidation, rec.Key(), err)
			}
			folded[i] = fields
		}

		now := m.now()
		for i, rec := range records {
			liveKey := Key{Entity: rec.Entity, ID: rec.ID, Version: Live}
			sum, err := entity.Checksum(folded[i])
			if err != nil {
				return fmt.Errorf("%s %s: %w", op, liveKey, err)
			}
			out := Record{Entity: rec.Entity, ID: rec.ID, VersionID: Live, Fields: folded[i]}
			change := Change{Entity: rec.Entity, EntityID: rec.ID, VersionID: Live, Payload: CopyFields(folded[i])}

			current, err := tx.Get(ctx, rec.Entity, rec.ID, Live)
			put := tx.Put
			switch {
			case err == nil:
				out.Meta = Meta{Revision: current.Meta.Revision + 1, Checksum: sum, CreatedAt: current.Meta.CreatedAt, UpdatedAt: now}
				change.Op = OpUpdated
			case errors.Is(err, ErrNotFound):
				out.Meta = Meta{Revision: 1, Checksum: sum, CreatedAt: now, UpdatedAt: now}
				change.Op = OpInserted
				put = tx.Create
			default:
				return wrapStore(op, liveKey, err)
			}
			if err := put(ctx, out); err != nil {
				return wrapStore(op, liveKey, err)
			}
			cs.add(change)

			if _, err := tx.Delete(ctx, rec.Entity, rec.ID, v); err != nil {
				return wrapStore(op, rec.Key(), err)
			}
			cs.add(Change{Entity: rec.Entity, EntityID: rec.ID, VersionID: v, Op: OpDeleted, Payload: map[string]any{entity.IDField: rec.ID}})
		}

		for _, t := range br.Tombstones {
			def, ok := m.registry.Get(t.Entity)
			if !ok {
				continue
			}
			if _, err := tx.Get(ctx, t.Entity, t.ID, Live); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return wrapStore(op, Key{Entity: t.Entity, ID: t.ID, Version: Live}, err)
			}
			if err := m.deleteTree(ctx, tx, op, def, t.ID, Live, nil, &cs); err != nil {
				return err
			}
		}

		br.State = BranchMerged
		br.MergedAt = &now
		if err := tx.PutBranch(ctx, br); err != nil {
			return wrapStore(op, Key{Version: v}, err)
		}
		return nil
	})
	if err != nil {
		return ChangeSet{Context: cs.Context}, err
	}

	m.log.Info("version merged", "version", v.String(), "changes", len(cs.Changes))
	m.notify(ctx, Event{Name: EventVersionMerged, VersionID: v, ChangeSet: cs})
	return cs, nil
}

func (m *Manager) writableBranch(ctx context.Context, tx Tx, op string, v ID) (*Branch, error) {
	if v.IsLive() {
		return nil, nil
	}
	br, err := m.mergeableBranch(ctx, tx, op, v)
	if err != nil {
		return nil, err
	}
	return &br, nil
}

func (m *Manager) mergeableBranch(ctx context.Context, r Reader, op string, v ID) (Branch, error) {
	br, err := r.GetBranch(ctx, v)
	if err != nil {
		return Branch{}, wrapStore(op, Key{Version: v}, err)
	}
	if br.Merged() {
		return Branch{}, newError(op, ErrAlreadyMerged, Key{Version: v}, nil)
	}
	return br, nil
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	for _, h := range m.hooks {
		if err := h.Notify(ctx, ev); err != nil {
			m.log.Error("change notification failed", "event", ev.Name, "version", ev.VersionID.String(), "error", err)
			m.errs.Report(ctx, err, map[string]any{"event": ev.Name, "version": ev.VersionID.String()})
		}
	}
	m.metrics.Counter(ctx, "vstore_changes_total", float64(len(ev.ChangeSet.Changes)), map[string]string{"event": ev.Name})
}

func (m *Manager) observe(ctx context.Context, op string, err error) {
	m.metrics.Counter(ctx, "vstore_operations_total", 1, map[string]string{"op": op, "result": resultLabel(err)})
	if err != nil && Kind(err) == nil {
		m.errs.Report(ctx, err, map[string]any{"op": op})
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyMerged):
		return "already_merged"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return "error"
}
