package version_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/store/memstore"
	"github.com/aquamarinepk/vstore/version"
)

func definitions() []*entity.Definition {
	return []*entity.Definition{
		{
			Name: "form_field",
			Fields: []entity.Field{
				{Name: "name", Type: entity.TypeString, Required: true},
				{Name: "label", Type: entity.TypeString},
				{Name: "position", Type: entity.TypeInt},
			},
			Children: []entity.Child{
				{Name: "values", Entity: "form_field_value", ForeignKey: "form_field_id"},
			},
		},
		{
			Name: "form_field_value",
			Fields: []entity.Field{
				{Name: "form_field_id", Type: entity.TypeString, Required: true},
				{Name: "shop_id", Type: entity.TypeString},
				{Name: "value", Type: entity.TypeJSON},
			},
		},
	}
}

type fixture struct {
	store   *memstore.Store
	reg     *entity.Registry
	mgr     *version.Manager
	field   *entity.Definition
	value   *entity.Definition
	events  *recorder
	counter int
}

type recorder struct {
	mu     sync.Mutex
	events []version.Event
}

func (r *recorder) Notify(_ context.Context, ev version.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func newFixture(t *testing.T, opts ...version.Option) *fixture {
	t.Helper()
	reg, err := entity.NewRegistry(definitions()...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	f := &fixture{store: memstore.New(), reg: reg, events: &recorder{}}
	var mu sync.Mutex
	base := []version.Option{
		version.WithNotifier(f.events),
		version.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
		version.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			f.counter++
			return fmt.Sprintf("gen-%d", f.counter)
		}),
	}
	f.mgr, err = version.NewManager(f.store, reg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.field, _ = reg.Get("form_field")
	f.value, _ = reg.Get("form_field_value")
	return f
}

var live = version.LiveContext("shop-1")

func rows(r ...map[string]any) []map[string]any { return r }

func (f *fixture) mustInsert(t *testing.T, def *entity.Definition, vctx version.Context, r ...map[string]any) version.ChangeSet {
	t.Helper()
	cs, err := f.mgr.Insert(context.Background(), def, r, vctx)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return cs
}

func (f *fixture) get(t *testing.T, def *entity.Definition, id string, vctx version.Context) version.Record {
	t.Helper()
	rec, err := f.mgr.Get(context.Background(), def, id, vctx)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return rec
}

func TestInsertThenRead(t *testing.T) {
	f := newFixture(t)
	cs := f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color", "position": 2.0})

	if len(cs.Changes) != 1 || cs.Changes[0].Op != version.OpInserted || cs.Changes[0].EntityID != "A1" {
		t.Fatalf("ChangeSet = %+v", cs)
	}
	if cs.Context.Scope != "shop-1" || cs.Context.Version() != version.Live {
		t.Errorf("ChangeSet context = %+v", cs.Context)
	}

	got, err := f.mgr.ReadBasic(context.Background(), f.field, []string{"A1", "missing"}, live)
	if err != nil {
		t.Fatalf("ReadBasic() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadBasic() returned %d rows, want 1", len(got))
	}
	rec := got[0]
	if rec.Fields["name"] != "color" || rec.Fields["position"] != int64(2) || rec.Fields["id"] != "A1" {
		t.Errorf("fields = %v", rec.Fields)
	}
	if rec.Meta.Revision != 1 || rec.Meta.Checksum == "" || rec.Meta.CreatedAt.IsZero() {
		t.Errorf("meta = %+v", rec.Meta)
	}
	if names := f.events.names(); len(names) != 1 || names[0] != version.EventWritten {
		t.Errorf("events = %v", names)
	}
}

func TestInsertGeneratesMissingIDs(t *testing.T) {
	f := newFixture(t)
	cs := f.mustInsert(t, f.field, live, map[string]any{"name": "size"})

	if cs.Changes[0].EntityID != "gen-1" {
		t.Errorf("generated id = %q", cs.Changes[0].EntityID)
	}
	f.get(t, f.field, "gen-1", live)
}

func TestInsertDuplicateFailsWholeBatch(t *testing.T) {
	f := newFixture(t)
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color"})

	_, err := f.mgr.Insert(context.Background(), f.field, rows(
		map[string]any{"id": "A2", "name": "size"},
		map[string]any{"id": "A1", "name": "again"},
	), live)
	if !errors.Is(err, version.ErrDuplicateKey) {
		t.Fatalf("Insert() error = %v, want ErrDuplicateKey", err)
	}
	if _, err := f.mgr.Get(context.Background(), f.field, "A2", live); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("A2 persisted from a failed batch: %v", err)
	}
	if got := f.get(t, f.field, "A1", live); got.Fields["name"] != "color" {
		t.Errorf("A1 overwritten: %v", got.Fields)
	}
}

func TestInsertDuplicateInsideBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Insert(context.Background(), f.field, rows(
		map[string]any{"id": "A1", "name": "a"},
		map[string]any{"id": "A1", "name": "b"},
	), live)
	if !errors.Is(err, version.ErrDuplicateKey) {
		t.Fatalf("Insert() error = %v, want ErrDuplicateKey", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d rows, want 0", f.store.Len())
	}
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		run   func() error
		field string
	}{
		{
			name:  "missing required on insert",
			run:   func() error { _, err := f.mgr.Insert(context.Background(), f.field, rows(map[string]any{"label": "x"}), live); return err },
			field: "name",
		},
		{
			name:  "unknown field",
			run:   func() error { _, err := f.mgr.Upsert(context.Background(), f.field, rows(map[string]any{"name": "x", "colour": 1}), live); return err },
			field: "colour",
		},
		{
			name:  "update without id",
			run:   func() error { _, err := f.mgr.Update(context.Background(), f.field, rows(map[string]any{"name": "x"}), live); return err },
			field: "id",
		},
		{
			name:  "wrong type",
			run:   func() error { _, err := f.mgr.Insert(context.Background(), f.field, rows(map[string]any{"name": 5}), live); return err },
			field: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, version.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			fe := version.FieldErrors(err)
			if len(fe) == 0 || fe[0].Field != tt.field {
				t.Errorf("field errors = %+v, want %s", fe, tt.field)
			}
		})
	}
}

func TestUpdatePatchesAndBumpsRevision(t *testing.T) {
	f := newFixture(t)
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color", "label": "Color"})
	before := f.get(t, f.field, "A1", live)

	cs, err := f.mgr.Update(context.Background(), f.field, rows(map[string]any{"id": "A1", "label": "Colour"}), live)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if cs.Changes[0].Op != version.OpUpdated || cs.Changes[0].Payload["label"] != "Colour" {
		t.Errorf("change = %+v", cs.Changes[0])
	}

	after := f.get(t, f.field, "A1", live)
	if after.Fields["name"] != "color" || after.Fields["label"] != "Colour" {
		t.Errorf("fields = %v", after.Fields)
	}
	if after.Meta.Revision != 2 || after.Meta.Checksum == before.Meta.Checksum {
		t.Errorf("meta = %+v, before %+v", after.Meta, before.Meta)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Update(context.Background(), f.field, rows(map[string]any{"id": "nope", "label": "x"}), live)
	if !errors.Is(err, version.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
	var verr *version.Error
	if !errors.As(err, &verr) || verr.ID != "nope" || verr.Op != "update" {
		t.Errorf("error details = %+v", verr)
	}
}

// staleReadStore hides committed rows from Get, as a concurrent session's
// insert is hidden from a transaction that already read the row as absent.
type staleReadStore struct {
	version.Store
}

func (s staleReadStore) Update(ctx context.Context, fn func(context.Context, version.Tx) error) error {
	return s.Store.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		return fn(ctx, staleTx{tx})
	})
}

type staleTx struct {
	version.Tx
}

func (staleTx) Get(_ context.Context, entity, id string, v version.ID) (version.Record, error) {
	return version.Record{}, fmt.Errorf("stale %s/%s@%s: %w", entity, id, v, version.ErrNotFound)
}

func TestInsertRaceReportsDuplicateKey(t *testing.T) {
	f := newFixture(t)
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color"})

	racing, err := version.NewManager(staleReadStore{f.store}, f.reg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = racing.Insert(context.Background(), f.field, rows(map[string]any{"id": "A1", "name": "size"}), live)
	if !errors.Is(err, version.ErrDuplicateKey) || version.Kind(err) != version.ErrDuplicateKey {
		t.Fatalf("Insert() error = %v, want ErrDuplicateKey", err)
	}
	if got := f.get(t, f.field, "A1", live); got.Fields["name"] != "color" || got.Meta.Revision != 1 {
		t.Errorf("row overwritten: %+v", got)
	}
}

func TestUpsertMixesInsertAndUpdate(t *testing.T) {
	f := newFixture(t)
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color"})

	cs, err := f.mgr.Upsert(context.Background(), f.field, rows(
		map[string]any{"id": "A1", "label": "Color"},
		map[string]any{"id": "A2", "name": "size"},
	), live)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if len(cs.ByOp(version.OpUpdated)) != 1 || len(cs.ByOp(version.OpInserted)) != 1 {
		t.Errorf("changes = %+v", cs.Changes)
	}
}

func TestUpsertInsertRequiresRequiredFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Upsert(context.Background(), f.field, rows(map[string]any{"id": "A9", "label": "x"}), live)
	if !errors.Is(err, version.ErrValidation) {
		t.Fatalf("Upsert() error = %v, want ErrValidation", err)
	}
}

func TestDeleteCascadesAndSkipsMissing(t *testing.T) {
	f := newFixture(t)
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color"})
	f.mustInsert(t, f.value, live,
		map[string]any{"id": "V1", "form_field_id": "A1", "value": "red"},
		map[string]any{"id": "V2", "form_field_id": "A1", "value": "blue"},
	)

	cs, err := f.mgr.Delete(context.Background(), f.field, []string{"A1", "ghost"}, live)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(cs.ByOp(version.OpDeleted)) != 3 {
		t.Errorf("deleted = %+v", cs.Changes)
	}
	if len(cs.Skipped) != 1 || cs.Skipped[0] != "ghost" {
		t.Errorf("skipped = %v", cs.Skipped)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d rows left", f.store.Len())
	}
}

func TestDeleteOfAbsentRowIsEmpty(t *testing.T) {
	f := newFixture(t)
	cs, err := f.mgr.Delete(context.Background(), f.field, []string{"ghost"}, live)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !cs.IsEmpty() {
		t.Errorf("changes = %+v", cs.Changes)
	}
	if len(f.events.names()) != 0 {
		t.Errorf("events emitted for a no-op delete: %v", f.events.names())
	}
}

func seedTree(t *testing.T, f *fixture) {
	t.Helper()
	f.mustInsert(t, f.field, live, map[string]any{"id": "A1", "name": "color", "label": "Color"})
	f.mustInsert(t, f.value, live,
		map[string]any{"id": "V1", "form_field_id": "A1", "value": "red"},
	)
}

func TestCreateVersionCopiesTree(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)

	v, err := f.mgr.CreateVersion(context.Background(), f.field, "A1", live, "draft", "B1")
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if v != "B1" {
		t.Errorf("version = %q, want B1", v)
	}

	b1 := live.WithVersion(v)
	details, err := f.mgr.ReadDetail(context.Background(), f.field, []string{"A1"}, b1)
	if err != nil {
		t.Fatalf("ReadDetail() error = %v", err)
	}
	if len(details) != 1 || len(details[0].Children["values"]) != 1 {
		t.Fatalf("detail = %+v", details)
	}
	if details[0].Children["values"][0].VersionID != "B1" {
		t.Errorf("child version = %q", details[0].Children["values"][0].VersionID)
	}

	br, err := f.mgr.Branch(context.Background(), "B1")
	if err != nil {
		t.Fatalf("Branch() error = %v", err)
	}
	if br.Name != "draft" || br.State != version.BranchCreated || !br.HasRoot("form_field", "A1") {
		t.Errorf("branch = %+v", br)
	}
}

func TestCreateVersionGeneratesID(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	v, err := f.mgr.CreateVersion(context.Background(), f.field, "A1", live, "", "")
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if v == "" || v.IsLive() {
		t.Errorf("version = %q", v)
	}
}

func TestCreateVersionErrors(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	if _, err := f.mgr.CreateVersion(ctx, f.field, "missing", live, "", "B1"); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("missing row: error = %v, want ErrNotFound", err)
	}
	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1"); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1"); !errors.Is(err, version.ErrConflict) {
		t.Errorf("second branch of same row: error = %v, want ErrConflict", err)
	}
	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", version.Live); !errors.Is(err, version.ErrValidation) {
		t.Errorf("live target: error = %v, want ErrValidation", err)
	}
}

func TestBranchIsolationAndMerge(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	v, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "draft", "B1")
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	b1 := live.WithVersion(v)

	if _, err := f.mgr.Update(ctx, f.field, rows(map[string]any{"id": "A1", "label": "Colour"}), b1); err != nil {
		t.Fatalf("Update(B1) error = %v", err)
	}
	if _, err := f.mgr.Insert(ctx, f.value, rows(map[string]any{"id": "V2", "form_field_id": "A1", "value": "green"}), b1); err != nil {
		t.Fatalf("Insert(B1) error = %v", err)
	}

	if got := f.get(t, f.field, "A1", live); got.Fields["label"] != "Color" {
		t.Fatalf("live changed before merge: %v", got.Fields)
	}
	if _, err := f.mgr.Get(ctx, f.value, "V2", live); !errors.Is(err, version.ErrNotFound) {
		t.Fatalf("branch insert leaked into live: %v", err)
	}
	liveBefore := f.get(t, f.field, "A1", live)

	cs, err := f.mgr.Merge(ctx, v, live)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if cs.Context.Version() != version.Live {
		t.Errorf("merge context = %+v", cs.Context)
	}

	merged := f.get(t, f.field, "A1", live)
	if merged.Fields["label"] != "Colour" {
		t.Errorf("merged label = %v", merged.Fields["label"])
	}
	if merged.Meta.Revision != liveBefore.Meta.Revision+1 || !merged.Meta.CreatedAt.Equal(liveBefore.Meta.CreatedAt) {
		t.Errorf("merged meta = %+v, before %+v", merged.Meta, liveBefore.Meta)
	}
	f.get(t, f.value, "V2", live)

	_, err = f.mgr.Get(ctx, f.field, "A1", b1)
	if !errors.Is(err, version.ErrNotFound) || !errors.Is(err, version.ErrAlreadyMerged) {
		t.Errorf("read of merged branch error = %v", err)
	}
	liveRows := len(mustList(t, f, live))
	if _, err := f.mgr.Merge(ctx, v, live); !errors.Is(err, version.ErrAlreadyMerged) {
		t.Errorf("second Merge() error = %v, want ErrAlreadyMerged", err)
	}
	after := f.get(t, f.field, "A1", live)
	if after.Meta.Revision != merged.Meta.Revision || after.Meta.Checksum != merged.Meta.Checksum || after.Fields["label"] != "Colour" {
		t.Errorf("live changed by second merge: %+v, before %+v", after, merged)
	}
	if got := len(mustList(t, f, live)); got != liveRows {
		t.Errorf("live rows after second merge = %d, want %d", got, liveRows)
	}
	if _, err := f.mgr.Update(ctx, f.field, rows(map[string]any{"id": "A1", "label": "x"}), b1); !errors.Is(err, version.ErrAlreadyMerged) {
		t.Errorf("write to merged branch error = %v, want ErrAlreadyMerged", err)
	}

	for _, rec := range mustList(t, f, b1) {
		t.Errorf("row left in merged branch: %s", rec.Key())
	}

	want := []string{version.EventWritten, version.EventWritten, version.EventVersionCreated, version.EventWritten, version.EventWritten, version.EventVersionMerged}
	got := f.events.names()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func mustList(t *testing.T, f *fixture, vctx version.Context) []version.Record {
	t.Helper()
	var out []version.Record
	_ = f.store.View(context.Background(), func(ctx context.Context, r version.Reader) error {
		var err error
		out, err = r.ListVersion(ctx, vctx.Version())
		return err
	})
	return out
}

func TestCreateVersionKeepsBranchRows(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	if _, err := f.mgr.CreateVersion(ctx, f.value, "V1", live, "", "B1"); err != nil {
		t.Fatalf("CreateVersion(V1) error = %v", err)
	}
	b1 := live.WithVersion("B1")
	if _, err := f.mgr.Update(ctx, f.value, rows(map[string]any{"id": "V1", "value": "blue"}), b1); err != nil {
		t.Fatalf("Update(B1) error = %v", err)
	}

	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1"); !errors.Is(err, version.ErrConflict) {
		t.Fatalf("parent branch over edited child: error = %v, want ErrConflict", err)
	}
	if got := f.get(t, f.value, "V1", b1); got.Fields["value"] != "blue" {
		t.Errorf("branch V1 value = %v, want blue", got.Fields["value"])
	}
	if _, err := f.mgr.Get(ctx, f.field, "A1", b1); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("A1 copied by failed CreateVersion: %v", err)
	}
	br, _ := f.mgr.Branch(ctx, "B1")
	if len(br.Roots) != 1 || !br.HasRoot("form_field_value", "V1") {
		t.Errorf("roots = %v", br.Roots)
	}
}

func TestCreateVersionRejectsRowDeletedInBranch(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	if _, err := f.mgr.CreateVersion(ctx, f.value, "V1", live, "", "B1"); err != nil {
		t.Fatalf("CreateVersion(V1) error = %v", err)
	}
	b1 := live.WithVersion("B1")
	if _, err := f.mgr.Delete(ctx, f.value, []string{"V1"}, b1); err != nil {
		t.Fatalf("Delete(B1) error = %v", err)
	}

	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1"); !errors.Is(err, version.ErrConflict) {
		t.Fatalf("parent branch over deleted child: error = %v, want ErrConflict", err)
	}
	if _, err := f.mgr.Get(ctx, f.value, "V1", b1); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("deleted V1 brought back into branch: %v", err)
	}

	if _, err := f.mgr.Merge(ctx, "B1", live); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if _, err := f.mgr.Get(ctx, f.value, "V1", live); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("V1 survived merge: %v", err)
	}
	if got := f.get(t, f.field, "A1", live); got.Meta.Revision != 1 {
		t.Errorf("A1 touched by merge: %+v", got.Meta)
	}
}

func TestMergeAppliesBranchDeletes(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	v, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1")
	if err != nil {
		t.Fatal(err)
	}
	b1 := live.WithVersion(v)
	if _, err := f.mgr.Delete(ctx, f.value, []string{"V1"}, b1); err != nil {
		t.Fatalf("Delete(B1) error = %v", err)
	}
	f.get(t, f.value, "V1", live)

	if _, err := f.mgr.Merge(ctx, v, live); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if _, err := f.mgr.Get(ctx, f.value, "V1", live); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("V1 survived merge: %v", err)
	}
	f.get(t, f.field, "A1", live)
}

func TestReinsertClearsBranchDelete(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	v, _ := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1")
	b1 := live.WithVersion(v)
	if _, err := f.mgr.Delete(ctx, f.value, []string{"V1"}, b1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Insert(ctx, f.value, rows(map[string]any{"id": "V1", "form_field_id": "A1", "value": "crimson"}), b1); err != nil {
		t.Fatal(err)
	}
	br, _ := f.mgr.Branch(ctx, v)
	if len(br.Tombstones) != 0 {
		t.Errorf("tombstones = %v", br.Tombstones)
	}
	if _, err := f.mgr.Merge(ctx, v, live); err != nil {
		t.Fatal(err)
	}
	if got := f.get(t, f.value, "V1", live); got.Fields["value"] != "crimson" {
		t.Errorf("V1 value = %v", got.Fields["value"])
	}
}

func TestMergeIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	seedTree(t, f)
	ctx := context.Background()

	v, _ := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1")
	b1 := live.WithVersion(v)
	if _, err := f.mgr.Update(ctx, f.field, rows(map[string]any{"id": "A1", "label": "Colour"}), b1); err != nil {
		t.Fatal(err)
	}

	strict := definitions()
	strict[1].Fields = append(strict[1].Fields, entity.Field{Name: "locale", Type: entity.TypeString, Required: true})
	reg, err := entity.NewRegistry(strict...)
	if err != nil {
		t.Fatal(err)
	}
	strictMgr, _ := version.NewManager(f.store, reg)

	_, err = strictMgr.Merge(ctx, v, live)
	if !errors.Is(err, version.ErrValidation) {
		t.Fatalf("Merge() error = %v, want ErrValidation", err)
	}
	if got := f.get(t, f.field, "A1", live); got.Fields["label"] != "Color" {
		t.Errorf("live changed by failed merge: %v", got.Fields)
	}
	br, _ := f.mgr.Branch(ctx, v)
	if br.Merged() {
		t.Error("branch marked merged after failed merge")
	}
	if len(mustList(t, f, b1)) != 2 {
		t.Error("branch rows lost after failed merge")
	}
}

func TestMergeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.mgr.Merge(ctx, "nope", live); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("unknown branch error = %v", err)
	}
	if _, err := f.mgr.Merge(ctx, version.Live, live); !errors.Is(err, version.ErrValidation) {
		t.Errorf("merge live error = %v", err)
	}
}

func TestWriteToUnknownBranch(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Insert(context.Background(), f.field, rows(map[string]any{"id": "A1", "name": "x"}), live.WithVersion("ghost"))
	if !errors.Is(err, version.ErrNotFound) {
		t.Errorf("Insert() error = %v, want ErrNotFound", err)
	}
}

func TestBranchSupportsSeveralRoots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustInsert(t, f.field, live,
		map[string]any{"id": "A1", "name": "color"},
		map[string]any{"id": "A2", "name": "size"},
	)
	if _, err := f.mgr.CreateVersion(ctx, f.field, "A1", live, "", "B1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.CreateVersion(ctx, f.field, "A2", live, "", "B1"); err != nil {
		t.Fatalf("second root error = %v", err)
	}
	br, _ := f.mgr.Branch(ctx, "B1")
	if len(br.Roots) != 2 {
		t.Errorf("roots = %v", br.Roots)
	}
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	var reported []error
	failing := version.NotifierFunc(func(context.Context, version.Event) error { return errors.New("broker down") })
	reporter := vstore.ErrorReporterFunc(func(_ context.Context, err error, _ map[string]any) {
		reported = append(reported, err)
	})
	f := newFixture(t, version.WithNotifier(failing), version.WithErrorReporter(reporter))

	cs, err := f.mgr.Insert(context.Background(), f.field, rows(map[string]any{"id": "A1", "name": "x"}), live)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if cs.IsEmpty() {
		t.Error("empty change set")
	}
	f.get(t, f.field, "A1", live)
	if len(reported) != 1 {
		t.Errorf("reported = %v, want one notifier failure", reported)
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	defs := definitions()
	for i := 0; i < 8; i++ {
		defs[0].Fields = append(defs[0].Fields, entity.Field{Name: fmt.Sprintf("f%d", i), Type: entity.TypeInt})
	}
	reg, err := entity.NewRegistry(defs...)
	if err != nil {
		t.Fatal(err)
	}
	mgr, _ := version.NewManager(memstore.New(), reg)
	def, _ := reg.Get("form_field")
	ctx := context.Background()
	if _, err := mgr.Insert(ctx, def, rows(map[string]any{"id": "A1", "name": "x"}), live); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := mgr.Update(ctx, def, rows(map[string]any{"id": "A1", fmt.Sprintf("f%d", i): i}), live); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := mgr.Get(ctx, def, "A1", live)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if rec.Fields[fmt.Sprintf("f%d", i)] != int64(i) {
			t.Errorf("f%d = %v", i, rec.Fields[fmt.Sprintf("f%d", i)])
		}
	}
	if rec.Meta.Revision != 9 {
		t.Errorf("revision = %d, want 9", rec.Meta.Revision)
	}
}

func TestConcurrentInsertsOfSameID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Insert(ctx, f.field, rows(map[string]any{"id": "A1", "name": "x"}), live)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, version.ErrDuplicateKey):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || dup != 9 {
		t.Errorf("ok = %d, dup = %d", ok, dup)
	}
}
