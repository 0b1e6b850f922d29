package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aquamarinepk/vstore/version"
)

func record(entity, id string, v version.ID, fields map[string]any) version.Record {
	return version.Record{Entity: entity, ID: id, VersionID: v, Fields: fields}
}

func TestUpdateCommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		if err := tx.Put(ctx, record("item", "1", version.Live, map[string]any{"id": "1", "name": "a"})); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "item", "1", version.Live)
		if err != nil {
			return err
		}
		if got.Fields["name"] != "a" {
			t.Errorf("staged read = %v", got.Fields)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		_ = tx.Put(ctx, record("item", "1", version.Live, map[string]any{"id": "1"}))
		_ = tx.PutBranch(ctx, version.Branch{ID: "b1", State: version.BranchCreated})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	err = s.View(ctx, func(ctx context.Context, r version.Reader) error {
		_, err := r.GetBranch(ctx, "b1")
		return err
	})
	if !errors.Is(err, version.ErrNotFound) {
		t.Errorf("GetBranch() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsStagedUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		return tx.Put(ctx, record("item", "1", version.Live, map[string]any{"id": "1"}))
	})

	err := s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		ok, err := tx.Delete(ctx, "item", "1", version.Live)
		if err != nil || !ok {
			t.Fatalf("Delete() = %v, %v", ok, err)
		}
		if _, err := tx.Get(ctx, "item", "1", version.Live); !errors.Is(err, version.ErrNotFound) {
			t.Errorf("Get() after delete error = %v", err)
		}
		ok, _ = tx.Delete(ctx, "item", "1", version.Live)
		if ok {
			t.Error("second Delete() reported a row")
		}
		return errors.New("rollback")
	})
	if err == nil {
		t.Fatal("expected rollback error")
	}
	if s.Len() != 1 {
		t.Errorf("row deleted despite rollback")
	}
}

func TestListChildrenFiltersByVersionAndForeignKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		_ = tx.Put(ctx, record("value", "v2", version.Live, map[string]any{"field_id": "f1"}))
		_ = tx.Put(ctx, record("value", "v1", version.Live, map[string]any{"field_id": "f1"}))
		_ = tx.Put(ctx, record("value", "v3", version.Live, map[string]any{"field_id": "f2"}))
		return tx.Put(ctx, record("value", "v1", "b1", map[string]any{"field_id": "f1"}))
	})

	_ = s.View(ctx, func(ctx context.Context, r version.Reader) error {
		rows, err := r.ListChildren(ctx, "value", "field_id", "f1", version.Live)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 || rows[0].ID != "v1" || rows[1].ID != "v2" {
			t.Errorf("ListChildren() = %+v", rows)
		}
		branch, _ := r.ListVersion(ctx, "b1")
		if len(branch) != 1 {
			t.Errorf("ListVersion(b1) = %d rows, want 1", len(branch))
		}
		return nil
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		return tx.Put(ctx, record("item", "1", version.Live, map[string]any{"tags": []any{"a"}}))
	})

	_ = s.View(ctx, func(ctx context.Context, r version.Reader) error {
		rec, _ := r.Get(ctx, "item", "1", version.Live)
		rec.Fields["tags"].([]any)[0] = "mutated"
		again, _ := r.Get(ctx, "item", "1", version.Live)
		if again.Fields["tags"].([]any)[0] != "a" {
			t.Error("stored record was mutated through a returned copy")
		}
		return nil
	})
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, func(context.Context, version.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Update() error = %v, want context.Canceled", err)
	}
}

func TestCreateRejectsExistingRow(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		return tx.Create(ctx, record("item", "1", version.Live, map[string]any{"id": "1", "name": "a"}))
	})

	err := s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		return tx.Create(ctx, record("item", "1", "", map[string]any{"id": "1", "name": "b"}))
	})
	if !errors.Is(err, version.ErrDuplicateKey) {
		t.Fatalf("Create() over committed row error = %v, want ErrDuplicateKey", err)
	}

	err = s.Update(ctx, func(ctx context.Context, tx version.Tx) error {
		if _, err := tx.Delete(ctx, "item", "1", version.Live); err != nil {
			return err
		}
		if err := tx.Create(ctx, record("item", "1", version.Live, map[string]any{"id": "1", "name": "c"})); err != nil {
			return err
		}
		return tx.Create(ctx, record("item", "1", version.Live, map[string]any{"id": "1", "name": "d"}))
	})
	if !errors.Is(err, version.ErrDuplicateKey) {
		t.Fatalf("Create() over staged row error = %v, want ErrDuplicateKey", err)
	}

	_ = s.View(ctx, func(ctx context.Context, r version.Reader) error {
		got, err := r.Get(ctx, "item", "1", version.Live)
		if err != nil || got.Fields["name"] != "a" {
			t.Errorf("row = %v, %v", got.Fields, err)
		}
		return nil
	})
}
