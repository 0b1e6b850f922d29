// Package pgstore is a version.Store backed by PostgreSQL through sqlx and
// lib/pq. Field maps are stored as JSONB.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/version"
)

const schema = `
CREATE TABLE IF NOT EXISTS versioned_records (
	entity      TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	version_id  TEXT        NOT NULL,
	fields      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	revision    BIGINT      NOT NULL,
	checksum    TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity, id, version_id)
);
CREATE INDEX IF NOT EXISTS versioned_records_version_idx ON versioned_records (version_id, entity, id);
CREATE TABLE IF NOT EXISTS versions (
	version_id  TEXT PRIMARY KEY,
	name        TEXT        NOT NULL DEFAULT '',
	state       TEXT        NOT NULL,
	roots       JSONB       NOT NULL DEFAULT '[]'::jsonb,
	tombstones  JSONB       NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL,
	merged_at   TIMESTAMPTZ
);`

const recordColumns = `entity, id, version_id, fields, revision, checksum, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the postgres driver and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// Migrate creates the record and version tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) HealthChecks() vstore.HealthChecks {
	return vstore.HealthChecks{
		Readiness: map[string]vstore.HealthCheck{
			"postgres": s.db.PingContext,
		},
	}
}

// Stop closes the pool.
func (s *Store) Stop(context.Context) error {
	return s.db.Close()
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r version.Reader) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, t version.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx        *sqlx.Tx
	forUpdate bool
}

type recordRow struct {
	Entity    string    `db:"entity"`
	ID        string    `db:"id"`
	VersionID string    `db:"version_id"`
	Fields    []byte    `db:"fields"`
	Revision  int64     `db:"revision"`
	Checksum  string    `db:"checksum"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r recordRow) record() (version.Record, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return version.Record{}, fmt.Errorf("decode fields of %s:%s: %w", r.Entity, r.ID, err)
	}
	return version.Record{
		Entity:    r.Entity,
		ID:        r.ID,
		VersionID: version.ID(r.VersionID),
		Fields:    fields,
		Meta: version.Meta{
			Revision:  r.Revision,
			Checksum:  r.Checksum,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		},
	}, nil
}

// decodeFields keeps integral JSON numbers as int64.
func decodeFields(data []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(data) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return numbers(fields).(map[string]any), nil
}

func numbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = numbers(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = numbers(t[i])
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}

func (t *pgTx) Get(ctx context.Context, entity, id string, v version.ID) (version.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM versioned_records WHERE entity = $1 AND id = $2 AND version_id = $3`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}
	var row recordRow
	err := t.tx.GetContext(ctx, &row, query, entity, id, v.String())
	if errors.Is(err, sql.ErrNoRows) {
		return version.Record{}, fmt.Errorf("postgres get %s:%s@%s: %w", entity, id, v, version.ErrNotFound)
	}
	if err != nil {
		return version.Record{}, fmt.Errorf("postgres get record: %w", err)
	}
	return row.record()
}

func (t *pgTx) list(ctx context.Context, query string, args ...any) ([]version.Record, error) {
	var rows []recordRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres list records: %w", err)
	}
	out := make([]version.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *pgTx) ListVersion(ctx context.Context, v version.ID) ([]version.Record, error) {
	return t.list(ctx,
		`SELECT `+recordColumns+` FROM versioned_records WHERE version_id = $1 ORDER BY entity, id`,
		v.String())
}

func (t *pgTx) ListChildren(ctx context.Context, entity, foreignKey, parentID string, v version.ID) ([]version.Record, error) {
	return t.list(ctx,
		`SELECT `+recordColumns+` FROM versioned_records WHERE entity = $1 AND version_id = $2 AND fields->>$3 = $4 ORDER BY id`,
		entity, v.String(), foreignKey, parentID)
}

type branchRow struct {
	VersionID  string     `db:"version_id"`
	Name       string     `db:"name"`
	State      string     `db:"state"`
	Roots      []byte     `db:"roots"`
	Tombstones []byte     `db:"tombstones"`
	CreatedAt  time.Time  `db:"created_at"`
	MergedAt   *time.Time `db:"merged_at"`
}

func (t *pgTx) GetBranch(ctx context.Context, v version.ID) (version.Branch, error) {
	query := `SELECT version_id, name, state, roots, tombstones, created_at, merged_at FROM versions WHERE version_id = $1`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}
	var row branchRow
	err := t.tx.GetContext(ctx, &row, query, v.String())
	if errors.Is(err, sql.ErrNoRows) {
		return version.Branch{}, fmt.Errorf("postgres branch %s: %w", v, version.ErrNotFound)
	}
	if err != nil {
		return version.Branch{}, fmt.Errorf("postgres get branch: %w", err)
	}

	roots, err := version.UnmarshalKeys(row.Roots)
	if err != nil {
		return version.Branch{}, fmt.Errorf("decode branch roots: %w", err)
	}
	tombstones, err := version.UnmarshalKeys(row.Tombstones)
	if err != nil {
		return version.Branch{}, fmt.Errorf("decode branch tombstones: %w", err)
	}
	b := version.Branch{
		ID:         version.ID(row.VersionID),
		Name:       row.Name,
		State:      version.BranchState(row.State),
		Roots:      roots,
		Tombstones: tombstones,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if row.MergedAt != nil {
		at := row.MergedAt.UTC()
		b.MergedAt = &at
	}
	return b, nil
}

// uniqueViolation is the SQLSTATE raised when an INSERT hits the primary key.
const uniqueViolation pq.ErrorCode = "23505"

const insertRecord = `INSERT INTO versioned_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (t *pgTx) Put(ctx context.Context, rec version.Record) error {
	query := insertRecord + `
		ON CONFLICT (entity, id, version_id) DO UPDATE SET
			fields = EXCLUDED.fields,
			revision = EXCLUDED.revision,
			checksum = EXCLUDED.checksum,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`
	if err := t.execRecord(ctx, query, rec); err != nil {
		return fmt.Errorf("postgres put record: %w", err)
	}
	return nil
}

// Create inserts without ON CONFLICT. A row committed by another session
// after this transaction read it as absent surfaces as a unique violation.
func (t *pgTx) Create(ctx context.Context, rec version.Record) error {
	err := t.execRecord(ctx, insertRecord, rec)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("postgres create record %s: %w", rec.Key(), version.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("postgres create record: %w", err)
	}
	return nil
}

func (t *pgTx) execRecord(ctx context.Context, query string, rec version.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, query,
		rec.Entity, rec.ID, rec.VersionID.String(), fields,
		rec.Meta.Revision, rec.Meta.Checksum, rec.Meta.CreatedAt, rec.Meta.UpdatedAt,
	)
	return err
}

func (t *pgTx) Delete(ctx context.Context, entity, id string, v version.ID) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM versioned_records WHERE entity = $1 AND id = $2 AND version_id = $3`,
		entity, id, v.String())
	if err != nil {
		return false, fmt.Errorf("postgres delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres delete record: %w", err)
	}
	return n > 0, nil
}

func (t *pgTx) PutBranch(ctx context.Context, b version.Branch) error {
	roots, err := version.MarshalKeys(b.Roots)
	if err != nil {
		return fmt.Errorf("encode branch roots: %w", err)
	}
	tombstones, err := version.MarshalKeys(b.Tombstones)
	if err != nil {
		return fmt.Errorf("encode branch tombstones: %w", err)
	}
	query := `INSERT INTO versions (version_id, name, state, roots, tombstones, created_at, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (version_id) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			roots = EXCLUDED.roots,
			tombstones = EXCLUDED.tombstones,
			merged_at = EXCLUDED.merged_at`
	_, err = t.tx.ExecContext(ctx, query,
		b.ID.String(), b.Name, string(b.State), roots, tombstones, b.CreatedAt, b.MergedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres put branch: %w", err)
	}
	return nil
}
