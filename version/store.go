package version

import (
	"context"
	"fmt"
)

// Reader is the read side of a Store. Get and GetBranch return an error
// wrapping ErrNotFound for absent rows.
type Reader interface {
	Get(ctx context.Context, entity, id string, v ID) (Record, error)
	ListVersion(ctx context.Context, v ID) ([]Record, error)
	ListChildren(ctx context.Context, entity, foreignKey, parentID string, v ID) ([]Record, error)
	GetBranch(ctx context.Context, v ID) (Branch, error)
}

// Tx is a read-write view valid only inside Store.Update. Put stores rec
// whether or not the row exists. Create only inserts and returns an error
// wrapping ErrDuplicateKey when the row exists, including a row committed by
// a concurrent transaction after this one read it as absent.
type Tx interface {
	Reader
	Put(ctx context.Context, rec Record) error
	Create(ctx context.Context, rec Record) error
	Delete(ctx context.Context, entity, id string, v ID) (bool, error)
	PutBranch(ctx context.Context, b Branch) error
}

// Store runs functions against a consistent snapshot. Update commits the
// transaction when fn returns nil and discards every write otherwise.
type Store interface {
	View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// MatchesForeignKey reports whether rec references parentID through fk.
// Backends without native filtering use it for ListChildren.
func MatchesForeignKey(rec Record, fk, parentID string) bool {
	v, ok := rec.Fields[fk]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == parentID
	}
	return fmt.Sprint(v) == parentID
}
