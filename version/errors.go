package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aquamarinepk/vstore/entity"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyMerged = errors.New("already merged")
)

// Error is returned by every Manager operation. Kind is one of the sentinel
// errors above and can be tested with errors.Is.
type Error struct {
	Op      string
	Kind    error
	Entity  string
	ID      string
	Version ID
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(":")
			b.WriteString(e.ID)
		}
	}
	if e.Version != "" {
		b.WriteString("@")
		b.WriteString(e.Version.String())
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is makes a merged branch read as absent to callers that only check for
// ErrNotFound.
func (e *Error) Is(target error) bool {
	return e.Kind == ErrAlreadyMerged && target == ErrNotFound
}

func newError(op string, kind error, key Key, err error) *Error {
	return &Error{Op: op, Kind: kind, Entity: key.Entity, ID: key.ID, Version: key.Version, Err: err}
}

// FieldErrors returns the rejected fields carried by a validation error.
func FieldErrors(err error) []entity.FieldError {
	var verr *entity.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// Kind returns the sentinel kind of err, or nil if err is not a version error.
func Kind(err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return nil
}

func wrapStore(op string, key Key, err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return newError(op, ErrNotFound, key, err)
	}
	if errors.Is(err, ErrDuplicateKey) {
		return newError(op, ErrDuplicateKey, key, err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
