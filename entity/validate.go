package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode selects how strictly a payload is checked.
type Mode int

const (
	// ModeCreate enforces required fields.
	ModeCreate Mode = iota
	// ModePatch only checks the fields that are present.
	ModePatch
)

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a payload.
type ValidationError struct {
	Entity string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("entity %s: invalid payload (%s)", e.Entity, strings.Join(parts, "; "))
}

// Validate checks values against the definition and returns a normalized copy.
// Unknown fields are rejected. Numbers decoded from JSON are narrowed to the
// declared type.
func (d *Definition) Validate(values map[string]any, mode Mode) (map[string]any, error) {
	out := make(map[string]any, len(values))
	var errs []FieldError

	for name, raw := range values {
		field, ok := d.Field(name)
		if !ok {
			errs = append(errs, FieldError{Field: name, Message: "unknown field"})
			continue
		}
		if raw == nil {
			if field.Required {
				errs = append(errs, FieldError{Field: name, Message: "must not be null"})
				continue
			}
			out[name] = nil
			continue
		}
		v, err := normalize(field.Type, raw)
		if err != nil {
			errs = append(errs, FieldError{Field: name, Message: err.Error()})
			continue
		}
		out[name] = v
	}

	if mode == ModeCreate {
		errs = append(errs, d.missingRequired(out)...)
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return nil, &ValidationError{Entity: d.Name, Fields: errs}
	}
	return out, nil
}

// CheckRequired reports required fields absent from values.
func (d *Definition) CheckRequired(values map[string]any) error {
	errs := d.missingRequired(values)
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Entity: d.Name, Fields: errs}
}

func (d *Definition) missingRequired(values map[string]any) []FieldError {
	var errs []FieldError
	for _, f := range d.Fields {
		if !f.Required || f.Name == IDField {
			continue
		}
		if v, ok := values[f.Name]; !ok || v == nil {
			errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
		}
	}
	return errs
}

func normalize(t FieldType, raw any) (any, error) {
	switch t {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case TypeUUID:
		switch v := raw.(type) {
		case uuid.UUID:
			return v.String(), nil
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("invalid uuid %q", v)
			}
			return id.String(), nil
		}
		return nil, fmt.Errorf("expected uuid, got %T", raw)
	case TypeInt:
		return toInt(raw)
	case TypeFloat:
		return toFloat(raw)
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	case TypeDateTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("invalid datetime %q", v)
			}
			return ts.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, fmt.Errorf("expected datetime, got %T", raw)
	case TypeJSON:
		if _, err := json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("not encodable as json: %v", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unsupported type %q", t)
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		if v < -(1<<63) || v >= 1<<63 {
			return nil, fmt.Errorf("integer %v out of range", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", raw)
}

func toFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return nil, fmt.Errorf("expected number, got %T", raw)
}
