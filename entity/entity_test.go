package entity

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testDefinitions() []*Definition {
	return []*Definition{
		{
			Name: "form_field",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "position", Type: TypeInt},
			},
			Children: []Child{
				{Name: "values", Entity: "form_field_value", ForeignKey: "form_field_id"},
			},
		},
		{
			Name: "form_field_value",
			Fields: []Field{
				{Name: "form_field_id", Type: TypeString, Required: true},
				{Name: "value", Type: TypeJSON},
			},
		},
	}
}

func TestNewRegistryResolvesChildren(t *testing.T) {
	reg, err := NewRegistry(testDefinitions()...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	def, ok := reg.Get("form_field")
	if !ok {
		t.Fatal("form_field not registered")
	}
	child := def.Children[0].Definition()
	if child == nil || child.Name != "form_field_value" {
		t.Fatalf("child not resolved: %+v", def.Children[0])
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "form_field" {
		t.Errorf("Names() = %v", names)
	}
}

func TestNewRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		defs []*Definition
	}{
		{
			name: "unknown child",
			defs: []*Definition{{Name: "a", Children: []Child{{Name: "b", Entity: "b", ForeignKey: "a_id"}}}},
		},
		{
			name: "missing foreign key field",
			defs: []*Definition{
				{Name: "a", Children: []Child{{Name: "b", Entity: "b", ForeignKey: "a_id"}}},
				{Name: "b"},
			},
		},
		{
			name: "cycle",
			defs: []*Definition{
				{Name: "a", Fields: []Field{{Name: "b_id", Type: TypeString}}, Children: []Child{{Name: "b", Entity: "b", ForeignKey: "a_id"}}},
				{Name: "b", Fields: []Field{{Name: "a_id", Type: TypeString}}, Children: []Child{{Name: "a", Entity: "a", ForeignKey: "b_id"}}},
			},
		},
		{
			name: "duplicate definition",
			defs: []*Definition{{Name: "a"}, {Name: "a"}},
		},
		{
			name: "unknown field type",
			defs: []*Definition{{Name: "a", Fields: []Field{{Name: "x", Type: "blob"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.defs...); err == nil {
				t.Error("NewRegistry() expected error")
			}
		})
	}
}

func TestParseDefinitions(t *testing.T) {
	data := []byte(`
entities:
  - name: form_field
    fields:
      - {name: name, type: string, required: true}
    children:
      - {name: values, entity: form_field_value, foreign_key: form_field_id}
  - name: form_field_value
    fields:
      - {name: form_field_id, type: string, required: true}
      - {name: value, type: json}
`)
	defs, err := ParseDefinitions(data)
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if _, err := NewRegistry(defs...); err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if !defs[0].Fields[0].Required {
		t.Error("required flag not decoded")
	}
}

func TestValidate(t *testing.T) {
	def := &Definition{
		Name: "sample",
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "count", Type: TypeInt},
			{Name: "ratio", Type: TypeFloat},
			{Name: "active", Type: TypeBool},
			{Name: "ref", Type: TypeUUID},
			{Name: "at", Type: TypeDateTime},
			{Name: "data", Type: TypeJSON},
		},
	}
	if err := def.check(); err != nil {
		t.Fatal(err)
	}

	got, err := def.Validate(map[string]any{
		"name":   "x",
		"count":  float64(3),
		"ratio":  2,
		"active": true,
		"ref":    "6BA7B810-9DAD-11D1-80B4-00C04FD430C8",
		"at":     time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)),
		"data":   map[string]any{"k": []any{1, 2}},
	}, ModeCreate)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got["count"] != int64(3) {
		t.Errorf("count = %#v", got["count"])
	}
	if got["ratio"] != float64(2) {
		t.Errorf("ratio = %#v", got["ratio"])
	}
	if got["ref"] != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("ref = %#v", got["ref"])
	}
	if got["at"] != "2024-01-02T02:04:05Z" {
		t.Errorf("at = %#v", got["at"])
	}
}

func TestValidateRejects(t *testing.T) {
	def := testDefinitions()[0]
	if err := def.check(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		values map[string]any
		mode   Mode
		field  string
	}{
		{name: "missing required", values: map[string]any{"position": 1}, mode: ModeCreate, field: "name"},
		{name: "unknown field", values: map[string]any{"name": "a", "color": "red"}, mode: ModePatch, field: "color"},
		{name: "wrong type", values: map[string]any{"position": "abc"}, mode: ModePatch, field: "position"},
		{name: "fractional int", values: map[string]any{"position": 1.5}, mode: ModePatch, field: "position"},
		{name: "int overflow", values: map[string]any{"position": 1e20}, mode: ModePatch, field: "position"},
		{name: "int underflow", values: map[string]any{"position": -1e19}, mode: ModePatch, field: "position"},
		{name: "infinite int", values: map[string]any{"position": math.Inf(1)}, mode: ModePatch, field: "position"},
		{name: "null required", values: map[string]any{"name": nil}, mode: ModePatch, field: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := def.Validate(tt.values, tt.mode)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Fields[0].Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Fields[0].Field, tt.field)
			}
		})
	}
}

func TestValidatePatchSkipsRequired(t *testing.T) {
	def := testDefinitions()[0]
	if _, err := def.Validate(map[string]any{"position": 2}, ModePatch); err != nil {
		t.Errorf("Validate(ModePatch) error = %v", err)
	}
	if err := def.CheckRequired(map[string]any{"position": int64(2)}); err == nil {
		t.Error("CheckRequired() expected error")
	}
}

func TestChecksumIsOrderIndependent(t *testing.T) {
	a, err := Checksum(map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Checksum(map[string]any{"b": "x", "a": 1})
	c, _ := Checksum(map[string]any{"a": 2, "b": "x"})

	if a != b {
		t.Error("equal maps produced different checksums")
	}
	if a == c {
		t.Error("different maps produced the same checksum")
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64", len(a))
	}
}
