// Package entity describes the schema of stored entities: their fields, field
// types and the child entities they own.
package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IDField is the immutable identifier every entity carries.
const IDField = "id"

// FieldType names the storage type of a field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeUUID     FieldType = "uuid"
	TypeJSON     FieldType = "json"
	TypeDateTime FieldType = "datetime"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeUUID, TypeJSON, TypeDateTime:
		return true
	}
	return false
}

// Field describes a single field of an entity.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
}

// Child declares an owned association. Owned children are copied together with
// their parent when a version is created and removed with it on delete.
type Child struct {
	Name       string `yaml:"name"`
	Entity     string `yaml:"entity"`
	ForeignKey string `yaml:"foreign_key"`

	def *Definition
}

// Definition returns the resolved child definition. It is nil until the
// owning definition has been added to a Registry.
func (c Child) Definition() *Definition {
	return c.def
}

// Definition is the static schema of one entity type.
type Definition struct {
	Name     string  `yaml:"name"`
	Fields   []Field `yaml:"fields"`
	Children []Child `yaml:"children"`

	index map[string]Field
}

// Field looks up a field by name. The id field is always present.
func (d *Definition) Field(name string) (Field, bool) {
	if d.index == nil {
		d.buildIndex()
	}
	f, ok := d.index[name]
	return f, ok
}

// FieldNames returns the declared field names in sorted order.
func (d *Definition) FieldNames() []string {
	if d.index == nil {
		d.buildIndex()
	}
	names := make([]string, 0, len(d.index))
	for name := range d.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Definition) buildIndex() {
	d.index = make(map[string]Field, len(d.Fields)+1)
	d.index[IDField] = Field{Name: IDField, Type: TypeString}
	for _, f := range d.Fields {
		d.index[f.Name] = f
	}
}

func (d *Definition) check() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("entity: definition name is required")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for i, f := range d.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("entity %s: field at index %d has no name", d.Name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("entity %s: duplicate field %q", d.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.valid() {
			return fmt.Errorf("entity %s: field %q has unknown type %q", d.Name, f.Name, f.Type)
		}
		if f.Name == IDField && f.Type != TypeString && f.Type != TypeUUID {
			return fmt.Errorf("entity %s: id field must be string or uuid", d.Name)
		}
	}
	for _, c := range d.Children {
		if c.Name == "" || c.Entity == "" || c.ForeignKey == "" {
			return fmt.Errorf("entity %s: child requires name, entity and foreign_key", d.Name)
		}
	}
	d.buildIndex()
	return nil
}
