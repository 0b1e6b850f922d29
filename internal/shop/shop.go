// Package shop holds the template configuration entities of a storefront:
// form fields declared by a theme and the per shop values entered for them.
package shop

import (
	"fmt"
	"time"

	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/repository"
	"github.com/aquamarinepk/vstore/version"
)

const (
	FormFieldEntity      = "template_config_form_field"
	FormFieldValueEntity = "template_config_form_field_value"

	// ValuesChild is the name under which a form field owns its values.
	ValuesChild = "values"
)

// TemplateConfigFormField is one input of a theme configuration form.
type TemplateConfigFormField struct {
	ID           string     `json:"id,omitempty"`
	TemplateID   string     `json:"template_id,omitempty"`
	Name         string     `json:"name,omitempty"`
	Type         string     `json:"type,omitempty"`
	Position     int        `json:"position,omitempty"`
	Label        string     `json:"label,omitempty"`
	HelpText     string     `json:"help_text,omitempty"`
	DefaultValue any        `json:"default_value,omitempty"`
	Selection    any        `json:"selection,omitempty"`
	AllowBlank   bool       `json:"allow_blank,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// TemplateConfigFormFieldValue is the value a shop stores for a form field.
type TemplateConfigFormFieldValue struct {
	ID          string `json:"id,omitempty"`
	FormFieldID string `json:"form_field_id,omitempty"`
	ShopID      string `json:"shop_id,omitempty"`
	Value       any    `json:"value,omitempty"`
}

// Definitions returns the schemas of both entities. The form field owns its
// values, so branching a field stages its values too.
func Definitions() []*entity.Definition {
	return []*entity.Definition{
		{
			Name: FormFieldEntity,
			Fields: []entity.Field{
				{Name: "template_id", Type: entity.TypeString, Required: true},
				{Name: "name", Type: entity.TypeString, Required: true},
				{Name: "type", Type: entity.TypeString, Required: true},
				{Name: "position", Type: entity.TypeInt},
				{Name: "label", Type: entity.TypeString},
				{Name: "help_text", Type: entity.TypeString},
				{Name: "default_value", Type: entity.TypeJSON},
				{Name: "selection", Type: entity.TypeJSON},
				{Name: "allow_blank", Type: entity.TypeBool},
				{Name: "updated_at", Type: entity.TypeDateTime},
			},
			Children: []entity.Child{
				{Name: ValuesChild, Entity: FormFieldValueEntity, ForeignKey: "form_field_id"},
			},
		},
		{
			Name: FormFieldValueEntity,
			Fields: []entity.Field{
				{Name: "form_field_id", Type: entity.TypeString, Required: true},
				{Name: "shop_id", Type: entity.TypeString, Required: true},
				{Name: "value", Type: entity.TypeJSON},
			},
		},
	}
}

// NewRegistry builds a registry holding only the shop entities.
func NewRegistry() (*entity.Registry, error) {
	return entity.NewRegistry(Definitions()...)
}

// Repositories gives typed access to both entities through one manager.
type Repositories struct {
	FormFields      *repository.Repository[TemplateConfigFormField]
	FormFieldValues *repository.Repository[TemplateConfigFormFieldValue]
}

// NewRepositories requires both entities to be registered in the manager.
func NewRepositories(m *version.Manager) (*Repositories, error) {
	fields, err := repository.New[TemplateConfigFormField](m, FormFieldEntity)
	if err != nil {
		return nil, fmt.Errorf("shop repositories: %w", err)
	}
	values, err := repository.New[TemplateConfigFormFieldValue](m, FormFieldValueEntity)
	if err != nil {
		return nil, fmt.Errorf("shop repositories: %w", err)
	}
	return &Repositories{FormFields: fields, FormFieldValues: values}, nil
}

// Values decodes the values owned by a form field detail.
func Values(detail repository.Detail[TemplateConfigFormField]) ([]TemplateConfigFormFieldValue, error) {
	children := detail.Children[ValuesChild]
	out := make([]TemplateConfigFormFieldValue, 0, len(children))
	for _, c := range children {
		var v TemplateConfigFormFieldValue
		if err := repository.Decode(c.Record.Fields, &v); err != nil {
			return nil, fmt.Errorf("decode %s:%s: %w", c.Record.Entity, c.Record.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
