package entity

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds every known definition and resolves child references.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry validates the definitions, resolves their children and rejects
// ownership cycles.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("entity: nil definition")
		}
		if err := def.check(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("entity: duplicate definition %q", def.Name)
		}
		r.defs[def.Name] = def
	}
	for _, def := range r.defs {
		for i := range def.Children {
			child, ok := r.defs[def.Children[i].Entity]
			if !ok {
				return nil, fmt.Errorf("entity %s: child %q references unknown entity %q",
					def.Name, def.Children[i].Name, def.Children[i].Entity)
			}
			if _, ok := child.Field(def.Children[i].ForeignKey); !ok {
				return nil, fmt.Errorf("entity %s: foreign key %q is not a field of %s",
					def.Name, def.Children[i].ForeignKey, child.Name)
			}
			def.Children[i].def = child
		}
	}
	for _, def := range r.defs {
		if err := checkCycle(def, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func checkCycle(def *Definition, path map[string]bool) error {
	if path[def.Name] {
		return fmt.Errorf("entity: ownership cycle through %q", def.Name)
	}
	path[def.Name] = true
	defer delete(path, def.Name)
	for _, c := range def.Children {
		if err := checkCycle(c.def, path); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names lists registered definitions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type definitionsFile struct {
	Entities []*Definition `yaml:"entities"`
}

// ParseDefinitions decodes a YAML document with a top level "entities" list.
func ParseDefinitions(data []byte) ([]*Definition, error) {
	var doc definitionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("entity: parse definitions: %w", err)
	}
	return doc.Entities, nil
}

// LoadDefinitions reads a definitions file and builds a registry from it.
func LoadDefinitions(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("entity: read definitions: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs...)
}
