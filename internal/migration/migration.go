package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Migration is a named, ordered list of actions applied as one unit
type Migration struct {
	Name        string
	Description string
	Actions     []Action
}

type migrationFile struct {
	Name        string      `yaml:"name,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Actions     []yaml.Node `yaml:"actions"`
}

type actionHeader struct {
	Type string `yaml:"type"`
}

// LoadFile reads a migration from a YAML or JSON file. Unless the file sets a
// name, the migration is named after the file without its extension.
func LoadFile(path string) (*Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration: %w", err)
	}

	base := filepath.Base(path)
	m, err := DecodeMigration(strings.TrimSuffix(base, filepath.Ext(base)), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// DecodeMigration parses a migration document. JSON documents are accepted
// since the YAML decoder reads them too. name is used when the document has none.
func DecodeMigration(name string, data []byte) (*Migration, error) {
	var file migrationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse migration: %w", err)
	}

	m := &Migration{Name: file.Name, Description: file.Description}
	if m.Name == "" {
		m.Name = name
	}
	if m.Name == "" {
		return nil, errors.New("migration has no name")
	}

	for i := range file.Actions {
		action, err := DecodeAction(&file.Actions[i])
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		m.Actions = append(m.Actions, action)
	}

	return m, nil
}

// DecodeAction builds an action from a record of the form {type: <kind>, ...}
func DecodeAction(node *yaml.Node) (Action, error) {
	var header actionHeader
	if err := node.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to parse action: %w", err)
	}
	if header.Type == "" {
		return nil, errors.New("action has no type")
	}

	action, err := New(header.Type)
	if err != nil {
		return nil, err
	}
	if err := checkKnownFields(node, reflect.TypeOf(action), "type"); err != nil {
		return nil, fmt.Errorf("%s action: %w", header.Type, err)
	}
	if err := node.Decode(action); err != nil {
		return nil, fmt.Errorf("failed to parse %s action: %w", header.Type, err)
	}
	return action, nil
}

// checkKnownFields rejects mapping keys that no field of t accepts, so that a
// misspelled option fails instead of being dropped. Nested structs and slices
// of structs are checked too.
func checkKnownFields(node *yaml.Node, t reflect.Type, skip ...string) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch {
	case node.Kind == yaml.MappingNode && t.Kind() == reflect.Struct:
		fields := yamlFields(t)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if slices.Contains(skip, key.Value) {
				continue
			}
			ft, ok := fields[key.Value]
			if !ok {
				return fmt.Errorf("line %d: unknown field %q", key.Line, key.Value)
			}
			if err := checkKnownFields(node.Content[i+1], ft); err != nil {
				return fmt.Errorf("%s: %w", key.Value, err)
			}
		}
	case node.Kind == yaml.SequenceNode && t.Kind() == reflect.Slice:
		for i, item := range node.Content {
			if err := checkKnownFields(item, t.Elem()); err != nil {
				return fmt.Errorf("%d: %w", i, err)
			}
		}
	}
	return nil
}

// yamlFields maps the keys yaml.v3 decodes into t to their field types
func yamlFields(t reflect.Type) map[string]reflect.Type {
	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = f.Type
	}
	return fields
}

// EncodeAction renders an action as a record with its kind in the type field
func EncodeAction(action Action) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(action); err != nil {
		return nil, err
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("action %s does not encode to a mapping", action.Kind())
	}

	header := []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: action.Kind()},
	}
	node.Content = append(header, node.Content...)
	return &node, nil
}

// MarshalYAML implements yaml.Marshaler
func (m Migration) MarshalYAML() (interface{}, error) {
	file := migrationFile{Name: m.Name, Description: m.Description}
	for _, action := range m.Actions {
		node, err := EncodeAction(action)
		if err != nil {
			return nil, err
		}
		file.Actions = append(file.Actions, *node)
	}
	return file, nil
}
