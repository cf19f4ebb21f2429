package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for logical schema operations
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrPrimaryKey = errors.New("column is part of the primary key")
	ErrInvalid    = errors.New("invalid definition")
)

// Schema represents the logical model of a database, rebuilt by replaying migrations.
// Tables are kept in insertion order so output is deterministic.
type Schema struct {
	Tables []*Table
}

// Table represents a table in the logical model
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Column represents a table column
type Column struct {
	Name string
	// RealName is the physical column name when it differs from Name,
	// for example while a rename is in progress. Empty means Name.
	RealName string
	DataType string
	Nullable bool
}

// NewSchema creates an empty schema
func NewSchema() *Schema {
	return &Schema{}
}

// NewTable creates an empty table
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// PhysicalName returns the name the column has in the store
func (c Column) PhysicalName() string {
	if c.RealName != "" {
		return c.RealName
	}
	return c.Name
}

// FindTable returns the table with the given name
func (s *Schema) FindTable(name string) (*Table, error) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
}

// FindTableMut returns the table with the given name for modification.
// The returned pointer is owned by the schema and must not be retained.
func (s *Schema) FindTableMut(name string) (*Table, error) {
	return s.FindTable(name)
}

// AddTable inserts a table, failing if one with the same name exists
func (s *Schema) AddTable(t *Table) error {
	if _, err := s.FindTable(t.Name); err == nil {
		return fmt.Errorf("table %q: %w", t.Name, ErrConflict)
	}
	s.Tables = append(s.Tables, t)
	return nil
}

// Clone returns a deep copy of the schema
func (s *Schema) Clone() *Schema {
	c := &Schema{Tables: make([]*Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		c.Tables = append(c.Tables, t.Clone())
	}
	return c
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	return &Table{
		Name:       t.Name,
		Columns:    append([]Column(nil), t.Columns...),
		PrimaryKey: append([]string(nil), t.PrimaryKey...),
	}
}

// FindColumn returns the column with the given logical name
func (t *Table) FindColumn(name string) (*Column, error) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], nil
		}
	}
	return nil, fmt.Errorf("column %q in table %q: %w", name, t.Name, ErrNotFound)
}

// AddColumn appends a column. Logical names must be unique, and so must physical names.
func (t *Table) AddColumn(col Column) error {
	for _, existing := range t.Columns {
		if existing.Name == col.Name {
			return fmt.Errorf("column %q in table %q: %w", col.Name, t.Name, ErrConflict)
		}
		if existing.PhysicalName() == col.PhysicalName() {
			return fmt.Errorf("physical column %q in table %q: %w", col.PhysicalName(), t.Name, ErrConflict)
		}
	}
	t.Columns = append(t.Columns, col)
	return nil
}

// RemoveColumn deletes the column with the given logical name.
// Primary key columns cannot be removed.
func (t *Table) RemoveColumn(name string) error {
	for i, col := range t.Columns {
		if col.Name != name {
			continue
		}
		for _, pk := range t.PrimaryKey {
			if pk == name {
				return fmt.Errorf("column %q in table %q: %w", name, t.Name, ErrPrimaryKey)
			}
		}
		t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
		return nil
	}
	return fmt.Errorf("column %q in table %q: %w", name, t.Name, ErrNotFound)
}

// ColumnNames returns the logical column names in declared order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}
