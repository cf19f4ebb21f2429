package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/schema"
	"gopkg.in/yaml.v3"
)

const kindCreateTable = "create_table"

func init() {
	Register(kindCreateTable, func() Action { return &CreateTable{} })
}

// CreateTable adds a new table. A new table cannot conflict with code that
// does not know about it, so the whole change happens in Run.
type CreateTable struct {
	Name        string       `yaml:"name"`
	Columns     []Column     `yaml:"columns"`
	PrimaryKey  []string     `yaml:"primary_key"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty"`
}

// Column describes a column of a table being created
type Column struct {
	Name     string `yaml:"name"`
	DataType string `yaml:"data_type"`
	Nullable bool   `yaml:"nullable"`
	// Default is an expression in the store's expression language
	Default *string `yaml:"default,omitempty"`
}

// UnmarshalYAML defaults Nullable to true when the record omits it
func (c *Column) UnmarshalYAML(value *yaml.Node) error {
	type plain Column
	decoded := plain{Nullable: true}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*c = Column(decoded)
	return nil
}

// ForeignKey is used to generate DDL only. It is not kept in the logical schema.
type ForeignKey struct {
	Columns           []string `yaml:"columns"`
	ReferencedTable   string   `yaml:"referenced_table"`
	ReferencedColumns []string `yaml:"referenced_columns"`
}

// Kind implements Action
func (a *CreateTable) Kind() string {
	return kindCreateTable
}

// Describe implements Action
func (a *CreateTable) Describe() string {
	return fmt.Sprintf("Creating table %q", a.Name)
}

// Run creates the table
func (a *CreateTable) Run(ctx context.Context, exec db.Executor, _ *schema.Schema) error {
	return run(ctx, exec, a.createStatement())
}

// Complete does nothing, the table is final after Run
func (a *CreateTable) Complete(context.Context, db.Executor, *schema.Schema) error {
	return nil
}

// UpdateSchema adds the table to the schema. Defaults and foreign keys are not
// part of the logical model.
func (a *CreateTable) UpdateSchema(s *schema.Schema) error {
	if err := a.validate(s); err != nil {
		return err
	}

	table := schema.NewTable(a.Name)
	table.PrimaryKey = append([]string(nil), a.PrimaryKey...)
	for _, col := range a.Columns {
		if err := table.AddColumn(schema.Column{
			Name:     col.Name,
			DataType: col.DataType,
			Nullable: col.Nullable,
		}); err != nil {
			return err
		}
	}

	return s.AddTable(table)
}

// Abort drops the table
func (a *CreateTable) Abort(ctx context.Context, exec db.Executor) error {
	return runIgnoringAbsent(ctx, exec, fmt.Sprintf("DROP TABLE IF EXISTS %s", db.Ident(a.Name)))
}

func (a *CreateTable) createStatement() string {
	definitions := make([]string, 0, len(a.Columns)+1+len(a.ForeignKeys))

	for _, col := range a.Columns {
		parts := []string{db.Ident(col.Name), col.DataType}
		if col.Default != nil {
			parts = append(parts, "DEFAULT", *col.Default)
		}
		if !col.Nullable {
			parts = append(parts, "NOT NULL")
		}
		definitions = append(definitions, strings.Join(parts, " "))
	}

	definitions = append(definitions, fmt.Sprintf("PRIMARY KEY (%s)", db.IdentList(a.PrimaryKey)))

	for _, fk := range a.ForeignKeys {
		definitions = append(definitions, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			db.IdentList(fk.Columns),
			db.Ident(fk.ReferencedTable),
			db.IdentList(fk.ReferencedColumns),
		))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", db.Ident(a.Name), strings.Join(definitions, ",\n\t"))
}

// validate checks the definition against itself and against the tables
// created by earlier actions
func (a *CreateTable) validate(s *schema.Schema) error {
	if a.Name == "" {
		return fmt.Errorf("create table: missing name: %w", schema.ErrInvalid)
	}
	if len(a.Columns) == 0 {
		return fmt.Errorf("create table %q: no columns: %w", a.Name, schema.ErrInvalid)
	}
	if len(a.PrimaryKey) == 0 {
		return fmt.Errorf("create table %q: empty primary key: %w", a.Name, schema.ErrInvalid)
	}

	own := make(map[string]bool, len(a.Columns))
	for _, col := range a.Columns {
		if col.Name == "" || col.DataType == "" {
			return fmt.Errorf("create table %q: column needs a name and a data type: %w", a.Name, schema.ErrInvalid)
		}
		own[col.Name] = true
	}

	for _, pk := range a.PrimaryKey {
		if !own[pk] {
			return fmt.Errorf("create table %q: primary key column %q: %w", a.Name, pk, schema.ErrNotFound)
		}
	}

	for _, fk := range a.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.ReferencedColumns) {
			return fmt.Errorf("create table %q: foreign key to %q needs matching column lists: %w",
				a.Name, fk.ReferencedTable, schema.ErrInvalid)
		}
		for _, col := range fk.Columns {
			if !own[col] {
				return fmt.Errorf("create table %q: foreign key column %q: %w", a.Name, col, schema.ErrNotFound)
			}
		}

		// Self references resolve against the table being created
		if fk.ReferencedTable == a.Name {
			for _, col := range fk.ReferencedColumns {
				if !own[col] {
					return fmt.Errorf("create table %q: referenced column %q: %w", a.Name, col, schema.ErrNotFound)
				}
			}
			continue
		}

		referenced, err := s.FindTable(fk.ReferencedTable)
		if err != nil {
			return fmt.Errorf("create table %q: foreign key: %w", a.Name, err)
		}
		for _, col := range fk.ReferencedColumns {
			if _, err := referenced.FindColumn(col); err != nil {
				return fmt.Errorf("create table %q: foreign key: %w", a.Name, err)
			}
		}
	}

	return nil
}
