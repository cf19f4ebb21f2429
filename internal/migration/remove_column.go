package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/schema"
)

const (
	kindRemoveColumn = "remove_column"

	compensatingPrefix = "reshape_remove_column_"
	// PostgreSQL truncates longer identifiers
	maxIdentifierLength = 63
)

func init() {
	Register(kindRemoveColumn, func() Action { return &RemoveColumn{} })
}

// RemoveColumn drops a column. While the migration is in progress the column
// stays in place and, when Down is set, a trigger fills it in for writes from
// new code that no longer supplies it.
type RemoveColumn struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
	// Down computes the column's value from the row's other columns, which
	// are in scope under their logical names
	Down *string `yaml:"down,omitempty"`
}

// Kind implements Action
func (a *RemoveColumn) Kind() string {
	return kindRemoveColumn
}

// Describe implements Action
func (a *RemoveColumn) Describe() string {
	return fmt.Sprintf("Removing column %q from %q", a.Column, a.Table)
}

// CompensatingName is the name shared by the trigger and its function. It is
// derived from the table and column only, so repeated runs and aborts address
// the same objects.
func (a *RemoveColumn) CompensatingName() string {
	sum := sha256.Sum256([]byte(a.Table + "\x00" + a.Column))
	suffix := "_" + hex.EncodeToString(sum[:4])

	base := compensatingPrefix + a.Table + "_" + a.Column
	if limit := maxIdentifierLength - len(suffix); len(base) > limit {
		base = base[:limit]
		for len(base) > 0 && !utf8.ValidString(base) {
			base = base[:len(base)-1]
		}
	}
	return base + suffix
}

// AbortsOwnObjectsOnly implements PartialAborter. Abort drops only the
// trigger and function named by CompensatingName.
func (a *RemoveColumn) AbortsOwnObjectsOnly() bool {
	return true
}

// Run installs the compensating trigger. It is safe to repeat.
func (a *RemoveColumn) Run(ctx context.Context, exec db.Executor, s *schema.Schema) error {
	table, err := s.FindTable(a.Table)
	if err != nil {
		return err
	}
	removed, err := table.FindColumn(a.Column)
	if err != nil {
		return err
	}

	if a.Down == nil {
		return nil
	}

	name := a.CompensatingName()
	return run(ctx, exec,
		a.functionStatement(table, removed.PhysicalName()),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", db.Ident(name), db.Ident(a.Table)),
		fmt.Sprintf("CREATE TRIGGER %s BEFORE UPDATE OR INSERT ON %s FOR EACH ROW EXECUTE PROCEDURE %s()",
			db.Ident(name), db.Ident(a.Table), db.Ident(name)),
	)
}

// functionStatement declares every current column as a variable so Down can
// refer to the row's values by logical name
func (a *RemoveColumn) functionStatement(table *schema.Table, column string) string {
	declarations := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		declarations[i] = fmt.Sprintf("%s %s%%TYPE := NEW.%s;",
			db.Ident(col.Name),
			db.Ident(table.Name, col.PhysicalName()),
			db.Ident(col.PhysicalName()),
		)
	}

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s()
RETURNS TRIGGER AS $reshape$
BEGIN
	IF NEW.%[2]s IS NULL THEN
		DECLARE
			%[3]s
		BEGIN
			NEW.%[2]s = %[4]s;
		END;
	END IF;
	RETURN NEW;
END
$reshape$ LANGUAGE plpgsql`,
		db.Ident(a.CompensatingName()),
		db.Ident(column),
		strings.Join(declarations, "\n\t\t\t"),
		*a.Down,
	)
}

// Complete drops the column along with the trigger and function
func (a *RemoveColumn) Complete(ctx context.Context, exec db.Executor, s *schema.Schema) error {
	column := a.Column
	if table, err := s.FindTable(a.Table); err == nil {
		if col, err := table.FindColumn(a.Column); err == nil {
			column = col.PhysicalName()
		}
	}

	name := a.CompensatingName()
	return run(ctx, exec,
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", db.Ident(a.Table), db.Ident(column)),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", db.Ident(name), db.Ident(a.Table)),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", db.Ident(name)),
	)
}

// UpdateSchema removes the column from the table
func (a *RemoveColumn) UpdateSchema(s *schema.Schema) error {
	table, err := s.FindTableMut(a.Table)
	if err != nil {
		return err
	}
	return table.RemoveColumn(a.Column)
}

// Abort drops the trigger and function. The column was never dropped, so
// there is nothing to restore.
func (a *RemoveColumn) Abort(ctx context.Context, exec db.Executor) error {
	name := a.CompensatingName()
	return runIgnoringAbsent(ctx, exec,
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", db.Ident(name), db.Ident(a.Table)),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", db.Ident(name)),
	)
}
