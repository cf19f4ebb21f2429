package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/reshape/internal/schema"
)

// TextFormatter formats a logical schema as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the schema in compact text format
func (f *TextFormatter) Format(s *schema.Schema) error {
	for i, table := range s.Tables {
		if i > 0 {
			if _, err := fmt.Fprintln(f.writer); err != nil { // Blank line between tables
				return err
			}
		}

		if err := f.formatTable(table); err != nil {
			return err
		}
	}
	return nil
}

func (f *TextFormatter) formatTable(table *schema.Table) error {
	// Table header with primary key
	pkStr := ""
	if len(table.PrimaryKey) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(table.PrimaryKey, ", "))
	}
	if _, err := fmt.Fprintf(f.writer, "TABLE %s%s\n", table.Name, pkStr); err != nil {
		return err
	}

	for _, col := range table.Columns {
		if _, err := fmt.Fprintf(f.writer, "  %s\n", f.formatColumn(col)); err != nil {
			return err
		}
	}

	return nil
}

func (f *TextFormatter) formatColumn(col schema.Column) string {
	parts := []string{col.Name + ":", col.DataType}

	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}

	if col.RealName != "" && col.RealName != col.Name {
		parts = append(parts, fmt.Sprintf("(physical: %s)", col.RealName))
	}

	return strings.Join(parts, " ")
}
