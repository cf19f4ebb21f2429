package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Diff reports differences between an expected and an observed schema.
// Tables are matched by name, columns by physical name. The result is empty
// when both schemas describe the same tables, columns, types, nullability and
// primary keys.
func Diff(want, got *Schema) []string {
	var diffs []string

	for _, wt := range want.Tables {
		gt, err := got.FindTable(wt.Name)
		if err != nil {
			diffs = append(diffs, fmt.Sprintf("table %s: missing", wt.Name))
			continue
		}
		diffs = append(diffs, diffTable(wt, gt)...)
	}

	for _, gt := range got.Tables {
		if _, err := want.FindTable(gt.Name); err != nil {
			diffs = append(diffs, fmt.Sprintf("table %s: unexpected", gt.Name))
		}
	}

	return diffs
}

func diffTable(want, got *Table) []string {
	var diffs []string

	gotCols := make(map[string]Column, len(got.Columns))
	for _, col := range got.Columns {
		gotCols[col.PhysicalName()] = col
	}

	for _, wc := range want.Columns {
		name := wc.PhysicalName()
		gc, ok := gotCols[name]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("column %s.%s: missing", want.Name, name))
			continue
		}
		delete(gotCols, name)

		if normalizeType(wc.DataType) != normalizeType(gc.DataType) {
			diffs = append(diffs, fmt.Sprintf("column %s.%s: type %s, found %s", want.Name, name, wc.DataType, gc.DataType))
		}
		if wc.Nullable != gc.Nullable {
			diffs = append(diffs, fmt.Sprintf("column %s.%s: nullable %t, found %t", want.Name, name, wc.Nullable, gc.Nullable))
		}
	}

	// Report leftovers in the observed table's column order
	for _, gc := range got.Columns {
		if _, ok := gotCols[gc.PhysicalName()]; ok {
			diffs = append(diffs, fmt.Sprintf("column %s.%s: unexpected", want.Name, gc.PhysicalName()))
		}
	}

	if !slices.Equal(want.PrimaryKey, got.PrimaryKey) {
		diffs = append(diffs, fmt.Sprintf("table %s: primary key (%s), found (%s)",
			want.Name, strings.Join(want.PrimaryKey, ", "), strings.Join(got.PrimaryKey, ", ")))
	}

	return diffs
}

// typeAliases maps PostgreSQL shorthand type names to the names the catalog reports
var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"serial":      "integer",
	"int2":        "smallint",
	"smallserial": "smallint",
	"int8":        "bigint",
	"bigserial":   "bigint",
	"bool":        "boolean",
	"float4":      "real",
	"float8":      "double precision",
	"varchar":     "character varying",
	"char":        "character",
	"timestamptz": "timestamp with time zone",
	"timestamp":   "timestamp without time zone",
	"timetz":      "time with time zone",
	"time":        "time without time zone",
	"decimal":     "numeric",
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	base, rest := t, ""
	if i := strings.IndexByte(t, '('); i >= 0 {
		base, rest = strings.TrimSpace(t[:i]), t[i:]
	}
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	return base + rest
}
