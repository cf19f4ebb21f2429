package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/db/dbtest"
	"github.com/tordrt/reshape/internal/schema"
)

func strPtr(s string) *string {
	return &s
}

func TestCreateTableRunSingleColumn(t *testing.T) {
	ctx := context.Background()
	rec := dbtest.NewRecorder()

	action := &CreateTable{
		Name:       "users",
		Columns:    []Column{{Name: "id", DataType: "integer", Nullable: false}},
		PrimaryKey: []string{"id"},
	}

	require.NoError(t, action.Run(ctx, rec, schema.NewSchema()))

	stmts := rec.Statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, "CREATE TABLE \"users\" (\n\t\"id\" integer NOT NULL,\n\tPRIMARY KEY (\"id\")\n)", stmts[0])
	assert.NotContains(t, stmts[0], "FOREIGN KEY")

	s := schema.NewSchema()
	require.NoError(t, action.UpdateSchema(s))

	table, err := s.FindTable("users")
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{{Name: "id", DataType: "integer", Nullable: false}}, table.Columns)
	assert.Equal(t, []string{"id"}, table.PrimaryKey)
}

func TestCreateTableRunFullDefinition(t *testing.T) {
	ctx := context.Background()
	rec := dbtest.NewRecorder()

	action := &CreateTable{
		Name: "items",
		Columns: []Column{
			{Name: "order_id", DataType: "integer"},
			{Name: "position", DataType: "integer"},
			{Name: "status", DataType: "text", Default: strPtr("'new'")},
			{Name: "note", DataType: "text", Nullable: true},
		},
		PrimaryKey: []string{"order_id", "position"},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"order_id"}, ReferencedTable: "orders", ReferencedColumns: []string{"id"}},
		},
	}

	require.NoError(t, action.Run(ctx, rec, schema.NewSchema()))

	want := "CREATE TABLE \"items\" (\n" +
		"\t\"order_id\" integer NOT NULL,\n" +
		"\t\"position\" integer NOT NULL,\n" +
		"\t\"status\" text DEFAULT 'new' NOT NULL,\n" +
		"\t\"note\" text,\n" +
		"\tPRIMARY KEY (\"order_id\", \"position\"),\n" +
		"\tFOREIGN KEY (\"order_id\") REFERENCES \"orders\" (\"id\")\n" +
		")"
	assert.Equal(t, []string{want}, rec.Statements())
}

func TestCreateTableUpdateSchemaDropsDefaultsAndForeignKeys(t *testing.T) {
	s := schema.NewSchema()
	require.NoError(t, s.AddTable(&schema.Table{
		Name:       "orders",
		Columns:    []schema.Column{{Name: "id", DataType: "integer"}},
		PrimaryKey: []string{"id"},
	}))

	action := &CreateTable{
		Name: "items",
		Columns: []Column{
			{Name: "id", DataType: "integer"},
			{Name: "order_id", DataType: "integer", Default: strPtr("0")},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKey{{Columns: []string{"order_id"}, ReferencedTable: "orders", ReferencedColumns: []string{"id"}}},
	}
	require.NoError(t, action.UpdateSchema(s))

	table, err := s.FindTable("items")
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{
		{Name: "id", DataType: "integer"},
		{Name: "order_id", DataType: "integer"},
	}, table.Columns)
}

func TestCreateTableUpdateSchemaErrors(t *testing.T) {
	orders := &schema.Table{
		Name:       "orders",
		Columns:    []schema.Column{{Name: "id", DataType: "integer"}},
		PrimaryKey: []string{"id"},
	}
	id := Column{Name: "id", DataType: "integer"}

	tests := []struct {
		name    string
		action  *CreateTable
		wantErr error
	}{
		{
			name:    "table already exists",
			action:  &CreateTable{Name: "orders", Columns: []Column{id}, PrimaryKey: []string{"id"}},
			wantErr: schema.ErrConflict,
		},
		{
			name:    "empty primary key",
			action:  &CreateTable{Name: "users", Columns: []Column{id}},
			wantErr: schema.ErrInvalid,
		},
		{
			name:    "primary key column missing",
			action:  &CreateTable{Name: "users", Columns: []Column{id}, PrimaryKey: []string{"uuid"}},
			wantErr: schema.ErrNotFound,
		},
		{
			name:    "duplicate column",
			action:  &CreateTable{Name: "users", Columns: []Column{id, id}, PrimaryKey: []string{"id"}},
			wantErr: schema.ErrConflict,
		},
		{
			name: "referenced table missing",
			action: &CreateTable{
				Name: "items", Columns: []Column{id}, PrimaryKey: []string{"id"},
				ForeignKeys: []ForeignKey{{Columns: []string{"id"}, ReferencedTable: "products", ReferencedColumns: []string{"id"}}},
			},
			wantErr: schema.ErrNotFound,
		},
		{
			name: "referenced column missing",
			action: &CreateTable{
				Name: "items", Columns: []Column{id}, PrimaryKey: []string{"id"},
				ForeignKeys: []ForeignKey{{Columns: []string{"id"}, ReferencedTable: "orders", ReferencedColumns: []string{"number"}}},
			},
			wantErr: schema.ErrNotFound,
		},
		{
			name: "column lists differ in length",
			action: &CreateTable{
				Name: "items", Columns: []Column{id}, PrimaryKey: []string{"id"},
				ForeignKeys: []ForeignKey{{Columns: []string{"id"}, ReferencedTable: "orders", ReferencedColumns: []string{"id", "id"}}},
			},
			wantErr: schema.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := schema.NewSchema()
			require.NoError(t, s.AddTable(orders.Clone()))

			err := tt.action.UpdateSchema(s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Len(t, s.Tables, 1)
		})
	}
}

func TestCreateTableSelfReference(t *testing.T) {
	action := &CreateTable{
		Name: "employees",
		Columns: []Column{
			{Name: "id", DataType: "integer"},
			{Name: "manager_id", DataType: "integer", Nullable: true},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKey{{Columns: []string{"manager_id"}, ReferencedTable: "employees", ReferencedColumns: []string{"id"}}},
	}

	assert.NoError(t, action.UpdateSchema(schema.NewSchema()))
}

func TestCreateTableCompleteIsNoop(t *testing.T) {
	rec := dbtest.NewRecorder()
	action := &CreateTable{Name: "users"}

	require.NoError(t, action.Complete(context.Background(), rec, schema.NewSchema()))
	assert.Empty(t, rec.Statements())
}

func TestCreateTableAbort(t *testing.T) {
	ctx := context.Background()
	action := &CreateTable{Name: "users"}

	t.Run("drops table", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		require.NoError(t, action.Abort(ctx, rec))
		assert.Equal(t, []string{`DROP TABLE IF EXISTS "users"`}, rec.Statements())
	})

	t.Run("absent table is not an error", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		rec.FailOn("DROP TABLE", db.ErrObjectNotExist)
		assert.NoError(t, action.Abort(ctx, rec))
	})

	t.Run("execution failure surfaces", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		rec.FailOn("DROP TABLE", errors.New("connection refused"))

		err := action.Abort(ctx, rec)
		var execErr *db.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, `DROP TABLE IF EXISTS "users"`, execErr.Statement)
	})
}

func TestCreateTableRunFailure(t *testing.T) {
	rec := dbtest.NewRecorder()
	rec.FailOn("CREATE TABLE", errors.New("syntax error"))

	action := &CreateTable{Name: "users", Columns: []Column{{Name: "id", DataType: "integer"}}, PrimaryKey: []string{"id"}}
	err := action.Run(context.Background(), rec, schema.NewSchema())

	var execErr *db.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestCreateTableDescribe(t *testing.T) {
	assert.Equal(t, `Creating table "users"`, (&CreateTable{Name: "users"}).Describe())
}
