package migration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/db/dbtest"
	"github.com/tordrt/reshape/internal/schema"
)

func usersSchema(t *testing.T) *schema.Schema {
	t.Helper()

	s := schema.NewSchema()
	require.NoError(t, s.AddTable(&schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", DataType: "integer"},
			{Name: "name", DataType: "text", Nullable: true},
			{Name: "email", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}))
	return s
}

func removeEmail() *RemoveColumn {
	return &RemoveColumn{Table: "users", Column: "email", Down: strPtr("'unknown'")}
}

func TestRemoveColumnRunInstallsTrigger(t *testing.T) {
	ctx := context.Background()
	rec := dbtest.NewRecorder()
	action := removeEmail()
	name := action.CompensatingName()

	require.NoError(t, action.Run(ctx, rec, usersSchema(t)))

	stmts := rec.Statements()
	require.Len(t, stmts, 3)

	fn := stmts[0]
	assert.True(t, strings.HasPrefix(fn, `CREATE OR REPLACE FUNCTION "`+name+`"()`))
	assert.Contains(t, fn, `IF NEW."email" IS NULL THEN`)
	assert.Contains(t, fn, `"id" "users"."id"%TYPE := NEW."id";`)
	assert.Contains(t, fn, `"name" "users"."name"%TYPE := NEW."name";`)
	assert.Contains(t, fn, `NEW."email" = 'unknown';`)
	assert.Contains(t, fn, "LANGUAGE plpgsql")

	assert.Equal(t, `DROP TRIGGER IF EXISTS "`+name+`" ON "users"`, stmts[1])
	assert.Equal(t, `CREATE TRIGGER "`+name+`" BEFORE UPDATE OR INSERT ON "users" FOR EACH ROW EXECUTE PROCEDURE "`+name+`"()`, stmts[2])
}

func TestRemoveColumnRunIsRepeatable(t *testing.T) {
	ctx := context.Background()
	rec := dbtest.NewRecorder()
	action := removeEmail()
	s := usersSchema(t)

	require.NoError(t, action.Run(ctx, rec, s))
	first := rec.Statements()
	rec.Reset()
	require.NoError(t, action.Run(ctx, rec, s))

	assert.Equal(t, first, rec.Statements())
	assert.True(t, strings.HasPrefix(first[0], "CREATE OR REPLACE FUNCTION"))
	assert.True(t, strings.HasPrefix(first[1], "DROP TRIGGER IF EXISTS"))
}

func TestRemoveColumnRunUsesPhysicalNames(t *testing.T) {
	s := schema.NewSchema()
	require.NoError(t, s.AddTable(&schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", DataType: "integer"},
			{Name: "email", RealName: "__reshape_email", DataType: "text"},
		},
		PrimaryKey: []string{"id"},
	}))

	rec := dbtest.NewRecorder()
	require.NoError(t, removeEmail().Run(context.Background(), rec, s))

	fn := rec.Statements()[0]
	assert.Contains(t, fn, `IF NEW."__reshape_email" IS NULL THEN`)
	assert.Contains(t, fn, `"email" "users"."__reshape_email"%TYPE := NEW."__reshape_email";`)
}

func TestRemoveColumnRunWithoutDown(t *testing.T) {
	rec := dbtest.NewRecorder()
	action := &RemoveColumn{Table: "users", Column: "email"}

	require.NoError(t, action.Run(context.Background(), rec, usersSchema(t)))
	assert.Empty(t, rec.Statements())
}

func TestRemoveColumnRunUnknownColumn(t *testing.T) {
	rec := dbtest.NewRecorder()

	err := (&RemoveColumn{Table: "users", Column: "phone", Down: strPtr("''")}).Run(context.Background(), rec, usersSchema(t))
	assert.ErrorIs(t, err, schema.ErrNotFound)

	err = (&RemoveColumn{Table: "accounts", Column: "email"}).Run(context.Background(), rec, usersSchema(t))
	assert.ErrorIs(t, err, schema.ErrNotFound)
	assert.Empty(t, rec.Statements())
}

func TestRemoveColumnComplete(t *testing.T) {
	ctx := context.Background()
	action := removeEmail()
	name := action.CompensatingName()
	want := []string{
		`ALTER TABLE "users" DROP COLUMN IF EXISTS "email"`,
		`DROP TRIGGER IF EXISTS "` + name + `" ON "users"`,
		`DROP FUNCTION IF EXISTS "` + name + `"()`,
	}

	t.Run("after run", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		s := usersSchema(t)
		require.NoError(t, action.Run(ctx, rec, s))
		require.NoError(t, action.Run(ctx, rec, s))
		rec.Reset()

		require.NoError(t, action.Complete(ctx, rec, s))
		assert.Equal(t, want, rec.Statements())
	})

	t.Run("repeated", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		s := usersSchema(t)
		require.NoError(t, action.Complete(ctx, rec, s))
		require.NoError(t, action.Complete(ctx, rec, s))
		assert.Equal(t, append(want, want...), rec.Statements())
	})
}

func TestRemoveColumnAbort(t *testing.T) {
	ctx := context.Background()
	action := removeEmail()
	name := action.CompensatingName()

	t.Run("drops trigger and function only", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		require.NoError(t, action.Abort(ctx, rec))
		assert.Equal(t, []string{
			`DROP TRIGGER IF EXISTS "` + name + `" ON "users"`,
			`DROP FUNCTION IF EXISTS "` + name + `"()`,
		}, rec.Statements())
	})

	t.Run("missing table is not an error", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		rec.FailOn("DROP TRIGGER", db.ErrObjectNotExist)
		require.NoError(t, action.Abort(ctx, rec))
		assert.Equal(t, []string{`DROP FUNCTION IF EXISTS "` + name + `"()`}, rec.Statements())
	})

	t.Run("execution failure surfaces", func(t *testing.T) {
		rec := dbtest.NewRecorder()
		rec.FailOn("DROP FUNCTION", errors.New("permission denied"))

		var execErr *db.ExecutionError
		assert.ErrorAs(t, action.Abort(ctx, rec), &execErr)
	})
}

func TestRemoveColumnUpdateSchema(t *testing.T) {
	s := usersSchema(t)
	require.NoError(t, removeEmail().UpdateSchema(s))

	table, err := s.FindTable("users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, table.ColumnNames())

	// Not idempotent: the column is gone now
	assert.ErrorIs(t, removeEmail().UpdateSchema(s), schema.ErrNotFound)
	assert.ErrorIs(t, (&RemoveColumn{Table: "accounts", Column: "email"}).UpdateSchema(s), schema.ErrNotFound)
}

func TestCompensatingName(t *testing.T) {
	a := &RemoveColumn{Table: "users", Column: "email"}
	assert.Equal(t, a.CompensatingName(), (&RemoveColumn{Table: "users", Column: "email"}).CompensatingName())
	assert.True(t, strings.HasPrefix(a.CompensatingName(), "reshape_remove_column_users_email_"))

	// Same concatenation, different table/column split
	x := &RemoveColumn{Table: "a_b", Column: "c"}
	y := &RemoveColumn{Table: "a", Column: "b_c"}
	assert.NotEqual(t, x.CompensatingName(), y.CompensatingName())

	long := &RemoveColumn{Table: strings.Repeat("t", 40), Column: strings.Repeat("c", 40)}
	other := &RemoveColumn{Table: strings.Repeat("t", 40), Column: strings.Repeat("c", 41)}
	assert.LessOrEqual(t, len(long.CompensatingName()), maxIdentifierLength)
	assert.NotEqual(t, long.CompensatingName(), other.CompensatingName())
}

func TestRemoveColumnDescribe(t *testing.T) {
	assert.Equal(t, `Removing column "email" from "users"`, removeEmail().Describe())
}
