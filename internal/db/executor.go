package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrObjectNotExist lets executors other than PostgreSQL report that the
// target of a statement is already absent. See IsNotExist.
var ErrObjectNotExist = errors.New("object does not exist")

// Executor runs raw statements against the store
type Executor interface {
	// Run executes a statement whose failure is fatal to the caller
	Run(ctx context.Context, statement string) error
	// Query executes a statement and reports its outcome, for callers that
	// classify expected failures (see IsNotExist) as non-fatal
	Query(ctx context.Context, statement string) (Result, error)
}

// Transactor is implemented by executors that can run a group of statements atomically
type Transactor interface {
	InTx(ctx context.Context, fn func(Executor) error) error
}

// Result describes the outcome of a statement
type Result struct {
	Command      string
	RowsAffected int64
}

// ExecutionError is returned when the store rejects a statement
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to execute statement: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SQLSTATE codes for objects that do not exist
var notExistCodes = map[string]bool{
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"42704": true, // undefined_object
	"42883": true, // undefined_function
}

// IsNotExist reports whether err means the object a statement targeted is absent
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotExist) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return notExistCodes[pgErr.Code]
	}
	return false
}

// Ident quotes an identifier, joining qualified parts with dots
func Ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// IdentList quotes each identifier and joins them with commas
func IdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = Ident(name)
	}
	return strings.Join(quoted, ", ")
}
