package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresClient manages the connection to PostgreSQL
type PostgresClient struct {
	conn *pgx.Conn
}

// NewPostgresClient creates a new PostgreSQL client. When schemaName is set,
// the session's search_path is restricted to it, so unqualified names in
// generated statements resolve there.
func NewPostgresClient(ctx context.Context, connString, schemaName string) (*PostgresClient, error) {
	config, err := connConfig(connString, schemaName)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{conn: conn}, nil
}

func connConfig(connString, schemaName string) (*pgx.ConnConfig, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if schemaName != "" {
		config.RuntimeParams["search_path"] = pgx.Identifier{schemaName}.Sanitize()
	}
	return config, nil
}

// Close closes the database connection
func (c *PostgresClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// GetConnection returns the underlying connection
func (c *PostgresClient) GetConnection() *pgx.Conn {
	return c.conn
}

// Run implements Executor
func (c *PostgresClient) Run(ctx context.Context, statement string) error {
	_, err := c.Query(ctx, statement)
	return err
}

// Query implements Executor
func (c *PostgresClient) Query(ctx context.Context, statement string) (Result, error) {
	return exec(ctx, c.conn, statement)
}

// InTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise.
func (c *PostgresClient) InTx(ctx context.Context, fn func(Executor) error) error {
	return pgx.BeginFunc(ctx, c.conn, func(tx pgx.Tx) error {
		return fn(&txExecutor{tx: tx})
	})
}

type txExecutor struct {
	tx pgx.Tx
}

func (e *txExecutor) Run(ctx context.Context, statement string) error {
	_, err := e.Query(ctx, statement)
	return err
}

func (e *txExecutor) Query(ctx context.Context, statement string) (Result, error) {
	return exec(ctx, e.tx, statement)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// exec sends the statement without arguments, so PostgreSQL receives it over
// the simple protocol and multi-statement strings are accepted
func exec(ctx context.Context, e execer, statement string) (Result, error) {
	tag, err := e.Exec(ctx, statement)
	if err != nil {
		return Result{}, &ExecutionError{Statement: statement, Err: err}
	}
	return Result{Command: tag.String(), RowsAffected: tag.RowsAffected()}, nil
}
