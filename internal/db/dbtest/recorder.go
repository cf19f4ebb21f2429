// Package dbtest provides an in-memory db.Executor for tests.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tordrt/reshape/internal/db"
)

// Recorder is a db.Executor that records every statement it receives.
// Statements containing a substring registered with FailOn fail with the
// associated error instead of being recorded as successful.
type Recorder struct {
	mu         sync.Mutex
	statements []string
	failures   []failure
	txCount    int
}

type failure struct {
	match string
	err   error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailOn makes statements containing match fail with err
func (r *Recorder) FailOn(match string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{match: match, err: err})
}

// Run implements db.Executor
func (r *Recorder) Run(ctx context.Context, statement string) error {
	_, err := r.Query(ctx, statement)
	return err
}

// Query implements db.Executor
func (r *Recorder) Query(_ context.Context, statement string) (db.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.failures {
		if strings.Contains(statement, f.match) {
			return db.Result{}, &db.ExecutionError{Statement: statement, Err: f.err}
		}
	}
	r.statements = append(r.statements, statement)
	return db.Result{}, nil
}

// Statements returns the successfully executed statements in order
func (r *Recorder) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

// Reset forgets recorded statements but keeps failures
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}

// TxRecorder is a Recorder that also implements db.Transactor. Statements
// run inside a failed transaction are discarded.
type TxRecorder struct {
	*Recorder
}

// NewTxRecorder creates an empty transactional recorder
func NewTxRecorder() *TxRecorder {
	return &TxRecorder{Recorder: NewRecorder()}
}

// InTx implements db.Transactor
func (r *TxRecorder) InTx(_ context.Context, fn func(db.Executor) error) error {
	r.mu.Lock()
	r.txCount++
	before := len(r.statements)
	r.mu.Unlock()

	if err := fn(r.Recorder); err != nil {
		r.mu.Lock()
		r.statements = r.statements[:before]
		r.mu.Unlock()
		return err
	}
	return nil
}

// Transactions returns how many transactions were started
func (r *TxRecorder) Transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txCount
}
