// Package migration defines the actions a migration is made of.
//
// An Action is a self-describing schema change applied in three phases.
// Run expands the database so that code written against the old and the new
// shape can both operate. Complete finalises the change once old code is gone.
// Abort reverts Run if the migration is abandoned before completion.
// UpdateSchema keeps the logical schema model in step with the physical one, so
// later actions can reason about earlier ones without querying the database.
//
// Each action is run exactly once, followed by exactly one of Complete or Abort.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/schema"
)

// ErrUnknownKind is returned when a record names a kind nobody registered
var ErrUnknownKind = errors.New("unknown action kind")

// Action is a single schema change
type Action interface {
	// Kind returns the stable tag identifying the action in persisted records
	Kind() string

	// Describe returns a human-readable summary of the change
	Describe() string

	// Run performs the expand phase. The schema reflects every earlier action.
	Run(ctx context.Context, exec db.Executor, s *schema.Schema) error

	// Complete performs the part of the change that breaks old code
	Complete(ctx context.Context, exec db.Executor, s *schema.Schema) error

	// UpdateSchema applies the change to the logical schema. It is called
	// exactly once per action per pass and is not idempotent.
	UpdateSchema(s *schema.Schema) error

	// Abort removes whatever Run installed. Objects that are already absent
	// are not an error. The schema is never touched.
	Abort(ctx context.Context, exec db.Executor) error
}

// PartialAborter is implemented by actions whose Abort only removes objects
// the action itself names, so it is safe to call after Run failed partway.
// Actions without it are not aborted when their own Run fails.
type PartialAborter interface {
	AbortsOwnObjectsOnly() bool
}

// AbortAfterFailedRun reports whether an action should be aborted
// after its Run failed outside a transaction
func AbortAfterFailedRun(a Action) bool {
	p, ok := a.(PartialAborter)
	return ok && p.AbortsOwnObjectsOnly()
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Action{}
)

// Register makes an action kind available to the record decoder.
// It panics if the kind is empty or already registered.
func Register(kind string, factory func() Action) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if kind == "" {
		panic("migration: Register with empty kind")
	}
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("migration: Register called twice for kind %q", kind))
	}
	registry[kind] = factory
}

// New returns an empty action of the given kind
func New(kind string) (Action, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Kinds returns the registered kinds in sorted order
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// run executes statements in order, stopping at the first failure.
// Failures are always reported as *db.ExecutionError.
func run(ctx context.Context, exec db.Executor, statements ...string) error {
	for _, stmt := range statements {
		if err := exec.Run(ctx, stmt); err != nil {
			return asExecutionError(stmt, err)
		}
	}
	return nil
}

// runIgnoringAbsent is like run but treats "does not exist" failures as success
func runIgnoringAbsent(ctx context.Context, exec db.Executor, statements ...string) error {
	for _, stmt := range statements {
		if _, err := exec.Query(ctx, stmt); err != nil {
			if db.IsNotExist(err) {
				continue
			}
			return asExecutionError(stmt, err)
		}
	}
	return nil
}

func asExecutionError(stmt string, err error) error {
	var execErr *db.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &db.ExecutionError{Statement: stmt, Err: err}
}
