// Package orchestrator sequences actions through the expand, complete and
// abort phases.
//
// Actions within a pass never run concurrently. Run and UpdateSchema are
// called in list order, each pair finishing before the next action starts.
// Abort walks the actions in reverse so that later actions, which may depend
// on earlier ones, are undone first.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/migration"
	"github.com/tordrt/reshape/internal/schema"
)

// Phase names used in errors and logs
const (
	PhaseValidate = "validate"
	PhaseRun      = "run"
	PhaseSchema   = "update schema"
	PhaseComplete = "complete"
	PhaseAbort    = "abort"
)

// ActionError pairs a failure with the action that caused it
type ActionError struct {
	Index       int
	Kind        string
	Description string
	Phase       string
	Err         error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s (action %d, %s): %v", e.Description, e.Index, e.Phase, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func actionError(i int, a migration.Action, phase string, err error) *ActionError {
	return &ActionError{
		Index:       i,
		Kind:        a.Kind(),
		Description: a.Describe(),
		Phase:       phase,
		Err:         err,
	}
}

// Runner applies ordered action lists
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new Runner
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Validate replays the actions on a copy of base and reports the first
// definition error. Nothing is executed.
func (r *Runner) Validate(base *schema.Schema, actions []migration.Action) error {
	scratch := base.Clone()
	for i, a := range actions {
		if err := a.UpdateSchema(scratch); err != nil {
			return actionError(i, a, PhaseValidate, err)
		}
	}
	return nil
}

// Replay applies the actions to the schema without touching the store
func (r *Runner) Replay(s *schema.Schema, actions []migration.Action) error {
	for i, a := range actions {
		if err := a.UpdateSchema(s); err != nil {
			return actionError(i, a, PhaseSchema, err)
		}
	}
	return nil
}

// Apply runs the expand phase of every action in order, updating s as it
// goes. Definition errors are detected before anything is executed. If an
// action fails, the actions before it are aborted in reverse order and s is
// left unchanged. The failing action itself is aborted only when its Run may
// have left objects behind and its Abort cannot touch objects it did not
// create: never after a rolled back transaction, and only for actions that
// implement migration.PartialAborter otherwise.
func (r *Runner) Apply(ctx context.Context, exec db.Executor, s *schema.Schema, actions []migration.Action) error {
	if err := r.Validate(s, actions); err != nil {
		return err
	}

	_, transactional := exec.(db.Transactor)
	working := s.Clone()
	for i, a := range actions {
		r.logger.Info("running action", "index", i, "kind", a.Kind(), "action", a.Describe())

		started := i
		err := inPhase(ctx, exec, func(exec db.Executor) error {
			return a.Run(ctx, exec, working)
		})
		if err == nil {
			// Run finished, so its objects exist whatever UpdateSchema says
			started = i + 1
			if schemaErr := a.UpdateSchema(working); schemaErr != nil {
				err = actionError(i, a, PhaseSchema, schemaErr)
			}
		} else {
			if !transactional && migration.AbortAfterFailedRun(a) {
				started = i + 1
			}
			err = actionError(i, a, PhaseRun, err)
		}

		if err != nil {
			r.logger.Error("action failed, aborting", "index", i, "action", a.Describe(), "error", err)
			if abortErr := r.Abort(ctx, exec, actions[:started]); abortErr != nil {
				return errors.Join(err, abortErr)
			}
			return err
		}
	}

	*s = *working
	return nil
}

// Complete finalises every action in order. Each action sees the schema as
// it was when the action ran.
func (r *Runner) Complete(ctx context.Context, exec db.Executor, s *schema.Schema, actions []migration.Action) error {
	for i, a := range actions {
		r.logger.Info("completing action", "index", i, "kind", a.Kind(), "action", a.Describe())

		err := inPhase(ctx, exec, func(exec db.Executor) error {
			return a.Complete(ctx, exec, s)
		})
		if err != nil {
			return actionError(i, a, PhaseComplete, err)
		}
		if err := a.UpdateSchema(s); err != nil {
			return actionError(i, a, PhaseSchema, err)
		}
	}
	return nil
}

// Abort reverts actions in reverse order. It keeps going after a failure so
// that as much as possible is cleaned up, and returns all failures joined.
func (r *Runner) Abort(ctx context.Context, exec db.Executor, actions []migration.Action) error {
	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		r.logger.Info("aborting action", "index", i, "kind", a.Kind(), "action", a.Describe())

		if err := a.Abort(ctx, exec); err != nil {
			r.logger.Error("abort failed", "index", i, "action", a.Describe(), "error", err)
			errs = append(errs, actionError(i, a, PhaseAbort, err))
		}
	}
	return errors.Join(errs...)
}

// inPhase runs fn in a transaction when the executor supports one
func inPhase(ctx context.Context, exec db.Executor, fn func(db.Executor) error) error {
	if tx, ok := exec.(db.Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(exec)
}
