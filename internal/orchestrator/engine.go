package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tordrt/reshape/internal/db"
	"github.com/tordrt/reshape/internal/migration"
	"github.com/tordrt/reshape/internal/schema"
	"github.com/tordrt/reshape/internal/state"
)

// Sentinel errors for engine operations
var (
	ErrInProgress = errors.New("a migration is already in progress")
	ErrOutOfOrder = errors.New("migrations are out of order")
	ErrCompleting = errors.New("migration has started completing and can only be completed")
)

// Plan classifies an ordered list of migrations by the phase each has reached
type Plan struct {
	// Base is the logical schema after all completed migrations
	Base       *schema.Schema
	Completed  []*migration.Migration
	InProgress []*migration.Migration
	// Completing is the subset of InProgress whose completion has started
	Completing []*migration.Migration
	Pending    []*migration.Migration
}

// Status is the phase of a single migration. An empty phase means pending.
type Status struct {
	Name  string
	Phase state.Phase
}

// Engine drives whole migrations through their lifecycle, recording each
// phase in a state store
type Engine struct {
	runner *Runner
	store  state.Store
	logger *slog.Logger
}

// NewEngine creates a new Engine
func NewEngine(runner *Runner, store state.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{runner: runner, store: store, logger: logger}
}

// Plan works out where each migration stands. Migrations must be given in
// their historical order: completed ones first, then at most the in-progress
// set, then pending ones.
func (e *Engine) Plan(ctx context.Context, migrations []*migration.Migration) (*Plan, error) {
	plan := &Plan{Base: schema.NewSchema()}

	for _, m := range migrations {
		phase, ok, err := e.store.Get(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		if !ok || phase == state.PhaseAborted {
			plan.Pending = append(plan.Pending, m)
			continue
		}

		switch phase {
		case state.PhaseCompleted:
			if len(plan.InProgress) > 0 || len(plan.Pending) > 0 {
				return nil, fmt.Errorf("completed migration %q follows unfinished ones: %w", m.Name, ErrOutOfOrder)
			}
			if err := e.runner.Replay(plan.Base, m.Actions); err != nil {
				return nil, fmt.Errorf("migration %q: %w", m.Name, err)
			}
			plan.Completed = append(plan.Completed, m)
		case state.PhaseInProgress, state.PhaseCompleting:
			if len(plan.Pending) > 0 {
				return nil, fmt.Errorf("in-progress migration %q follows pending ones: %w", m.Name, ErrOutOfOrder)
			}
			plan.InProgress = append(plan.InProgress, m)
			if phase == state.PhaseCompleting {
				plan.Completing = append(plan.Completing, m)
			}
		default:
			return nil, fmt.Errorf("migration %q has unknown phase %q", m.Name, phase)
		}
	}

	return plan, nil
}

// Migrate runs every pending migration as one pass and marks them in progress
func (e *Engine) Migrate(ctx context.Context, exec db.Executor, migrations []*migration.Migration) error {
	plan, err := e.Plan(ctx, migrations)
	if err != nil {
		return err
	}
	if len(plan.InProgress) > 0 {
		return fmt.Errorf("%w: %s", ErrInProgress, plan.InProgress[0].Name)
	}
	if len(plan.Pending) == 0 {
		e.logger.Info("no pending migrations")
		return nil
	}

	s := plan.Base.Clone()
	if err := e.runner.Apply(ctx, exec, s, flatten(plan.Pending)); err != nil {
		return err
	}

	for _, m := range plan.Pending {
		if err := e.store.Set(ctx, m.Name, state.PhaseInProgress); err != nil {
			return err
		}
		e.logger.Info("migration in progress", "migration", m.Name)
	}
	return nil
}

// Complete finalises the in-progress migrations. They are marked completing
// before the first action is finalised, so that a failed completion can be
// retried but no longer aborted.
func (e *Engine) Complete(ctx context.Context, exec db.Executor, migrations []*migration.Migration) error {
	plan, err := e.Plan(ctx, migrations)
	if err != nil {
		return err
	}
	if len(plan.InProgress) == 0 {
		e.logger.Info("no migration in progress")
		return nil
	}

	completing := make(map[string]bool, len(plan.Completing))
	for _, m := range plan.Completing {
		completing[m.Name] = true
	}
	for _, m := range plan.InProgress {
		if completing[m.Name] {
			e.logger.Info("resuming completion", "migration", m.Name)
			continue
		}
		if err := e.store.Set(ctx, m.Name, state.PhaseCompleting); err != nil {
			return err
		}
	}

	if err := e.runner.Complete(ctx, exec, plan.Base.Clone(), flatten(plan.InProgress)); err != nil {
		return err
	}

	for _, m := range plan.InProgress {
		if err := e.store.Set(ctx, m.Name, state.PhaseCompleted); err != nil {
			return err
		}
		e.logger.Info("migration completed", "migration", m.Name)
	}
	return nil
}

// Abort reverts the in-progress migrations, newest first. If any action fails
// to abort, the migrations stay in progress so the abort can be retried.
// Once completion has started, Abort refuses with ErrCompleting.
func (e *Engine) Abort(ctx context.Context, exec db.Executor, migrations []*migration.Migration) error {
	plan, err := e.Plan(ctx, migrations)
	if err != nil {
		return err
	}
	if len(plan.InProgress) == 0 {
		e.logger.Info("no migration in progress")
		return nil
	}
	if len(plan.Completing) > 0 {
		return fmt.Errorf("%w: %s", ErrCompleting, plan.Completing[0].Name)
	}

	if err := e.runner.Abort(ctx, exec, flatten(plan.InProgress)); err != nil {
		return err
	}

	for i := len(plan.InProgress) - 1; i >= 0; i-- {
		m := plan.InProgress[i]
		if err := e.store.Set(ctx, m.Name, state.PhaseAborted); err != nil {
			return err
		}
		e.logger.Info("migration aborted", "migration", m.Name)
	}
	return nil
}

// Schema returns the logical schema new code sees: completed migrations plus
// the in-progress ones
func (e *Engine) Schema(ctx context.Context, migrations []*migration.Migration) (*schema.Schema, error) {
	plan, err := e.Plan(ctx, migrations)
	if err != nil {
		return nil, err
	}

	s := plan.Base.Clone()
	if err := e.runner.Replay(s, flatten(plan.InProgress)); err != nil {
		return nil, err
	}
	return s, nil
}

// Status reports the phase of each migration in order
func (e *Engine) Status(ctx context.Context, migrations []*migration.Migration) ([]Status, error) {
	statuses := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		phase, _, err := e.store.Get(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{Name: m.Name, Phase: phase})
	}
	return statuses, nil
}

func flatten(migrations []*migration.Migration) []migration.Action {
	var actions []migration.Action
	for _, m := range migrations {
		actions = append(actions, m.Actions...)
	}
	return actions
}
