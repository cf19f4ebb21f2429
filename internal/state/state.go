// Package state records which phase each migration has reached.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Phase is the lifecycle position of a migration
type Phase string

const (
	// PhaseInProgress means the migration has been run but not finalised
	PhaseInProgress Phase = "in_progress"
	// PhaseCompleting is recorded before the first action is finalised. From
	// here the migration can only be completed, never aborted.
	PhaseCompleting Phase = "completing"
	// PhaseCompleted is terminal success
	PhaseCompleted Phase = "completed"
	// PhaseAborted is terminal rollback. The migration may be run again.
	PhaseAborted Phase = "aborted"
)

// ErrInvalidTransition is returned when a migration would skip or repeat a phase
var ErrInvalidTransition = errors.New("invalid phase transition")

// Record is the stored state of one migration
type Record struct {
	Name      string
	Phase     Phase
	UpdatedAt time.Time
}

// Store persists migration phases
type Store interface {
	// Get returns the phase of a migration, and false if it was never run
	Get(ctx context.Context, name string) (Phase, bool, error)
	// Set moves a migration to a new phase, enforcing CanTransition
	Set(ctx context.Context, name string, phase Phase) error
	// List returns all records ordered by name
	List(ctx context.Context) ([]Record, error)
}

// CanTransition reports whether a migration may move between phases.
// from is empty for a migration that was never run.
func CanTransition(from, to Phase) bool {
	switch to {
	case PhaseInProgress:
		return from == "" || from == PhaseAborted
	case PhaseCompleting, PhaseAborted:
		return from == PhaseInProgress
	case PhaseCompleted:
		return from == PhaseCompleting
	default:
		return false
	}
}

func checkTransition(name string, from, to Phase) error {
	if !CanTransition(from, to) {
		if from == "" {
			from = "pending"
		}
		return fmt.Errorf("migration %q: %s -> %s: %w", name, from, to, ErrInvalidTransition)
	}
	return nil
}
