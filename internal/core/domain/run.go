package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrInvalidRunStatus     = errors.New("invalid run status")
	ErrInvalidRunTransition = errors.New("invalid run status transition")
	ErrBakeIDRequired       = errors.New("bake ID is required")
	ErrBakeNotSucceeded     = errors.New("bake has not succeeded")
)

// =============================================================================
// Run Status
// =============================================================================

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsValid checks if the run status is valid.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// validRunTransitions defines the allowed status transitions.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunStatusCreated:   {RunStatusRunning, RunStatusFailed},
	RunStatusRunning:   {RunStatusCompleted, RunStatusFailed},
	RunStatusCompleted: {},
	RunStatusFailed:    {},
}

// ValidateRunTransition checks if a status transition is allowed.
func ValidateRunTransition(from, to RunStatus) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRunStatus, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRunStatus, to)
	}
	for _, allowed := range validRunTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, from, to)
}

// =============================================================================
// Run
// =============================================================================

// Run is one execution of a baked image. The container runs the recipe's
// script exactly once with no arguments and no restart policy; the run
// captures the exit code and output.
type Run struct {
	ID          string     `json:"id"`
	BakeID      string     `json:"bake_id"`
	RecipeID    string     `json:"recipe_id"`
	Status      RunStatus  `json:"status"`
	ContainerID string     `json:"container_id,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// GenerateRunID generates a new run ID.
func GenerateRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// NewRun creates a run for a succeeded bake.
func NewRun(bake *Bake) (*Run, error) {
	if bake == nil || bake.ID == "" {
		return nil, ErrBakeIDRequired
	}
	if bake.Status != BakeStatusSucceeded {
		return nil, fmt.Errorf("%w: bake %s is %s", ErrBakeNotSucceeded, bake.ID, bake.Status)
	}
	return &Run{
		ID:        GenerateRunID(),
		BakeID:    bake.ID,
		RecipeID:  bake.RecipeID,
		Status:    RunStatusCreated,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the run to a new status, validating the transition and
// stamping the started/finished timestamps.
func (r *Run) Transition(to RunStatus) error {
	if err := ValidateRunTransition(r.Status, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	switch to {
	case RunStatusRunning:
		r.StartedAt = &now
	case RunStatusCompleted, RunStatusFailed:
		r.FinishedAt = &now
	}
	r.Status = to
	return nil
}

// TransitionToFailed moves the run to failed with an error message.
func (r *Run) TransitionToFailed(message string) {
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	r.Error = message
	r.FinishedAt = &now
}

// Finish records the container exit code and moves the run to its terminal
// state: completed on exit code zero, failed otherwise.
func (r *Run) Finish(exitCode int, output string) error {
	r.ExitCode = &exitCode
	r.Output = output
	if exitCode == 0 {
		return r.Transition(RunStatusCompleted)
	}
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	r.Error = fmt.Sprintf("container exited with code %d", exitCode)
	r.FinishedAt = &now
	return nil
}
