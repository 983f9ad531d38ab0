package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Run Status Tests
// =============================================================================

func TestRunStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status RunStatus
		want   bool
	}{
		{"created is valid", RunStatusCreated, true},
		{"running is valid", RunStatusRunning, true},
		{"completed is valid", RunStatusCompleted, true},
		{"failed is valid", RunStatusFailed, true},
		{"empty is invalid", RunStatus(""), false},
		{"random is invalid", RunStatus("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		wantErr bool
	}{
		{"created to running", RunStatusCreated, RunStatusRunning, false},
		{"created to failed", RunStatusCreated, RunStatusFailed, false},
		{"running to completed", RunStatusRunning, RunStatusCompleted, false},
		{"running to failed", RunStatusRunning, RunStatusFailed, false},
		{"created to completed is invalid", RunStatusCreated, RunStatusCompleted, true},
		{"completed is terminal", RunStatusCompleted, RunStatusRunning, true},
		{"failed is terminal", RunStatusFailed, RunStatusCreated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// NewRun Tests
// =============================================================================

func succeededBake(t *testing.T) *Bake {
	t.Helper()
	bake, err := NewBake("rcp_a1b2c3d4", "corona-stats", "9f86d081")
	require.NoError(t, err)
	require.NoError(t, bake.Transition(BakeStatusBuilding))
	require.NoError(t, bake.Transition(BakeStatusSucceeded))
	return bake
}

func TestNewRun(t *testing.T) {
	t.Run("run from succeeded bake", func(t *testing.T) {
		bake := succeededBake(t)

		run, err := NewRun(bake)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(run.ID, "run_"))
		assert.Equal(t, bake.ID, run.BakeID)
		assert.Equal(t, bake.RecipeID, run.RecipeID)
		assert.Equal(t, RunStatusCreated, run.Status)
		assert.Nil(t, run.ExitCode)
	})

	t.Run("nil bake is rejected", func(t *testing.T) {
		_, err := NewRun(nil)
		assert.ErrorIs(t, err, ErrBakeIDRequired)
	})

	t.Run("queued bake is rejected", func(t *testing.T) {
		bake, err := NewBake("rcp_a1b2c3d4", "corona-stats", "9f86d081")
		require.NoError(t, err)

		_, err = NewRun(bake)
		assert.ErrorIs(t, err, ErrBakeNotSucceeded)
	})

	t.Run("failed bake is rejected", func(t *testing.T) {
		bake, err := NewBake("rcp_a1b2c3d4", "corona-stats", "9f86d081")
		require.NoError(t, err)
		bake.TransitionToFailed("build error")

		_, err = NewRun(bake)
		assert.ErrorIs(t, err, ErrBakeNotSucceeded)
	})
}

// =============================================================================
// Run Lifecycle Tests
// =============================================================================

func TestRun_Finish(t *testing.T) {
	t.Run("zero exit code completes", func(t *testing.T) {
		run, err := NewRun(succeededBake(t))
		require.NoError(t, err)
		require.NoError(t, run.Transition(RunStatusRunning))

		require.NoError(t, run.Finish(0, "The lockdown may end on: 2020-05-10\n"))

		assert.Equal(t, RunStatusCompleted, run.Status)
		require.NotNil(t, run.ExitCode)
		assert.Equal(t, 0, *run.ExitCode)
		assert.Equal(t, "The lockdown may end on: 2020-05-10\n", run.Output)
		assert.NotNil(t, run.FinishedAt)
	})

	t.Run("nonzero exit code fails", func(t *testing.T) {
		run, err := NewRun(succeededBake(t))
		require.NoError(t, err)
		require.NoError(t, run.Transition(RunStatusRunning))

		require.NoError(t, run.Finish(1, "Traceback (most recent call last):\n"))

		assert.Equal(t, RunStatusFailed, run.Status)
		require.NotNil(t, run.ExitCode)
		assert.Equal(t, 1, *run.ExitCode)
		assert.Contains(t, run.Error, "exited with code 1")
	})
}

func TestRun_TransitionToFailed(t *testing.T) {
	run, err := NewRun(succeededBake(t))
	require.NoError(t, err)

	run.TransitionToFailed("image not present on node")

	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "image not present on node", run.Error)
	assert.NotNil(t, run.FinishedAt)
}
