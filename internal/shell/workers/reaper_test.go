package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Configuration
// =============================================================================

func TestDefaultReaperConfig(t *testing.T) {
	config := DefaultReaperConfig()

	assert.Equal(t, 5*time.Minute, config.Interval)
	assert.Equal(t, 3, config.MaxConcurrent)
}

func TestNewReaper_DefaultConfig(t *testing.T) {
	s := workerStore(t)
	r := NewReaper(s, nil, ReaperConfig{}, nil)

	assert.NotNil(t, r)
	assert.Equal(t, 5*time.Minute, r.config.Interval)
	assert.Equal(t, 3, r.config.MaxConcurrent)
}

// =============================================================================
// Test Sweep
// =============================================================================

func TestReaper_SweepsOrphanedContainers(t *testing.T) {
	s := workerStore(t)
	rec := seedRecipe(t, s)
	bake := seedSucceededBake(t, s, rec, "")
	activeRun := seedRun(t, s, bake) // created, so still active

	fake := &fakeDocker{
		containers: []docker.ContainerInfo{
			{
				ID:     "cont_active",
				Name:   "bakery-corona-stats-" + activeRun.ID,
				Status: docker.ContainerStatusExited,
				Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: activeRun.ID},
			},
			{
				ID:     "cont_orphan",
				Name:   "bakery-corona-stats-run_gone",
				Status: docker.ContainerStatusExited,
				Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: "run_gone"},
			},
			{
				ID:     "cont_running",
				Name:   "bakery-corona-stats-run_live",
				Status: docker.ContainerStatusRunning,
				Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: "run_live"},
			},
			{
				ID:     "cont_unlabeled",
				Name:   "bakery-stray",
				Status: docker.ContainerStatusExited,
				Labels: map[string]string{docker.LabelManaged: "true"},
			},
		},
	}

	reaper := NewReaper(s, testExecutor(t, fake), ReaperConfig{}, slog.Default())
	reaper.ctx, reaper.cancel = context.WithCancel(context.Background())
	defer reaper.cancel()

	reaper.runCycle()

	// Exited containers without an active run are removed; the container
	// of the still-active run and anything running are left alone.
	assert.ElementsMatch(t, []string{"cont_orphan", "cont_unlabeled"}, fake.removedContainers)
}

func TestReaper_NoTargets(t *testing.T) {
	s := workerStore(t)

	// No local daemon and no nodes: nothing to sweep
	executor := docker.NewExecutor(nil, nil, docker.ExecutorConfig{}, slog.Default())
	reaper := NewReaper(s, executor, ReaperConfig{}, slog.Default())
	reaper.ctx, reaper.cancel = context.WithCancel(context.Background())
	defer reaper.cancel()

	reaper.runCycle()
}

func TestReaper_NodeSweepFailureDoesNotBlockLocal(t *testing.T) {
	s := workerStore(t)

	// An online node with no pool behind it: sweeping it fails, but the
	// local daemon still gets swept.
	node, err := domain.NewNode("sweep-node", "198.51.100.20", "root", 22)
	require.NoError(t, err)
	node.Status = domain.NodeStatusOnline
	require.NoError(t, s.CreateNode(context.Background(), node))

	fake := &fakeDocker{
		containers: []docker.ContainerInfo{
			{
				ID:     "cont_orphan",
				Name:   "bakery-stray",
				Status: docker.ContainerStatusExited,
				Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: "run_gone"},
			},
		},
	}

	reaper := NewReaper(s, testExecutor(t, fake), ReaperConfig{}, slog.Default())
	reaper.ctx, reaper.cancel = context.WithCancel(context.Background())
	defer reaper.cancel()

	reaper.runCycle()

	assert.Equal(t, 1, fake.listCalls)
	assert.Equal(t, []string{"cont_orphan"}, fake.removedContainers)
}
