package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/core/recipe"
)

// =============================================================================
// Executor - Drives Bakes and Runs
// =============================================================================

// Executor executes bakes and runs against Docker, local or remote. Workers
// own the queue and status transitions; the executor owns the Docker side.
type Executor struct {
	local      Client // client for the local daemon, nil when none configured
	pool       *NodePool
	logger     *slog.Logger
	scriptRoot string // base directory recipes resolve script paths against
	dataDir    string // host directory mounted read-only at DataMountPath, "" disables
	runTimeout time.Duration
}

// DataMountPath is where the shared dataset directory appears inside run
// containers when a data directory is configured.
const DataMountPath = "/data"

// ExecutorConfig configures the executor.
type ExecutorConfig struct {
	ScriptRoot string
	DataDir    string
	RunTimeout time.Duration // Default: DefaultRunTimeout
}

// NewExecutor creates an executor. Either local or pool may be nil, but a
// bake or run targeting the missing side fails with a clear error.
func NewExecutor(local Client, pool *NodePool, config ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = DefaultRunTimeout
	}
	return &Executor{
		local:      local,
		pool:       pool,
		logger:     logger,
		scriptRoot: config.ScriptRoot,
		dataDir:    config.DataDir,
		runTimeout: config.RunTimeout,
	}
}

// Ping verifies the local Docker daemon is reachable. Remote-only setups
// have no local daemon and nothing to ping.
func (e *Executor) Ping() error {
	if e.local == nil {
		return nil
	}
	return e.local.Ping()
}

// HasLocalDaemon reports whether a local Docker daemon is configured.
func (e *Executor) HasLocalDaemon() bool {
	return e.local != nil
}

// clientFor resolves the Docker client for a node ID. An empty node ID
// means the local daemon.
func (e *Executor) clientFor(ctx context.Context, nodeID string) (Client, error) {
	if nodeID == "" {
		if e.local == nil {
			return nil, fmt.Errorf("no local docker daemon configured")
		}
		return e.local, nil
	}
	if e.pool == nil {
		return nil, fmt.Errorf("no node pool configured")
	}
	return e.pool.GetClient(ctx, nodeID)
}

// =============================================================================
// Bake Execution
// =============================================================================

// ExecuteBake renders the recipe's Dockerfile, assembles the build context
// and builds the image tagged with the bake's image tag. The script is
// verified before any daemon contact, so a missing script fails the bake
// immediately. The returned BuildResult carries the build log even on
// failure.
func (e *Executor) ExecuteBake(ctx context.Context, bake *domain.Bake, r *domain.Recipe) (*BuildResult, error) {
	e.logger.Info("baking image",
		"bake_id", bake.ID,
		"recipe_id", r.ID,
		"image_tag", bake.ImageTag,
		"node_id", bake.NodeID,
	)

	dockerfile, err := recipe.Render(r)
	if err != nil {
		return nil, fmt.Errorf("render dockerfile: %w", err)
	}

	contextTar, err := BuildContext(e.scriptRoot, dockerfile, r.ScriptPath)
	if err != nil {
		if errors.Is(err, ErrScriptNotFound) {
			e.logger.Warn("bake refused, script missing",
				"bake_id", bake.ID,
				"script_path", r.ScriptPath,
			)
		}
		return nil, err
	}

	cli, err := e.clientFor(ctx, bake.NodeID)
	if err != nil {
		return nil, err
	}

	result, err := cli.BuildImage(contextTar, BuildSpec{
		Tags:       []string{bake.ImageTag},
		Dockerfile: DockerfileName,
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelRecipe:      r.ID,
			LabelBake:        bake.ID,
			LabelFingerprint: bake.Fingerprint,
		},
	})
	if err != nil {
		e.logger.Error("bake failed",
			"bake_id", bake.ID,
			"image_tag", bake.ImageTag,
			"error", err,
		)
		return result, err
	}

	e.logger.Info("bake succeeded",
		"bake_id", bake.ID,
		"image_tag", bake.ImageTag,
		"image_id", result.ImageID,
	)
	return result, nil
}

// =============================================================================
// Run Execution
// =============================================================================

// ExecuteRun runs the baked image to completion on the node it was baked
// on. The container executes the image's default command untouched and is
// removed once its output is captured.
func (e *Executor) ExecuteRun(ctx context.Context, run *domain.Run, bake *domain.Bake, r *domain.Recipe) (*RunResult, error) {
	e.logger.Info("starting run",
		"run_id", run.ID,
		"bake_id", bake.ID,
		"image_tag", bake.ImageTag,
		"node_id", bake.NodeID,
	)

	cli, err := e.clientFor(ctx, bake.NodeID)
	if err != nil {
		return nil, err
	}

	exists, err := cli.ImageExists(bake.ImageTag)
	if err != nil {
		return nil, fmt.Errorf("check image: %w", err)
	}
	if !exists {
		return nil, NewDockerError("ExecuteRun", "image", bake.ImageTag, "baked image not present, re-bake required", ErrImageNotFound)
	}

	spec := ContainerSpec{
		Name:  domain.ContainerName(r.Slug, run.ID),
		Image: bake.ImageTag,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelRecipe:  r.ID,
			LabelBake:    bake.ID,
			LabelRun:     run.ID,
		},
	}
	if e.dataDir != "" {
		spec.Mounts = []VolumeMount{{Source: e.dataDir, Target: DataMountPath, ReadOnly: true}}
	}

	result, runErr := cli.RunContainer(spec, e.runTimeout)

	// Output is already captured; drop the exited container either way.
	if result != nil && result.ContainerID != "" {
		if err := cli.RemoveContainer(result.ContainerID, RemoveOptions{Force: true}); err != nil {
			e.logger.Warn("failed to remove run container",
				"run_id", run.ID,
				"container_id", result.ContainerID,
				"error", err,
			)
		}
	}

	if runErr != nil {
		e.logger.Error("run failed",
			"run_id", run.ID,
			"image_tag", bake.ImageTag,
			"error", runErr,
		)
		return result, runErr
	}

	e.logger.Info("run finished",
		"run_id", run.ID,
		"exit_code", result.ExitCode,
	)
	return result, nil
}

// =============================================================================
// Cleanup
// =============================================================================

// RemoveBakeImage removes a bake's image from its node. Used when a recipe
// is deleted and its images are no longer wanted.
func (e *Executor) RemoveBakeImage(ctx context.Context, bake *domain.Bake) error {
	cli, err := e.clientFor(ctx, bake.NodeID)
	if err != nil {
		return err
	}

	if err := cli.RemoveImage(bake.ImageTag, false); err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return nil
		}
		return err
	}

	e.logger.Info("removed bake image", "bake_id", bake.ID, "image_tag", bake.ImageTag)
	return nil
}

// OrphanedContainers lists exited bakery-managed containers on a node that
// no longer belong to an active run.
func (e *Executor) OrphanedContainers(ctx context.Context, nodeID string, activeRunIDs map[string]bool) ([]ContainerInfo, error) {
	cli, err := e.clientFor(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	containers, err := cli.ListContainers(ListOptions{
		All:     true,
		Filters: map[string]string{"label": LabelManaged + "=true"},
	})
	if err != nil {
		return nil, err
	}

	var orphans []ContainerInfo
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			continue
		}
		runID := c.Labels[LabelRun]
		if runID == "" || !activeRunIDs[runID] {
			orphans = append(orphans, c)
		}
	}
	return orphans, nil
}

// SweepOrphans removes orphaned containers from a node and returns how many
// were removed. Removal failures are logged and skipped so one stuck
// container does not block the rest of the sweep.
func (e *Executor) SweepOrphans(ctx context.Context, nodeID string, activeRunIDs map[string]bool) (int, error) {
	orphans, err := e.OrphanedContainers(ctx, nodeID, activeRunIDs)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	cli, err := e.clientFor(ctx, nodeID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range orphans {
		if err := cli.RemoveContainer(c.ID, RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			e.logger.Warn("failed to remove orphaned container",
				"container_id", c.ID,
				"container_name", c.Name,
				"node_id", nodeID,
				"error", err,
			)
			continue
		}
		e.logger.Info("removed orphaned container",
			"container_id", c.ID,
			"container_name", c.Name,
			"run_id", c.Labels[LabelRun],
			"node_id", nodeID,
		)
		removed++
	}
	return removed, nil
}
