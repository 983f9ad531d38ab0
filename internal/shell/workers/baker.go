// Package workers contains the background workers that keep the system
// converging: the baker drains the bake queue into image builds, the run
// worker executes baked images to completion, the health checker keeps
// node status current, the provisioner drives cloud instances through
// their lifecycle, and the reaper sweeps leftover containers off nodes.
//
// Each worker follows the same shape: Start launches a single goroutine
// that runs a cycle on a ticker, Stop cancels it and waits. Cycles are
// bounded by a context timeout and fan out over a small semaphore so one
// slow item cannot stall the rest.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/scheduler"
	"github.com/casebake/bakery/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// BakerConfig configures the bake queue worker.
type BakerConfig struct {
	Interval      time.Duration // how often to poll the queue
	MaxConcurrent int           // image builds in flight at once
}

// DefaultBakerConfig returns the default baker configuration.
func DefaultBakerConfig() BakerConfig {
	return BakerConfig{
		Interval:      3 * time.Second,
		MaxConcurrent: 2,
	}
}

// =============================================================================
// Baker Worker
// =============================================================================

// Baker drains the bake queue: it places each queued bake on a node,
// builds the image there and records the outcome. Bakes that cannot be
// placed stay queued and are retried on later cycles.
type Baker struct {
	store    store.Store
	executor *docker.Executor
	placer   *scheduler.Service
	config   BakerConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBaker creates a bake queue worker.
func NewBaker(s store.Store, executor *docker.Executor, placer *scheduler.Service, config BakerConfig, logger *slog.Logger) *Baker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval == 0 {
		config.Interval = DefaultBakerConfig().Interval
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultBakerConfig().MaxConcurrent
	}
	return &Baker{
		store:    s,
		executor: executor,
		placer:   placer,
		config:   config,
		logger:   logger.With("component", "baker"),
	}
}

// Start begins draining the bake queue in the background.
func (b *Baker) Start() {
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go b.run()
	b.logger.Info("baker started",
		"interval", b.config.Interval,
		"max_concurrent", b.config.MaxConcurrent,
	)
}

// Stop stops the worker and waits for in-flight builds to finish.
func (b *Baker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("baker stopped")
}

func (b *Baker) run() {
	defer b.wg.Done()

	b.recoverInterrupted()

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	b.runCycle()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.runCycle()
		}
	}
}

// recoverInterrupted fails bakes left in building by a previous process.
// A building bake has no worker attached after a restart, and builds
// cannot rejoin the queue, so it would sit in that status forever.
func (b *Baker) recoverInterrupted() {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	bakes, err := b.store.ListBakesByStatus(ctx, domain.BakeStatusBuilding, 0)
	if err != nil {
		b.logger.Error("failed to list interrupted bakes", "error", err)
		return
	}

	for i := range bakes {
		bake := &bakes[i]
		bake.TransitionToFailed("build interrupted by daemon restart")
		if err := b.store.UpdateBake(ctx, bake); err != nil {
			b.logger.Error("failed to mark interrupted bake", "bake_id", bake.ID, "error", err)
			continue
		}
		b.logger.Warn("marked interrupted bake as failed",
			"bake_id", bake.ID,
			"recipe_id", bake.RecipeID,
		)
	}
}

func (b *Baker) runCycle() {
	// Builds pull base images on cold nodes, which can take a while.
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Minute)
	defer cancel()

	bakes, err := b.store.ListBakesByStatus(ctx, domain.BakeStatusQueued, b.config.MaxConcurrent)
	if err != nil {
		b.logger.Error("failed to list queued bakes", "error", err)
		return
	}

	if len(bakes) == 0 {
		return
	}

	b.logger.Debug("draining bake queue", "count", len(bakes))

	sem := make(chan struct{}, b.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range bakes {
		bake := &bakes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			b.processBake(ctx, bake)
		}()
	}

	wg.Wait()
}

func (b *Baker) processBake(ctx context.Context, bake *domain.Bake) {
	logger := b.logger.With("bake_id", bake.ID, "recipe_id", bake.RecipeID)

	r, err := b.store.GetRecipe(ctx, bake.RecipeID)
	if err != nil {
		b.failBake(ctx, bake, fmt.Sprintf("load recipe: %v", err))
		return
	}

	placement, err := b.placer.ScheduleBake(ctx, scheduler.ScheduleBakeRequest{
		Recipe:          r,
		PreferredNodeID: b.preferredNode(ctx, bake.RecipeID),
	})
	if err != nil {
		// Placement failure is usually transient (nodes busy or offline).
		// Leave the bake queued and let a later cycle retry.
		logger.Warn("no placement for bake, leaving queued", "error", err)
		return
	}

	bake.NodeID = placement.NodeID
	if err := bake.Transition(domain.BakeStatusBuilding); err != nil {
		logger.Error("failed to transition bake", "error", err)
		return
	}
	if err := b.store.UpdateBake(ctx, bake); err != nil {
		logger.Error("failed to claim bake", "error", err)
		return
	}

	logger.Info("baking image",
		"image_tag", bake.ImageTag,
		"node_id", bake.NodeID,
	)

	result, buildErr := b.executor.ExecuteBake(ctx, bake, r)
	if result != nil {
		bake.BuildLog = result.Log
	}

	if buildErr != nil {
		bake.TransitionToFailed(buildErr.Error())
		if err := b.store.UpdateBake(ctx, bake); err != nil {
			logger.Error("failed to persist bake failure", "error", err)
		}
		logger.Error("bake failed", "error", buildErr)
		return
	}

	if err := bake.Transition(domain.BakeStatusSucceeded); err != nil {
		logger.Error("failed to transition bake", "error", err)
		return
	}
	if err := b.store.UpdateBake(ctx, bake); err != nil {
		logger.Error("failed to persist bake result", "error", err)
		return
	}

	logger.Info("bake succeeded", "image_tag", bake.ImageTag)
}

func (b *Baker) failBake(ctx context.Context, bake *domain.Bake, message string) {
	bake.TransitionToFailed(message)
	if err := b.store.UpdateBake(ctx, bake); err != nil {
		b.logger.Error("failed to persist bake failure", "bake_id", bake.ID, "error", err)
	}
	b.logger.Error("bake failed", "bake_id", bake.ID, "error", message)
}

// preferredNode returns the node that last built this recipe, so repeat
// bakes land where the base image and layer cache already are.
func (b *Baker) preferredNode(ctx context.Context, recipeID string) string {
	prev, err := b.store.GetLatestSucceededBake(ctx, recipeID)
	if err != nil {
		return ""
	}
	return prev.NodeID
}
