package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// RunWorkerConfig configures the run worker.
type RunWorkerConfig struct {
	Interval      time.Duration // how often to poll for created runs
	MaxConcurrent int           // containers in flight at once
}

// DefaultRunWorkerConfig returns the default run worker configuration.
func DefaultRunWorkerConfig() RunWorkerConfig {
	return RunWorkerConfig{
		Interval:      2 * time.Second,
		MaxConcurrent: 4,
	}
}

// =============================================================================
// Run Worker
// =============================================================================

// RunWorker executes created runs: each one starts a container from the
// baked image on the node the image lives on, waits for it to exit and
// records the exit code and captured output.
type RunWorker struct {
	store    store.Store
	executor *docker.Executor
	config   RunWorkerConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunWorker creates a run worker.
func NewRunWorker(s store.Store, executor *docker.Executor, config RunWorkerConfig, logger *slog.Logger) *RunWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval == 0 {
		config.Interval = DefaultRunWorkerConfig().Interval
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultRunWorkerConfig().MaxConcurrent
	}
	return &RunWorker{
		store:    s,
		executor: executor,
		config:   config,
		logger:   logger.With("component", "run_worker"),
	}
}

// Start begins executing runs in the background.
func (w *RunWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run()
	w.logger.Info("run worker started",
		"interval", w.config.Interval,
		"max_concurrent", w.config.MaxConcurrent,
	)
}

// Stop stops the worker and waits for in-flight runs to finish.
func (w *RunWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("run worker stopped")
}

func (w *RunWorker) run() {
	defer w.wg.Done()

	w.recoverInterrupted()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.runCycle()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runCycle()
		}
	}
}

// recoverInterrupted fails runs left in running by a previous process. The
// container may have finished while nobody was watching, but its output is
// gone either way, so the honest outcome is a failure.
func (w *RunWorker) recoverInterrupted() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	runs, err := w.store.ListRunsByStatus(ctx, domain.RunStatusRunning, 0)
	if err != nil {
		w.logger.Error("failed to list interrupted runs", "error", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		run.TransitionToFailed("run interrupted by daemon restart")
		if err := w.store.UpdateRun(ctx, run); err != nil {
			w.logger.Error("failed to mark interrupted run", "run_id", run.ID, "error", err)
			continue
		}
		w.logger.Warn("marked interrupted run as failed",
			"run_id", run.ID,
			"recipe_id", run.RecipeID,
		)
	}
}

func (w *RunWorker) runCycle() {
	// Containers are bounded by the executor's run timeout; the cycle
	// needs headroom beyond that for claim and persist.
	ctx, cancel := context.WithTimeout(w.ctx, 45*time.Minute)
	defer cancel()

	runs, err := w.store.ListRunsByStatus(ctx, domain.RunStatusCreated, w.config.MaxConcurrent)
	if err != nil {
		w.logger.Error("failed to list created runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	w.logger.Debug("executing runs", "count", len(runs))

	sem := make(chan struct{}, w.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range runs {
		run := &runs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			w.processRun(ctx, run)
		}()
	}

	wg.Wait()
}

func (w *RunWorker) processRun(ctx context.Context, run *domain.Run) {
	logger := w.logger.With("run_id", run.ID, "recipe_id", run.RecipeID)

	bake, err := w.store.GetBake(ctx, run.BakeID)
	if err != nil {
		w.failRun(ctx, run, fmt.Sprintf("load bake: %v", err))
		return
	}

	r, err := w.store.GetRecipe(ctx, run.RecipeID)
	if err != nil {
		w.failRun(ctx, run, fmt.Sprintf("load recipe: %v", err))
		return
	}

	if err := run.Transition(domain.RunStatusRunning); err != nil {
		logger.Error("failed to transition run", "error", err)
		return
	}
	if err := w.store.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to claim run", "error", err)
		return
	}

	result, runErr := w.executor.ExecuteRun(ctx, run, bake, r)
	if result != nil {
		run.ContainerID = result.ContainerID
	}

	if runErr != nil {
		run.TransitionToFailed(runErr.Error())
		if err := w.store.UpdateRun(ctx, run); err != nil {
			logger.Error("failed to persist run failure", "error", err)
		}
		logger.Error("run failed", "error", runErr)
		return
	}

	if err := run.Finish(result.ExitCode, result.Output); err != nil {
		logger.Error("failed to finish run", "error", err)
		return
	}
	if err := w.store.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to persist run result", "error", err)
		return
	}

	logger.Info("run finished", "exit_code", result.ExitCode)
}

func (w *RunWorker) failRun(ctx context.Context, run *domain.Run, message string) {
	run.TransitionToFailed(message)
	if err := w.store.UpdateRun(ctx, run); err != nil {
		w.logger.Error("failed to persist run failure", "run_id", run.ID, "error", err)
	}
	w.logger.Error("run failed", "run_id", run.ID, "error", message)
}
