package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/store"
)

// ReaperConfig configures the container reaper worker.
type ReaperConfig struct {
	Interval      time.Duration
	MaxConcurrent int
}

// DefaultReaperConfig returns default configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:      5 * time.Minute,
		MaxConcurrent: 3,
	}
}

// Reaper sweeps exited containers that no longer belong to an active run
// off the local daemon and every online node. Run containers are normally
// removed right after their output is captured, but a crash between start
// and capture leaves the container behind.
type Reaper struct {
	store    store.Store
	executor *docker.Executor
	config   ReaperConfig
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReaper creates a new container reaper worker.
func NewReaper(s store.Store, executor *docker.Executor, config ReaperConfig, logger *slog.Logger) *Reaper {
	if config.Interval == 0 {
		config.Interval = DefaultReaperConfig().Interval
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultReaperConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		store:    s,
		executor: executor,
		config:   config,
		logger:   logger.With("component", "reaper"),
	}
}

// Start begins the reaper background goroutine.
func (r *Reaper) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.run()
	r.logger.Info("reaper started", "interval", r.config.Interval)
}

// Stop gracefully stops the reaper.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	// Run after a short delay on start, so the first health cycle has a
	// chance to bring nodes online before the first sweep.
	time.Sleep(10 * time.Second)
	r.runCycle()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runCycle()
		}
	}
}

func (r *Reaper) runCycle() {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Minute)
	defer cancel()

	activeIDs, err := r.store.ListActiveRunIDs(ctx)
	if err != nil {
		r.logger.Error("failed to list active runs for sweep", "error", err)
		return
	}
	activeRuns := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		activeRuns[id] = true
	}

	// Sweep the local daemon plus every online node. Offline nodes are
	// skipped; their leftovers get swept once they come back.
	var targets []string
	if r.executor.HasLocalDaemon() {
		targets = append(targets, "")
	}
	nodes, err := r.store.ListOnlineNodes(ctx)
	if err != nil {
		r.logger.Error("failed to list nodes for sweep", "error", err)
	} else {
		for i := range nodes {
			targets = append(targets, nodes[i].ID)
		}
	}

	if len(targets) == 0 {
		return
	}

	sem := make(chan struct{}, r.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			r.sweepTarget(ctx, nodeID, activeRuns)
		}(target)
	}

	wg.Wait()
}

func (r *Reaper) sweepTarget(ctx context.Context, nodeID string, activeRuns map[string]bool) {
	target := nodeID
	if target == "" {
		target = "local"
	}

	removed, err := r.executor.SweepOrphans(ctx, nodeID, activeRuns)
	if err != nil {
		r.logger.Warn("container sweep failed", "node", target, "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("swept orphaned containers", "node", target, "count", removed)
	}
}
