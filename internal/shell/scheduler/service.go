// Package scheduler provides the bake placement service with I/O.
// This is part of the Imperative Shell - it loads state from the store and
// calls the pure placement algorithm.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
	corescheduler "github.com/casebake/bakery/internal/core/scheduler"
	"github.com/casebake/bakery/internal/shell/store"
)

// =============================================================================
// Service Errors
// =============================================================================

var (
	// ErrNoNodesConfigured is returned when there is neither a local daemon
	// nor any online node to bake on.
	ErrNoNodesConfigured = errors.New("no nodes configured")

	// ErrNoSuitableNode is returned when the placement algorithm rejects every node.
	ErrNoSuitableNode = errors.New("no suitable node found")
)

// =============================================================================
// Scheduling Service
// =============================================================================

// Config tunes bake placement.
type Config struct {
	// LocalDaemon marks the local Docker daemon as a valid bake target.
	// When no remote node is online, placement falls back to it.
	LocalDaemon bool

	// MaxBakesPerNode caps concurrent bakes per remote node.
	// Zero means corescheduler.DefaultMaxBakesPerNode.
	MaxBakesPerNode int
}

// Service provides bake placement with I/O operations.
// It loads nodes from the store and uses the pure placement algorithm.
type Service struct {
	store  store.Store
	config Config
	logger *slog.Logger
}

// NewService creates a new scheduling service.
func NewService(s store.Store, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		config: config,
		logger: logger,
	}
}

// =============================================================================
// Schedule Request/Result
// =============================================================================

// ScheduleBakeRequest contains the input for placing a bake.
type ScheduleBakeRequest struct {
	// Recipe is the recipe being baked
	Recipe *domain.Recipe

	// PreferredNodeID optionally pins the bake to a node, typically the one
	// holding the previous bake's layer cache
	PreferredNodeID string
}

// ScheduleBakeResult contains the result of placement.
type ScheduleBakeResult struct {
	// NodeID is the selected node's ID; empty means the local daemon
	NodeID string

	// Node is the selected node, nil for the local daemon
	Node *domain.Node

	// Score is the placement score
	Score float64
}

// =============================================================================
// Schedule Bake
// =============================================================================

// ScheduleBake selects where a bake builds. Remote nodes take priority when
// any is online; the local daemon is the fallback for an install with no
// fleet yet.
//
// The algorithm:
// 1. Get all online nodes
// 2. If none and a local daemon exists, bake locally
// 3. If the preferred node is online and under its limit, reuse it
// 4. Otherwise, run the placement algorithm
// 5. If no suitable node found, return error
func (s *Service) ScheduleBake(ctx context.Context, req ScheduleBakeRequest) (*ScheduleBakeResult, error) {
	s.logger.Debug("scheduling bake",
		"recipe_id", req.Recipe.ID,
		"recipe_slug", req.Recipe.Slug,
		"preferred_node", req.PreferredNodeID,
	)

	nodes, err := s.store.ListOnlineNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list online nodes: %w", err)
	}

	if len(nodes) == 0 {
		if s.config.LocalDaemon {
			s.logger.Debug("no online nodes, baking on local daemon", "recipe_id", req.Recipe.ID)
			return &ScheduleBakeResult{NodeID: ""}, nil
		}
		return nil, ErrNoNodesConfigured
	}

	activeBakes, err := s.countActiveBakes(ctx)
	if err != nil {
		return nil, err
	}

	maxPerNode := s.config.MaxBakesPerNode
	if maxPerNode <= 0 {
		maxPerNode = corescheduler.DefaultMaxBakesPerNode
	}

	// A node that already holds the recipe's image layers rebuilds much
	// faster, so honor the preference while it has a free slot.
	if req.PreferredNodeID != "" {
		for _, node := range nodes {
			if node.ID != req.PreferredNodeID || !node.IsAvailable() {
				continue
			}
			if activeBakes[node.ID] >= maxPerNode {
				s.logger.Debug("preferred node at bake limit",
					"node_id", node.ID,
					"active_bakes", activeBakes[node.ID],
				)
				break // Run the placement algorithm instead
			}
			nodeCopy := node
			return &ScheduleBakeResult{
				NodeID: node.ID,
				Node:   &nodeCopy,
				Score:  100, // Preferred node gets max score
			}, nil
		}
	}

	// Run pure placement
	result, err := corescheduler.Schedule(corescheduler.ScheduleRequest{
		AvailableNodes:  nodes,
		ActiveBakes:     activeBakes,
		MaxBakesPerNode: s.config.MaxBakesPerNode,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v (considered=%d, filtered=%v)",
			ErrNoSuitableNode, err, result.ConsideredCount, result.FilteredOutReasons)
	}

	s.logger.Info("scheduled bake to node",
		"recipe_id", req.Recipe.ID,
		"node_id", result.SelectedNodeID,
		"node_name", result.SelectedNode.Name,
		"score", result.Score,
	)

	return &ScheduleBakeResult{
		NodeID: result.SelectedNodeID,
		Node:   result.SelectedNode,
		Score:  result.Score,
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

// countActiveBakes tallies building bakes per node. Queued bakes have no
// node assigned yet and do not occupy a slot.
func (s *Service) countActiveBakes(ctx context.Context) (map[string]int, error) {
	building, err := s.store.ListBakesByStatus(ctx, domain.BakeStatusBuilding, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list building bakes: %w", err)
	}

	counts := make(map[string]int, len(building))
	for _, b := range building {
		if b.NodeID != "" {
			counts[b.NodeID]++
		}
	}
	return counts, nil
}
