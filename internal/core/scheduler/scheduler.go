// Package scheduler provides the pure bake placement algorithm.
// This is part of the Functional Core - all functions are pure with no I/O.
package scheduler

import (
	"errors"
	"sort"
	"time"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Scheduler Errors
// =============================================================================

var (
	// ErrNoNodesAvailable is returned when no node is online to take the bake.
	ErrNoNodesAvailable = errors.New("no nodes available for this bake")

	// ErrAllNodesBusy is returned when every online node is at its bake limit.
	ErrAllNodesBusy = errors.New("all nodes are at their concurrent bake limit")
)

// =============================================================================
// Placement Constants
// =============================================================================

// DefaultMaxBakesPerNode caps concurrent image builds per node. Builds are
// CPU and I/O heavy; four at once already saturates a small instance.
const DefaultMaxBakesPerNode = 4

// healthDecayWindow is how long after a passed health check a node's
// freshness contribution takes to decay to zero.
const healthDecayWindow = 10 * time.Minute

// =============================================================================
// Placement Request
// =============================================================================

// ScheduleRequest contains all information needed to place a bake on a node.
type ScheduleRequest struct {
	// AvailableNodes is the list of all nodes to consider
	AvailableNodes []domain.Node

	// ActiveBakes maps node ID to the number of bakes currently building on it
	ActiveBakes map[string]int

	// MaxBakesPerNode caps concurrent bakes per node (0 = DefaultMaxBakesPerNode)
	MaxBakesPerNode int

	// Now anchors health-recency scoring. A zero Now disables the recency
	// component and placement falls back to load alone.
	Now time.Time
}

// =============================================================================
// Placement Result
// =============================================================================

// ScheduleResult contains the result of the placement algorithm.
type ScheduleResult struct {
	// SelectedNodeID is the ID of the best node, empty if none found
	SelectedNodeID string

	// SelectedNode is a copy of the selected node, nil if none found
	SelectedNode *domain.Node

	// Score is the score of the selected node (0-100)
	Score float64

	// ConsideredCount is the number of nodes that were considered
	ConsideredCount int

	// FilteredOutReasons tracks why nodes were filtered out
	FilteredOutReasons map[string]int
}

// =============================================================================
// Node Candidate (internal)
// =============================================================================

// nodeCandidate is a node with its computed score.
type nodeCandidate struct {
	node  domain.Node
	score float64
}

// =============================================================================
// Placement Algorithm
// =============================================================================

// Schedule selects the best node for a bake based on the request.
// Returns the result with the selected node ID, or an error if no suitable
// node was found.
//
// Algorithm:
// 1. Filter nodes to only ONLINE nodes
// 2. Filter nodes with a free build slot under MaxBakesPerNode
// 3. Score remaining nodes by free slots and health recency (higher is better)
// 4. Return highest-scoring node
func Schedule(req ScheduleRequest) (*ScheduleResult, error) {
	if req.MaxBakesPerNode <= 0 {
		req.MaxBakesPerNode = DefaultMaxBakesPerNode
	}

	result := &ScheduleResult{
		FilteredOutReasons: make(map[string]int),
	}

	if len(req.AvailableNodes) == 0 {
		return result, ErrNoNodesAvailable
	}

	var candidates []nodeCandidate

	for _, node := range req.AvailableNodes {
		result.ConsideredCount++

		// Step 1: Must be online
		if !node.IsAvailable() {
			result.FilteredOutReasons["not_online"]++
			continue
		}

		// Step 2: Must have a free build slot
		if req.ActiveBakes[node.ID] >= req.MaxBakesPerNode {
			result.FilteredOutReasons["at_capacity"]++
			continue
		}

		// Node passed all filters, calculate score
		score := ScoreNode(node, req.ActiveBakes[node.ID], req.MaxBakesPerNode, req.Now)
		candidates = append(candidates, nodeCandidate{
			node:  node,
			score: score,
		})
	}

	if len(candidates) == 0 {
		// Determine the most appropriate error based on filter reasons
		if result.FilteredOutReasons["at_capacity"] > 0 {
			return result, ErrAllNodesBusy
		}
		return result, ErrNoNodesAvailable
	}

	// Sort by score descending (highest first)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Select the best node
	best := candidates[0]
	result.SelectedNodeID = best.node.ID
	result.SelectedNode = &best.node
	result.Score = best.score

	return result, nil
}

// =============================================================================
// Scoring Algorithm
// =============================================================================

// ScoreNode calculates a score for a node based on free build slots and
// health-check recency. Higher scores indicate better candidates.
// Score range: 0-100
//
// Formula (weighted average):
//   - Free build slots: 70% weight (builds are CPU and I/O heavy)
//   - Health recency: 30% weight (prefers nodes verified alive recently)
func ScoreNode(node domain.Node, activeBakes, maxBakesPerNode int, now time.Time) float64 {
	if maxBakesPerNode <= 0 {
		maxBakesPerNode = DefaultMaxBakesPerNode
	}

	// Percentage of build slots that remain free
	slotPercent := (float64(maxBakesPerNode-activeBakes) / float64(maxBakesPerNode)) * 100
	if slotPercent < 0 {
		slotPercent = 0
	}
	if slotPercent > 100 {
		slotPercent = 100
	}

	healthPercent := healthFreshness(node, now) * 100

	// Weighted average: free slots matter most for build throughput
	score := slotPercent*0.7 + healthPercent*0.3

	return score
}

// healthFreshness returns 0..1 for how recently the node passed a health
// check, decaying linearly to zero over healthDecayWindow. Nodes never
// checked score zero.
func healthFreshness(node domain.Node, now time.Time) float64 {
	if now.IsZero() || node.LastHealthCheck == nil {
		return 0
	}

	age := now.Sub(*node.LastHealthCheck)
	if age <= 0 {
		return 1
	}
	if age >= healthDecayWindow {
		return 0
	}
	return 1 - float64(age)/float64(healthDecayWindow)
}

// =============================================================================
// Helper Functions
// =============================================================================

// FilterOnlineNodes returns only the online nodes from the list.
func FilterOnlineNodes(nodes []domain.Node) []domain.Node {
	result := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsAvailable() {
			result = append(result, n)
		}
	}
	return result
}

// FilterByLoad returns nodes with at least one free build slot.
func FilterByLoad(nodes []domain.Node, activeBakes map[string]int, maxBakesPerNode int) []domain.Node {
	if maxBakesPerNode <= 0 {
		maxBakesPerNode = DefaultMaxBakesPerNode
	}

	result := make([]domain.Node, 0, len(nodes))
	for _, n := range nodes {
		if activeBakes[n.ID] < maxBakesPerNode {
			result = append(result, n)
		}
	}
	return result
}

// SortByScore sorts nodes by their score (highest first).
func SortByScore(nodes []domain.Node, activeBakes map[string]int, maxBakesPerNode int, now time.Time) []domain.Node {
	result := make([]domain.Node, len(nodes))
	copy(result, nodes)

	sort.Slice(result, func(i, j int) bool {
		scoreI := ScoreNode(result[i], activeBakes[result[i].ID], maxBakesPerNode, now)
		scoreJ := ScoreNode(result[j], activeBakes[result[j].ID], maxBakesPerNode, now)
		return scoreI > scoreJ
	})

	return result
}
