package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Bake Errors
// =============================================================================

var (
	ErrInvalidBakeStatus     = errors.New("invalid bake status")
	ErrInvalidBakeTransition = errors.New("invalid bake status transition")
	ErrRecipeIDRequired      = errors.New("recipe ID is required")
	ErrFingerprintRequired   = errors.New("fingerprint is required")
)

// =============================================================================
// Bake Status
// =============================================================================

// BakeStatus represents the lifecycle state of a bake.
type BakeStatus string

const (
	BakeStatusQueued    BakeStatus = "queued"
	BakeStatusBuilding  BakeStatus = "building"
	BakeStatusSucceeded BakeStatus = "succeeded"
	BakeStatusFailed    BakeStatus = "failed"
)

// IsValid checks if the bake status is valid.
func (s BakeStatus) IsValid() bool {
	switch s {
	case BakeStatusQueued, BakeStatusBuilding, BakeStatusSucceeded, BakeStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a final state.
func (s BakeStatus) IsTerminal() bool {
	return s == BakeStatusSucceeded || s == BakeStatusFailed
}

// validBakeTransitions defines the allowed status transitions.
var validBakeTransitions = map[BakeStatus][]BakeStatus{
	BakeStatusQueued:    {BakeStatusBuilding, BakeStatusFailed},
	BakeStatusBuilding:  {BakeStatusSucceeded, BakeStatusFailed},
	BakeStatusSucceeded: {},
	BakeStatusFailed:    {},
}

// ValidateBakeTransition checks if a status transition is allowed.
func ValidateBakeTransition(from, to BakeStatus) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidBakeStatus, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidBakeStatus, to)
	}
	for _, allowed := range validBakeTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidBakeTransition, from, to)
}

// =============================================================================
// Bake
// =============================================================================

// Bake is one build of a recipe. A bake records the recipe fingerprint at
// build time, the produced image tag, and the captured build log.
type Bake struct {
	ID          string     `json:"id"`
	RecipeID    string     `json:"recipe_id"`
	Status      BakeStatus `json:"status"`
	Fingerprint string     `json:"fingerprint"`
	ImageTag    string     `json:"image_tag"`
	NodeID      string     `json:"node_id,omitempty"`
	BuildLog    string     `json:"build_log,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// GenerateBakeID generates a new bake ID.
func GenerateBakeID() string {
	return "bake_" + uuid.New().String()[:8]
}

// NewBake creates a queued bake for a recipe fingerprint.
func NewBake(recipeID, slug, fingerprint string) (*Bake, error) {
	if recipeID == "" {
		return nil, ErrRecipeIDRequired
	}
	if fingerprint == "" {
		return nil, ErrFingerprintRequired
	}
	return &Bake{
		ID:          GenerateBakeID(),
		RecipeID:    recipeID,
		Status:      BakeStatusQueued,
		Fingerprint: fingerprint,
		ImageTag:    ImageTag(slug, fingerprint),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Transition moves the bake to a new status, validating the transition and
// stamping the started/finished timestamps.
func (b *Bake) Transition(to BakeStatus) error {
	if err := ValidateBakeTransition(b.Status, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	switch to {
	case BakeStatusBuilding:
		b.StartedAt = &now
	case BakeStatusSucceeded, BakeStatusFailed:
		b.FinishedAt = &now
	}
	b.Status = to
	return nil
}

// TransitionToFailed moves the bake to failed with an error message.
// Failure is reachable from any non-terminal state.
func (b *Bake) TransitionToFailed(message string) {
	now := time.Now().UTC()
	b.Status = BakeStatusFailed
	b.Error = message
	b.FinishedAt = &now
}

// =============================================================================
// Image Naming
// =============================================================================

// ImageRepoPrefix namespaces all baked images in the local daemon.
const ImageRepoPrefix = "bakery"

// ImageTag produces the image tag for a recipe slug and fingerprint.
// The tag embeds a truncated fingerprint so distinct recipe versions get
// distinct tags.
//
// Example:
//
//	ImageTag("corona-stats", "9f86d081884c...") // returns "bakery/corona-stats:9f86d081884c"
func ImageTag(slug, fingerprint string) string {
	version := fingerprint
	if len(version) > 12 {
		version = version[:12]
	}
	return fmt.Sprintf("%s/%s:%s", ImageRepoPrefix, slug, version)
}

// ContainerName produces a unique container name for a run of a bake.
//
// Example:
//
//	ContainerName("corona-stats", "run_a1b2c3d4") // returns "bakery-corona-stats-run_a1b2c3d4"
func ContainerName(slug, runID string) string {
	return fmt.Sprintf("%s-%s-%s", ImageRepoPrefix, slug, runID)
}
