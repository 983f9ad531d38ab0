package store

import (
	"context"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for bakery entities.
type Store interface {
	// Recipe operations
	CreateRecipe(ctx context.Context, recipe *domain.Recipe) error
	GetRecipe(ctx context.Context, id string) (*domain.Recipe, error)
	GetRecipeBySlug(ctx context.Context, slug string) (*domain.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *domain.Recipe) error
	DeleteRecipe(ctx context.Context, id string) error
	ListRecipes(ctx context.Context, opts ListOptions) ([]domain.Recipe, error)

	// Bake operations
	CreateBake(ctx context.Context, bake *domain.Bake) error
	GetBake(ctx context.Context, id string) (*domain.Bake, error)
	UpdateBake(ctx context.Context, bake *domain.Bake) error
	ListBakes(ctx context.Context, opts ListOptions) ([]domain.Bake, error)
	ListBakesByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Bake, error)
	ListBakesByStatus(ctx context.Context, status domain.BakeStatus, limit int) ([]domain.Bake, error)
	GetLatestSucceededBake(ctx context.Context, recipeID string) (*domain.Bake, error)
	GetBakeByFingerprint(ctx context.Context, recipeID, fingerprint string) (*domain.Bake, error)
	CountActiveBakes(ctx context.Context, recipeID string) (int, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error)
	ListRunsByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Run, error)
	ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)
	ListActiveRunIDs(ctx context.Context) ([]string, error)

	// Node operations (remote builder nodes)
	CreateNode(ctx context.Context, node *domain.Node) error
	GetNode(ctx context.Context, id string) (*domain.Node, error)
	GetNodeByName(ctx context.Context, name string) (*domain.Node, error)
	UpdateNode(ctx context.Context, node *domain.Node) error
	DeleteNode(ctx context.Context, id string) error
	ListNodes(ctx context.Context, opts ListOptions) ([]domain.Node, error)
	ListOnlineNodes(ctx context.Context) ([]domain.Node, error)
	ListCheckableNodes(ctx context.Context) ([]domain.Node, error) // Returns nodes not in maintenance mode

	// SSH Key operations
	CreateSSHKey(ctx context.Context, key *domain.SSHKey) error
	GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error)
	DeleteSSHKey(ctx context.Context, id string) error
	ListSSHKeys(ctx context.Context, opts ListOptions) ([]domain.SSHKey, error)

	// Cloud Credential operations
	CreateCloudCredential(ctx context.Context, cred *domain.CloudCredential) error
	GetCloudCredential(ctx context.Context, id string) (*domain.CloudCredential, error)
	DeleteCloudCredential(ctx context.Context, id string) error
	ListCloudCredentials(ctx context.Context, opts ListOptions) ([]domain.CloudCredential, error)

	// Cloud Provision operations
	CreateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error
	GetCloudProvision(ctx context.Context, id string) (*domain.CloudProvision, error)
	UpdateCloudProvision(ctx context.Context, prov *domain.CloudProvision) error
	ListCloudProvisions(ctx context.Context, opts ListOptions) ([]domain.CloudProvision, error)
	ListActiveProvisions(ctx context.Context) ([]domain.CloudProvision, error)
	ListCloudProvisionsByCredential(ctx context.Context, credentialID string) ([]domain.CloudProvision, error)

	// Dependency lookups (for safe deletion checks)
	ListBakesByNode(ctx context.Context, nodeID string) ([]domain.Bake, error)
	ListNodesBySSHKey(ctx context.Context, sshKeyID string) ([]domain.Node, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
