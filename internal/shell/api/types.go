package api

import (
	"time"

	"github.com/casebake/bakery/internal/core/provider"
	"github.com/casebake/bakery/internal/core/stats"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateRecipeRequest is the request body for creating a recipe. If Manifest
// is set it carries the whole recipe as YAML and the other fields are ignored.
type CreateRecipeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	BaseImage   string            `json:"base_image"`
	ScriptPath  string            `json:"script_path"`
	Packages    []string          `json:"packages,omitempty"`
	Interpreter string            `json:"interpreter,omitempty"`
	WorkDir     string            `json:"workdir,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Manifest    string            `json:"manifest,omitempty"`
}

// UpdateRecipeRequest is the request body for updating a recipe.
// Zero-valued fields are left unchanged.
type UpdateRecipeRequest struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	BaseImage   string            `json:"base_image,omitempty"`
	ScriptPath  string            `json:"script_path,omitempty"`
	Packages    []string          `json:"packages,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// BakeRecipeRequest is the request body for baking a recipe.
type BakeRecipeRequest struct {
	// Force queues a new bake even when a succeeded bake with the same
	// fingerprint already exists.
	Force bool `json:"force,omitempty"`
}

// CreateRunRequest is the request body for running a baked image. Exactly one
// of BakeID and RecipeID must be set; RecipeID runs the recipe's latest
// succeeded bake.
type CreateRunRequest struct {
	BakeID   string `json:"bake_id,omitempty"`
	RecipeID string `json:"recipe_id,omitempty"`
}

// CreateNodeRequest is the request body for registering a builder node.
type CreateNodeRequest struct {
	Name         string `json:"name"`
	SSHHost      string `json:"ssh_host"`
	SSHPort      int    `json:"ssh_port,omitempty"`
	SSHUser      string `json:"ssh_user"`
	SSHKeyID     string `json:"ssh_key_id,omitempty"`
	DockerSocket string `json:"docker_socket,omitempty"`
	Location     string `json:"location,omitempty"`
}

// UpdateNodeRequest is the request body for updating a node.
// Zero-valued fields are left unchanged.
type UpdateNodeRequest struct {
	Name         string `json:"name,omitempty"`
	SSHHost      string `json:"ssh_host,omitempty"`
	SSHPort      int    `json:"ssh_port,omitempty"`
	SSHUser      string `json:"ssh_user,omitempty"`
	SSHKeyID     string `json:"ssh_key_id,omitempty"`
	DockerSocket string `json:"docker_socket,omitempty"`
	Location     string `json:"location,omitempty"`
	Status       string `json:"status,omitempty"`
}

// CreateSSHKeyRequest is the request body for adding an SSH key. An empty
// PrivateKey generates a fresh ed25519 key pair server-side.
type CreateSSHKeyRequest struct {
	Name       string `json:"name"`
	PrivateKey string `json:"private_key,omitempty"`
}

// CreateCloudCredentialRequest is the request body for storing provider
// credentials. Credentials is the provider-specific credential document;
// it is validated, encrypted, and never returned.
type CreateCloudCredentialRequest struct {
	Name          string         `json:"name"`
	Provider      string         `json:"provider"`
	Credentials   map[string]any `json:"credentials"`
	DefaultRegion string         `json:"default_region,omitempty"`
}

// CreateCloudProvisionRequest is the request body for provisioning a builder
// VM. Region and Size fall back to the credential's default region and the
// provider's default size.
type CreateCloudProvisionRequest struct {
	CredentialID string `json:"credential_id"`
	InstanceName string `json:"instance_name"`
	Region       string `json:"region,omitempty"`
	Size         string `json:"size,omitempty"`
}

// StatsSummaryRequest is the request body for summarizing a case series.
// An empty CSV falls back to the server's configured case series file.
type StatsSummaryRequest struct {
	CSV            string  `json:"csv,omitempty"`
	RegionalOffset float64 `json:"regional_offset,omitempty"`
}

// StatsForecastRequest is the request body for forecasting a case series.
// Until bounds the forecast by date (YYYY-MM-DD); Days by day count.
// Exactly one of the two must be set.
type StatsForecastRequest struct {
	CSV            string  `json:"csv,omitempty"`
	RegionalOffset float64 `json:"regional_offset,omitempty"`
	Until          string  `json:"until,omitempty"`
	Days           int     `json:"days,omitempty"`
}

// StatsTriggerRequest is the request body for finding the date the modeled
// moving average falls below a threshold.
type StatsTriggerRequest struct {
	CSV            string  `json:"csv,omitempty"`
	RegionalOffset float64 `json:"regional_offset,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// RecipeResponse is the response for recipe operations.
type RecipeResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description,omitempty"`
	BaseImage   string            `json:"base_image"`
	ScriptPath  string            `json:"script_path"`
	Packages    []string          `json:"packages"`
	Interpreter string            `json:"interpreter"`
	WorkDir     string            `json:"workdir"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// BakeResponse is the response for bake operations.
type BakeResponse struct {
	ID          string     `json:"id"`
	RecipeID    string     `json:"recipe_id"`
	Status      string     `json:"status"`
	Fingerprint string     `json:"fingerprint"`
	ImageTag    string     `json:"image_tag"`
	NodeID      string     `json:"node_id,omitempty"`
	BuildLog    string     `json:"build_log,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunResponse is the response for run operations. Output is only available
// through the logs endpoint.
type RunResponse struct {
	ID          string     `json:"id"`
	BakeID      string     `json:"bake_id"`
	RecipeID    string     `json:"recipe_id"`
	Status      string     `json:"status"`
	ContainerID string     `json:"container_id,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NodeResponse is the response for node operations.
type NodeResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SSHHost         string     `json:"ssh_host"`
	SSHPort         int        `json:"ssh_port"`
	SSHUser         string     `json:"ssh_user"`
	SSHKeyID        string     `json:"ssh_key_id,omitempty"`
	DockerSocket    string     `json:"docker_socket"`
	Status          string     `json:"status"`
	Location        string     `json:"location,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SSHKeyResponse is the response for SSH key operations. The private key
// stays server-side; only the public half is ever returned.
type SSHKeyResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PublicKey   string    `json:"public_key"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// CloudCredentialResponse is the response for cloud credential operations.
// The credential document itself is never returned.
type CloudCredentialResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Provider      string    `json:"provider"`
	DefaultRegion string    `json:"default_region,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CloudProvisionResponse is the response for cloud provision operations.
type CloudProvisionResponse struct {
	ID                 string     `json:"id"`
	CredentialID       string     `json:"credential_id"`
	Provider           string     `json:"provider"`
	Status             string     `json:"status"`
	InstanceName       string     `json:"instance_name"`
	Region             string     `json:"region"`
	Size               string     `json:"size"`
	ProviderInstanceID string     `json:"provider_instance_id,omitempty"`
	PublicIP           string     `json:"public_ip,omitempty"`
	NodeID             string     `json:"node_id,omitempty"`
	SSHKeyID           string     `json:"ssh_key_id,omitempty"`
	CurrentStep        string     `json:"current_step,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// ListRecipesResponse is the response for listing recipes.
type ListRecipesResponse struct {
	Recipes []RecipeResponse `json:"recipes"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListBakesResponse is the response for listing bakes.
type ListBakesResponse struct {
	Bakes  []BakeResponse `json:"bakes"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []RunResponse `json:"runs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListNodesResponse is the response for listing nodes.
type ListNodesResponse struct {
	Nodes  []NodeResponse `json:"nodes"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListSSHKeysResponse is the response for listing SSH keys.
type ListSSHKeysResponse struct {
	SSHKeys []SSHKeyResponse `json:"ssh_keys"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListCloudCredentialsResponse is the response for listing cloud credentials.
type ListCloudCredentialsResponse struct {
	CloudCredentials []CloudCredentialResponse `json:"cloud_credentials"`
	Total            int                       `json:"total"`
	Limit            int                       `json:"limit"`
	Offset           int                       `json:"offset"`
}

// ListCloudProvisionsResponse is the response for listing cloud provisions.
type ListCloudProvisionsResponse struct {
	CloudProvisions []CloudProvisionResponse `json:"cloud_provisions"`
	Total           int                      `json:"total"`
	Limit           int                      `json:"limit"`
	Offset          int                      `json:"offset"`
}

// RegionsResponse is the response for listing a credential's regions.
type RegionsResponse struct {
	Provider string            `json:"provider"`
	Regions  []provider.Region `json:"regions"`
}

// SizesResponse is the response for listing a credential's instance sizes.
type SizesResponse struct {
	Provider string                  `json:"provider"`
	Sizes    []provider.InstanceSize `json:"sizes"`
}

// StatsSummaryResponse is the response for the case series summary.
// Series are ordered newest first.
type StatsSummaryResponse struct {
	Days             int           `json:"days"`
	Newest           time.Time     `json:"newest"`
	Oldest           time.Time     `json:"oldest"`
	MovingAverage    []stats.Point `json:"moving_average"`
	MovingStd        []stats.Point `json:"moving_std"`
	ReproductionRate []stats.Point `json:"reproduction_rate"`
}

// StatsForecastResponse is the response for a case series forecast.
type StatsForecastResponse struct {
	Newest      time.Time          `json:"newest"`
	Predictions []stats.Prediction `json:"predictions"`
}

// StatsTriggerResponse is the response for a trigger date query.
type StatsTriggerResponse struct {
	Threshold float64   `json:"threshold"`
	Date      time.Time `json:"date"`
	DaysOut   int       `json:"days_out"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
