// Package docker provides Docker clients for baking recipe images and
// running them to completion, either against a local daemon or a remote
// builder node via SSH.
package docker

import (
	"io"
	"time"
)

// =============================================================================
// Build Types
// =============================================================================

// BuildSpec defines the specification for building an image. The build
// context tar is passed separately.
type BuildSpec struct {
	Tags       []string
	Dockerfile string // path of the Dockerfile within the context
	Labels     map[string]string
	NoCache    bool
}

// BuildResult contains the outcome of an image build.
type BuildResult struct {
	ImageID string
	Log     string // full daemon build output
}

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for a one-shot run.
//
// There is deliberately no command or entrypoint field: a baked image's
// default command is the recipe's script invocation, and runs always
// execute it as-is.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	Mounts []VolumeMount
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RunResult contains the outcome of a one-shot container run.
type RunResult struct {
	ContainerID string
	ExitCode    int
	Output      string // combined stdout/stderr
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	State      string // "running", "exited", "created", etc.
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Labels     map[string]string
	ExitCode   int
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.bakery.run=xyz"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the Docker surface bakes and runs need. Implemented by
// DockerClient for a local daemon and SSHRunnerClient for remote nodes.
type Client interface {
	// Image operations
	BuildImage(contextTar []byte, spec BuildSpec) (*BuildResult, error)
	ImageExists(imageName string) (bool, error)
	RemoveImage(imageName string, force bool) error

	// Container operations
	RunContainer(spec ContainerSpec, timeout time.Duration) (*RunResult, error)
	InspectContainer(containerID string) (*ContainerInfo, error)
	ListContainers(opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error)
	RemoveContainer(containerID string, opts RemoveOptions) error

	// Health operations
	Ping() error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged     = "com.bakery.managed"
	LabelRecipe      = "com.bakery.recipe"
	LabelBake        = "com.bakery.bake"
	LabelRun         = "com.bakery.run"
	LabelFingerprint = "com.bakery.fingerprint"
)
