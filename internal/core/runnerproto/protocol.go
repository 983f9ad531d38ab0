// Package runnerproto defines the protocol between the bakery backend and
// the runner binary installed on builder nodes.
//
// The runner binary is deployed to remote nodes and provides direct Docker
// SDK access. Communication happens via SSH exec with JSON input/output:
// the request is written to stdin, one Response comes back on stdout.
//
// This package contains pure types with no I/O.
package runnerproto

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Version Info
// =============================================================================

// Version is the current runner protocol version.
// Bump MAJOR for breaking changes, MINOR for new commands, PATCH for fixes.
const Version = "1.0.0"

// =============================================================================
// Commands
// =============================================================================

// Command names accepted by the runner binary.
const (
	CommandVersion     = "version"
	CommandPing        = "ping"
	CommandImageBuild  = "image-build"
	CommandImageExists = "image-exists"
	CommandImageRemove = "image-remove"
	CommandRun         = "run"
	CommandInspect     = "container-inspect"
	CommandList        = "container-list"
	CommandLogs        = "container-logs"
	CommandRemove      = "container-remove"
)

// =============================================================================
// Response Envelope
// =============================================================================

// Response is the standard envelope for all runner command responses.
// All commands return this structure as JSON to stdout.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details when Success is false.
type ErrorInfo struct {
	Command string `json:"command"`        // Command that failed
	Code    string `json:"code,omitempty"` // Error code (e.g., "not_found")
	Message string `json:"message"`        // Human-readable error message
}

// NewSuccessResponse creates a successful response with data.
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		rawData = bytes
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(command, code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorInfo{
			Command: command,
			Code:    code,
			Message: message,
		},
	}
}

// ParseResponse parses a JSON response from the runner.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

// UnmarshalData unmarshals the response data into the target type.
func (r *Response) UnmarshalData(target interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, target)
}

// =============================================================================
// Error Codes
// =============================================================================

// Standard error codes for runner responses.
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeBuildFailed      = "build_failed"
	ErrCodeRunFailed        = "run_failed"
	ErrCodeConnectionFailed = "connection_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodeInvalidInput     = "invalid_input"
	ErrCodeInternal         = "internal"
)

// =============================================================================
// Command Result Types
// =============================================================================

// VersionInfo is returned by the "version" command.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// PingInfo is returned by the "ping" command.
type PingInfo struct {
	DockerVersion string `json:"docker_version"`
	APIVersion    string `json:"api_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
}

// =============================================================================
// Build Types
// =============================================================================

// BuildRequest asks the runner to build an image from an in-band context.
// The context tar rides inside the JSON as base64; recipe contexts are a
// Dockerfile plus one script, so the payload stays small.
type BuildRequest struct {
	ContextTar []byte            `json:"context_tar"`
	Dockerfile string            `json:"dockerfile"` // path within the context
	Tags       []string          `json:"tags"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// BuildResult is returned by the "image-build" command.
type BuildResult struct {
	ImageID string `json:"image_id"`
	Log     string `json:"log,omitempty"`
}

// ImageExistsResult is returned by the "image-exists" command.
type ImageExistsResult struct {
	Exists bool `json:"exists"`
}

// =============================================================================
// Run Types
// =============================================================================

// Mount defines a bind mount for a run.
type Mount struct {
	Source   string `json:"source"` // host path
	Target   string `json:"target"` // container path
	ReadOnly bool   `json:"read_only,omitempty"`
}

// RunRequest asks the runner to run a baked image to completion. The
// container runs its default command exactly once: the runner never sets a
// restart policy or overrides the command.
type RunRequest struct {
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Env        map[string]string `json:"env,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Mounts     []Mount           `json:"mounts,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"` // 0 means no limit
}

// RunResult is returned by the "run" command once the container exits.
type RunResult struct {
	ContainerID string `json:"container_id"`
	ExitCode    int    `json:"exit_code"`
	Output      string `json:"output,omitempty"`
}

// LogsResult is returned by the "container-logs" command.
type LogsResult struct {
	Logs string `json:"logs"`
}

// ContainerInfo is returned by the "container-inspect" and "container-list"
// commands.
type ContainerInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	State      string            `json:"state"` // "running", "exited", "created", etc.
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// =============================================================================
// Options Types
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force bool `json:"force,omitempty"`
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              `json:"all,omitempty"`
	Filters map[string]string `json:"filters,omitempty"` // e.g., {"label": "com.bakery.managed=true"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Tail       string `json:"tail,omitempty"` // "all" or number
	Timestamps bool   `json:"timestamps,omitempty"`
}
