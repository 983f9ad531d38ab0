package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/core/runnerproto"
)

// DefaultRunTimeout bounds a one-shot run when the caller passes none.
// Remote runs always carry a limit so SSH sessions cannot hang forever.
const DefaultRunTimeout = 30 * time.Minute

// SSHRunnerClient implements the Client interface by executing runner
// commands via SSH. The runner binary must be deployed to the remote node.
type SSHRunnerClient struct {
	node       *domain.Node
	sshClient  *ssh.Client
	signer     ssh.Signer
	runnerPath string        // Path to runner binary on remote node
	timeout    time.Duration // Command timeout for quick commands
	buildWait  time.Duration // Timeout for image builds
	mu         sync.Mutex    // Protects sshClient
}

// SSHClientConfig configures the SSH runner client.
type SSHClientConfig struct {
	RunnerPath     string        // Default: ~/.bakery/runner
	CommandTimeout time.Duration // Default: 30 seconds
	BuildTimeout   time.Duration // Default: 15 minutes
	ConnectTimeout time.Duration // Default: 10 seconds
}

// DefaultSSHClientConfig returns the default configuration.
func DefaultSSHClientConfig() SSHClientConfig {
	return SSHClientConfig{
		RunnerPath:     "~/.bakery/runner",
		CommandTimeout: 30 * time.Second,
		BuildTimeout:   DefaultBuildTimeout,
		ConnectTimeout: 10 * time.Second,
	}
}

// NewSSHRunnerClient creates a new SSH-based Docker client.
// The privateKey should be the decrypted SSH private key.
func NewSSHRunnerClient(node *domain.Node, privateKey []byte, config SSHClientConfig) (*SSHRunnerClient, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if config.RunnerPath == "" {
		config.RunnerPath = "~/.bakery/runner"
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 30 * time.Second
	}
	if config.BuildTimeout == 0 {
		config.BuildTimeout = DefaultBuildTimeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	return &SSHRunnerClient{
		node:       node,
		signer:     signer,
		runnerPath: config.RunnerPath,
		timeout:    config.CommandTimeout,
		buildWait:  config.BuildTimeout,
	}, nil
}

// =============================================================================
// Connection Management
// =============================================================================

// connect establishes SSH connection if not already connected.
func (c *SSHRunnerClient) connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		// Check if connection is still alive
		_, _, err := c.sshClient.SendRequest("keepalive@bakery", true, nil)
		if err == nil {
			return nil
		}
		// Connection dead, reconnect
		c.sshClient.Close()
		c.sshClient = nil
	}

	config := &ssh.ClientConfig{
		User:            c.node.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Store and verify host keys
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(c.node.SSHHost, strconv.Itoa(c.node.SSHPort))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	c.sshClient = client
	return nil
}

// Close closes the SSH connection.
func (c *SSHRunnerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		err := c.sshClient.Close()
		c.sshClient = nil
		return err
	}
	return nil
}

// =============================================================================
// Runner Deployment
// =============================================================================

// EnsureRunner ensures the runner binary is deployed and up-to-date on the
// remote node. It checks if the runner exists and matches the expected
// version, uploading if needed.
func (c *SSHRunnerClient) EnsureRunner(ctx context.Context, runnerBinary []byte, expectedVersion string) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	currentVersion, err := c.getRunnerVersion(ctx)
	if err == nil && currentVersion == expectedVersion {
		return nil
	}

	return c.deployRunner(ctx, runnerBinary)
}

// AutoEnsureRunner deploys the embedded runner binary matching the node's
// architecture when the remote copy is missing or outdated.
func (c *SSHRunnerClient) AutoEnsureRunner(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	arch, err := c.remoteArch(ctx)
	if err != nil {
		return fmt.Errorf("detect remote architecture: %w", err)
	}

	binary, err := GetRunnerBinary("linux", arch)
	if err != nil {
		return err
	}

	return c.EnsureRunner(ctx, binary, RunnerVersion)
}

// remoteArch maps the node's `uname -m` output to a Go architecture name.
func (c *SSHRunnerClient) remoteArch(ctx context.Context) (string, error) {
	c.mu.Lock()
	session, err := c.sshClient.NewSession()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() {
		done <- session.Run("uname -m")
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Second):
		return "", fmt.Errorf("timeout detecting architecture")
	case err := <-done:
		if err != nil {
			return "", err
		}
	}

	machine := strings.TrimSpace(stdout.String())
	switch machine {
	case "x86_64", "amd64":
		return "amd64", nil
	case "aarch64", "arm64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", machine)
	}
}

// getRunnerVersion returns the version of the runner binary on the remote node.
func (c *SSHRunnerClient) getRunnerVersion(ctx context.Context) (string, error) {
	c.mu.Lock()
	session, err := c.sshClient.NewSession()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() {
		done <- session.Run(c.runnerPath + " " + runnerproto.CommandVersion)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "", fmt.Errorf("timeout checking runner version")
	case err := <-done:
		if err != nil {
			return "", err
		}
	}

	resp, err := runnerproto.ParseResponse(stdout.Bytes())
	if err != nil {
		return "", err
	}

	if !resp.Success {
		return "", fmt.Errorf("runner version check failed")
	}

	var version runnerproto.VersionInfo
	if err := resp.UnmarshalData(&version); err != nil {
		return "", err
	}

	return version.Version, nil
}

// deployRunner uploads the runner binary to the remote node.
func (c *SSHRunnerClient) deployRunner(ctx context.Context, binary []byte) error {
	c.mu.Lock()
	session, err := c.sshClient.NewSession()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	runnerDir := "~/.bakery"
	runnerPath := runnerDir + "/runner"

	// Create directory and write file using cat.
	// This avoids issues with tilde expansion.
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod +x %s", runnerDir, runnerPath, runnerPath)

	session.Stdin = bytes.NewReader(binary)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(60 * time.Second): // Allow more time for upload
		return fmt.Errorf("timeout deploying runner binary")
	case err := <-done:
		if err != nil {
			return fmt.Errorf("deploy runner: %w", err)
		}
	}

	return nil
}

// =============================================================================
// Runner Execution
// =============================================================================

// execRunner executes a runner command via SSH and returns the response.
// wait bounds how long the command may run before the session is abandoned.
func (c *SSHRunnerClient) execRunner(ctx context.Context, command string, args []string, input any, wait time.Duration) (*runnerproto.Response, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	session, err := c.sshClient.NewSession()
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	cmdParts := []string{c.runnerPath, command}
	cmdParts = append(cmdParts, args...)
	cmdStr := strings.Join(cmdParts, " ")

	if input != nil {
		inputJSON, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		session.Stdin = bytes.NewReader(inputJSON)
	}

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, fmt.Errorf("command timeout after %v", wait)
	case err := <-done:
		// Parse response even if there was an exit error - the runner writes JSON errors
		resp, parseErr := runnerproto.ParseResponse(stdout.Bytes())
		if parseErr != nil {
			if err != nil {
				return nil, fmt.Errorf("command failed: %w, output: %s", err, stdout.String())
			}
			return nil, fmt.Errorf("parse response: %w", parseErr)
		}
		return resp, nil
	}
}

// translateError converts a runner error to a Docker error.
func (c *SSHRunnerClient) translateError(errInfo *runnerproto.ErrorInfo) error {
	switch errInfo.Code {
	case runnerproto.ErrCodeNotFound:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrContainerNotFound)
	case runnerproto.ErrCodeAlreadyExists:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrContainerAlreadyExists)
	case runnerproto.ErrCodeBuildFailed:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrImageBuildFailed)
	case runnerproto.ErrCodeRunFailed:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrRunFailed)
	case runnerproto.ErrCodeConnectionFailed:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrConnectionFailed)
	case runnerproto.ErrCodeTimeout:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, ErrTimeout)
	default:
		return NewDockerError(errInfo.Command, "", "", errInfo.Message, nil)
	}
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds an image on the remote node. The context tar travels
// inside the request JSON; recipe contexts hold a Dockerfile and one
// script, so the payload stays small.
func (c *SSHRunnerClient) BuildImage(contextTar []byte, spec BuildSpec) (*BuildResult, error) {
	ctx := context.Background()

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = DockerfileName
	}

	req := runnerproto.BuildRequest{
		ContextTar: contextTar,
		Dockerfile: dockerfile,
		Tags:       spec.Tags,
		Labels:     spec.Labels,
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandImageBuild, nil, req, c.buildWait)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		// Build failures carry the partial log in the data payload.
		var result runnerproto.BuildResult
		_ = resp.UnmarshalData(&result)
		return &BuildResult{ImageID: result.ImageID, Log: result.Log}, c.translateError(resp.Error)
	}

	var result runnerproto.BuildResult
	if err := resp.UnmarshalData(&result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &BuildResult{ImageID: result.ImageID, Log: result.Log}, nil
}

// ImageExists checks if an image exists on the remote node.
func (c *SSHRunnerClient) ImageExists(imageName string) (bool, error) {
	ctx := context.Background()

	resp, err := c.execRunner(ctx, runnerproto.CommandImageExists, []string{imageName}, nil, c.timeout)
	if err != nil {
		return false, err
	}

	if !resp.Success {
		return false, c.translateError(resp.Error)
	}

	var result runnerproto.ImageExistsResult
	if err := resp.UnmarshalData(&result); err != nil {
		return false, fmt.Errorf("unmarshal result: %w", err)
	}
	return result.Exists, nil
}

// RemoveImage removes an image from the remote node.
func (c *SSHRunnerClient) RemoveImage(imageName string, force bool) error {
	ctx := context.Background()

	args := []string{imageName}
	if force {
		args = append(args, "--force")
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandImageRemove, args, nil, c.timeout)
	if err != nil {
		return err
	}

	if !resp.Success {
		return c.translateError(resp.Error)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// RunContainer runs a baked image to completion on the remote node. The
// runner enforces the timeout daemon-side; the SSH session waits slightly
// longer so the runner's own timeout error comes back first.
func (c *SSHRunnerClient) RunContainer(spec ContainerSpec, timeout time.Duration) (*RunResult, error) {
	ctx := context.Background()

	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	req := runnerproto.RunRequest{
		Name:       spec.Name,
		Image:      spec.Image,
		Env:        spec.Env,
		Labels:     spec.Labels,
		TimeoutSec: int(timeout.Seconds()),
	}
	for _, m := range spec.Mounts {
		req.Mounts = append(req.Mounts, runnerproto.Mount{
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandRun, nil, req, timeout+30*time.Second)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		// Failed runs still carry the container ID and output when known.
		var result runnerproto.RunResult
		_ = resp.UnmarshalData(&result)
		return &RunResult{ContainerID: result.ContainerID, ExitCode: result.ExitCode, Output: result.Output},
			c.translateError(resp.Error)
	}

	var result runnerproto.RunResult
	if err := resp.UnmarshalData(&result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &RunResult{ContainerID: result.ContainerID, ExitCode: result.ExitCode, Output: result.Output}, nil
}

// InspectContainer returns information about a container on the remote node.
func (c *SSHRunnerClient) InspectContainer(containerID string) (*ContainerInfo, error) {
	ctx := context.Background()

	resp, err := c.execRunner(ctx, runnerproto.CommandInspect, []string{containerID}, nil, c.timeout)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, c.translateError(resp.Error)
	}

	var info runnerproto.ContainerInfo
	if err := resp.UnmarshalData(&info); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	return fromRunnerContainerInfo(&info), nil
}

// ListContainers lists containers on the remote node.
func (c *SSHRunnerClient) ListContainers(opts ListOptions) ([]ContainerInfo, error) {
	ctx := context.Background()

	rOpts := runnerproto.ListOptions{
		All:     opts.All,
		Filters: opts.Filters,
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandList, nil, rOpts, c.timeout)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, c.translateError(resp.Error)
	}

	var infos []runnerproto.ContainerInfo
	if err := resp.UnmarshalData(&infos); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	result := make([]ContainerInfo, 0, len(infos))
	for _, info := range infos {
		result = append(result, *fromRunnerContainerInfo(&info))
	}
	return result, nil
}

// ContainerLogs returns logs from a container on the remote node.
func (c *SSHRunnerClient) ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error) {
	ctx := context.Background()

	rOpts := runnerproto.LogOptions{
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandLogs, []string{containerID}, rOpts, c.timeout)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, c.translateError(resp.Error)
	}

	var result runnerproto.LogsResult
	if err := resp.UnmarshalData(&result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	return io.NopCloser(strings.NewReader(result.Logs)), nil
}

// RemoveContainer removes a container from the remote node.
func (c *SSHRunnerClient) RemoveContainer(containerID string, opts RemoveOptions) error {
	ctx := context.Background()

	rOpts := runnerproto.RemoveOptions{
		Force: opts.Force,
	}

	resp, err := c.execRunner(ctx, runnerproto.CommandRemove, []string{containerID}, rOpts, c.timeout)
	if err != nil {
		return err
	}

	if !resp.Success {
		return c.translateError(resp.Error)
	}
	return nil
}

// =============================================================================
// Health Operations
// =============================================================================

// Ping checks if the Docker daemon on the remote node is reachable.
func (c *SSHRunnerClient) Ping() error {
	ctx := context.Background()

	resp, err := c.execRunner(ctx, runnerproto.CommandPing, nil, nil, c.timeout)
	if err != nil {
		return err
	}

	if !resp.Success {
		return c.translateError(resp.Error)
	}
	return nil
}

// =============================================================================
// Type Conversions
// =============================================================================

// fromRunnerContainerInfo converts runner ContainerInfo to our format.
func fromRunnerContainerInfo(info *runnerproto.ContainerInfo) *ContainerInfo {
	return &ContainerInfo{
		ID:         info.ID,
		Name:       info.Name,
		Image:      info.Image,
		Status:     ContainerStatus(info.State),
		State:      info.State,
		CreatedAt:  info.CreatedAt,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
		Labels:     info.Labels,
		ExitCode:   info.ExitCode,
	}
}
