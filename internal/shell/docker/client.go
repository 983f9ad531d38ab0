package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultBuildTimeout bounds a single image build. Package installs pull
// from the network, so builds dominated by pip can run for minutes.
const DefaultBuildTimeout = 15 * time.Minute

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli          *client.Client
	buildTimeout time.Duration
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	// Try to ping with default settings
	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2, buildTimeout: DefaultBuildTimeout}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli, buildTimeout: DefaultBuildTimeout}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping() error {
	ctx := context.Background()
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds an image from the given context tar. The full daemon
// output is captured into the returned BuildResult.Log, including on
// failure, so baking errors stay diagnosable.
func (d *DockerClient) BuildImage(contextTar []byte, spec BuildSpec) (*BuildResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.buildTimeout)
	defer cancel()

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = DockerfileName
	}

	opts := build.ImageBuildOptions{
		Tags:        spec.Tags,
		Dockerfile:  dockerfile,
		Labels:      spec.Labels,
		NoCache:     spec.NoCache,
		Remove:      true,
		ForceRemove: true,
	}

	resp, err := d.cli.ImageBuild(ctx, bytes.NewReader(contextTar), opts)
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", firstTag(spec.Tags), err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	// The daemon streams progress as JSON messages. Collect the build log
	// and surface the first error message verbatim.
	var log strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return &BuildResult{Log: log.String()},
				NewDockerError("BuildImage", "image", firstTag(spec.Tags), "decode build output: "+err.Error(), ErrImageBuildFailed)
		}
		if msg.Stream != "" {
			log.WriteString(msg.Stream)
		}
		if msg.Status != "" {
			log.WriteString(msg.Status + "\n")
		}
		if msg.Error != nil {
			return &BuildResult{Log: log.String()},
				NewDockerError("BuildImage", "image", firstTag(spec.Tags), msg.Error.Message, ErrImageBuildFailed)
		}
	}

	result := &BuildResult{Log: log.String()}
	if len(spec.Tags) > 0 {
		if inspect, _, err := d.cli.ImageInspectWithRaw(ctx, spec.Tags[0]); err == nil {
			result.ImageID = inspect.ID
		}
	}
	return result, nil
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(imageName string) (bool, error) {
	ctx := context.Background()

	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ImageExists", "image", imageName, err.Error(), err)
	}

	return true, nil
}

// RemoveImage removes an image.
func (d *DockerClient) RemoveImage(imageName string, force bool) error {
	ctx := context.Background()

	_, err := d.cli.ImageRemove(ctx, imageName, image.RemoveOptions{
		Force:         force,
		PruneChildren: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		if strings.Contains(err.Error(), "is being used") || strings.Contains(err.Error(), "image is in use") {
			return NewDockerError("RemoveImage", "image", imageName, "image is in use by a container", ErrImageInUse)
		}
		return NewDockerError("RemoveImage", "image", imageName, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// RunContainer creates and starts a container from the spec, waits for it to
// exit, and returns its exit code and combined output. The image's default
// command runs unmodified with no restart policy, so the script executes
// exactly once. The exited container is left in place for inspection; the
// caller removes it.
func (d *DockerClient) RunContainer(spec ContainerSpec, timeout time.Duration) (*RunResult, error) {
	ctx := context.Background()

	containerID, err := d.createContainer(ctx, spec)
	if err != nil {
		return nil, err
	}

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		_ = d.RemoveContainer(containerID, RemoveOptions{Force: true})
		return nil, NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}

	exitCode, waitErr := d.waitContainer(ctx, containerID, timeout)

	result := &RunResult{ContainerID: containerID, ExitCode: exitCode}
	if output, logErr := d.collectOutput(containerID); logErr == nil {
		result.Output = output
	}

	if waitErr != nil {
		return result, waitErr
	}
	return result, nil
}

func (d *DockerClient) createContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// One-shot semantics: the daemon must never restart the container.
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if strings.HasPrefix(m.Source, "/") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return "", NewDockerError("RunContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if client.IsErrNotFound(err) {
			return "", NewDockerError("RunContainer", "image", spec.Image, "image not found", ErrImageNotFound)
		}
		return "", NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}
	return resp.ID, nil
}

// waitContainer blocks until the container stops or the timeout passes.
func (d *DockerClient) waitContainer(ctx context.Context, containerID string, timeout time.Duration) (int, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultCh, errCh := d.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case result := <-resultCh:
		if result.Error != nil {
			return int(result.StatusCode), NewDockerError("RunContainer", "container", containerID, result.Error.Message, ErrRunFailed)
		}
		return int(result.StatusCode), nil
	case err := <-errCh:
		if waitCtx.Err() != nil {
			stopTimeout := 5 * time.Second
			d.stopContainer(containerID, &stopTimeout)
			return -1, NewDockerError("RunContainer", "container", containerID, fmt.Sprintf("run exceeded %v", timeout), ErrTimeout)
		}
		return -1, NewDockerError("RunContainer", "container", containerID, err.Error(), err)
	}
}

func (d *DockerClient) stopContainer(containerID string, timeout *time.Duration) {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}
	_ = d.cli.ContainerStop(context.Background(), containerID, stopOptions)
}

// collectOutput reads the container's full log and demultiplexes the
// stdout/stderr stream into one string.
func (d *DockerClient) collectOutput(containerID string) (string, error) {
	reader, err := d.ContainerLogs(containerID, LogOptions{Tail: "all"})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, reader); err != nil {
		return "", err
	}
	return combined.String(), nil
}

// InspectContainer returns detailed information about a container.
func (d *DockerClient) InspectContainer(containerID string) (*ContainerInfo, error) {
	ctx := context.Background()

	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	var startedAt, finishedAt *time.Time
	if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
		startedAt = &t
	}
	if resp.State.FinishedAt != "" && resp.State.FinishedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.FinishedAt)
		finishedAt = &t
	}

	return &ContainerInfo{
		ID:         resp.ID,
		Name:       strings.TrimPrefix(resp.Name, "/"),
		Image:      resp.Config.Image,
		Status:     ContainerStatus(resp.State.Status),
		State:      resp.State.Status,
		CreatedAt:  createdAt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Labels:     resp.Config.Labels,
		ExitCode:   resp.State.ExitCode,
	}, nil
}

// ListContainers returns a list of containers matching the given options.
func (d *DockerClient) ListContainers(opts ListOptions) ([]ContainerInfo, error) {
	ctx := context.Background()

	listOpts := container.ListOptions{
		All: opts.All,
	}

	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), err)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			State:     c.State,
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// ContainerLogs returns logs from a container.
func (d *DockerClient) ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error) {
	ctx := context.Background()

	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}

	return reader, nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(containerID string, opts RemoveOptions) error {
	ctx := context.Background()

	removeOpts := container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	}

	err := d.cli.ContainerRemove(ctx, containerID, removeOpts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}
