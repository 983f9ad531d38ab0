package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/casebake/bakery/internal/core/runnerproto"
)

// maxLogBytes caps the log payload riding back in a JSON response.
const maxLogBytes = 64 * 1024

// errRunTimeout marks a run stopped by its deadline.
var errRunTimeout = &commandError{msg: "run timed out"}

// runCmd handles the "run" command.
// Reads RunRequest JSON from stdin, runs the image to completion, and
// returns the exit code and combined output. The image's default command
// runs untouched: no command override, no restart policy.
func runCmd() error {
	ctx := context.Background()

	var req runnerproto.RunRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		outputError(runnerproto.CommandRun, runnerproto.ErrCodeInvalidInput, "invalid JSON input: "+err.Error())
		return err
	}
	if req.Image == "" {
		outputError(runnerproto.CommandRun, runnerproto.ErrCodeInvalidInput, "image is required")
		return errInvalidArgs
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandRun, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	config := &container.Config{
		Image:  req.Image,
		Labels: req.Labels,
	}
	for k, v := range req.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// One-shot semantics: the daemon must never restart the container.
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	for _, m := range req.Mounts {
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

	created, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, req.Name)
	if err != nil {
		code := runnerproto.ErrCodeInternal
		if strings.Contains(err.Error(), "Conflict") {
			code = runnerproto.ErrCodeAlreadyExists
		} else if client.IsErrNotFound(err) {
			code = runnerproto.ErrCodeNotFound
		}
		outputError(runnerproto.CommandRun, code, err.Error())
		return err
	}
	containerID := created.ID

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
		outputError(runnerproto.CommandRun, runnerproto.ErrCodeRunFailed, err.Error())
		return err
	}

	exitCode, waitErr := waitForExit(ctx, cli, containerID, req.TimeoutSec)

	// Capture output whether the run finished or was stopped; failed runs
	// keep the container ID and partial output in the data payload.
	result := runnerproto.RunResult{ContainerID: containerID, ExitCode: exitCode}
	if output, logErr := collectOutput(ctx, cli, containerID); logErr == nil {
		result.Output = output
	}

	if waitErr != nil {
		code := runnerproto.ErrCodeRunFailed
		if errors.Is(waitErr, errRunTimeout) {
			code = runnerproto.ErrCodeTimeout
		}
		outputErrorWithData(runnerproto.CommandRun, code, waitErr.Error(), result)
		return waitErr
	}

	outputSuccess(result)
	return nil
}

// waitForExit blocks until the container stops or the timeout passes. A
// timed-out container is stopped before the error returns.
func waitForExit(ctx context.Context, cli *client.Client, containerID string, timeoutSec int) (int, error) {
	waitCtx := ctx
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	resultCh, errCh := cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case result := <-resultCh:
		if result.Error != nil {
			return int(result.StatusCode), &commandError{msg: result.Error.Message}
		}
		return int(result.StatusCode), nil
	case err := <-errCh:
		if waitCtx.Err() != nil {
			stopTimeout := 5
			_ = cli.ContainerStop(context.Background(), containerID, container.StopOptions{Timeout: &stopTimeout})
			return -1, fmt.Errorf("%w after %ds", errRunTimeout, timeoutSec)
		}
		return -1, err
	}
}

// collectOutput reads the container's full log and demultiplexes the
// stdout/stderr stream into one string, capped at maxLogBytes.
func collectOutput(ctx context.Context, cli *client.Client, containerID string) (string, error) {
	reader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, reader); err != nil {
		return "", err
	}

	out := combined.String()
	if len(out) > maxLogBytes {
		out = out[:maxLogBytes]
	}
	return out, nil
}

// inspectContainerCmd handles the "container-inspect <id>" command.
func inspectContainerCmd(args []string) error {
	if len(args) < 1 {
		outputError(runnerproto.CommandInspect, runnerproto.ErrCodeInvalidInput, "usage: container-inspect <container_id>")
		return errInvalidArgs
	}

	ctx := context.Background()
	containerID := args[0]

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandInspect, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	inspect, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		code := runnerproto.ErrCodeInternal
		if client.IsErrNotFound(err) {
			code = runnerproto.ErrCodeNotFound
		}
		outputError(runnerproto.CommandInspect, code, err.Error())
		return err
	}

	outputSuccess(convertContainerInspect(&inspect))
	return nil
}

// listContainersCmd handles the "container-list" command.
// Reads ListOptions JSON from stdin.
func listContainersCmd() error {
	ctx := context.Background()

	// Read options from stdin
	var opts runnerproto.ListOptions
	_ = json.NewDecoder(os.Stdin).Decode(&opts) // Ignore error - stdin may be empty

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandList, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

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

	containers, err := cli.ContainerList(ctx, listOpts)
	if err != nil {
		outputError(runnerproto.CommandList, runnerproto.ErrCodeInternal, err.Error())
		return err
	}

	result := make([]runnerproto.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, runnerproto.ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			State:     c.State,
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}

	outputSuccess(result)
	return nil
}

// containerLogsCmd handles the "container-logs <id>" command.
// Reads LogOptions JSON from stdin.
func containerLogsCmd(args []string) error {
	if len(args) < 1 {
		outputError(runnerproto.CommandLogs, runnerproto.ErrCodeInvalidInput, "usage: container-logs <container_id>")
		return errInvalidArgs
	}

	ctx := context.Background()
	containerID := args[0]

	// Read options from stdin
	var opts runnerproto.LogOptions
	_ = json.NewDecoder(os.Stdin).Decode(&opts)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandLogs, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false, // Never follow (would block the SSH session)
		Timestamps: opts.Timestamps,
	}
	if opts.Tail != "" {
		logOpts.Tail = opts.Tail
	} else {
		logOpts.Tail = "100" // Default tail
	}

	reader, err := cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		code := runnerproto.ErrCodeInternal
		if client.IsErrNotFound(err) {
			code = runnerproto.ErrCodeNotFound
		}
		outputError(runnerproto.CommandLogs, code, err.Error())
		return err
	}
	defer reader.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, reader); err != nil {
		outputError(runnerproto.CommandLogs, runnerproto.ErrCodeInternal, "demultiplex logs: "+err.Error())
		return err
	}

	logs := combined.String()
	if len(logs) > maxLogBytes {
		logs = logs[:maxLogBytes]
	}

	outputSuccess(runnerproto.LogsResult{Logs: logs})
	return nil
}

// removeContainerCmd handles the "container-remove <id>" command.
// Reads RemoveOptions JSON from stdin (optional).
func removeContainerCmd(args []string) error {
	if len(args) < 1 {
		outputError(runnerproto.CommandRemove, runnerproto.ErrCodeInvalidInput, "usage: container-remove <container_id>")
		return errInvalidArgs
	}

	ctx := context.Background()
	containerID := args[0]

	// Try to read options from stdin (optional)
	var opts runnerproto.RemoveOptions
	_ = json.NewDecoder(os.Stdin).Decode(&opts) // Ignore error - stdin may be empty

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandRemove, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	if err := cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: opts.Force}); err != nil {
		code := runnerproto.ErrCodeInternal
		if client.IsErrNotFound(err) {
			code = runnerproto.ErrCodeNotFound
		}
		outputError(runnerproto.CommandRemove, code, err.Error())
		return err
	}

	outputSuccess(nil)
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// convertContainerInspect converts a Docker inspect result to the wire format.
func convertContainerInspect(inspect *container.InspectResponse) *runnerproto.ContainerInfo {
	info := &runnerproto.ContainerInfo{
		ID:     inspect.ID,
		Name:   strings.TrimPrefix(inspect.Name, "/"),
		Image:  inspect.Config.Image,
		State:  inspect.State.Status,
		Labels: inspect.Config.Labels,
	}

	// Parse timestamps
	if t, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		info.CreatedAt = t
	}
	if inspect.State.StartedAt != "" && inspect.State.StartedAt != "0001-01-01T00:00:00Z" {
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			info.StartedAt = &t
		}
	}
	if inspect.State.FinishedAt != "" && inspect.State.FinishedAt != "0001-01-01T00:00:00Z" {
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt); err == nil {
			info.FinishedAt = &t
		}
	}

	info.ExitCode = inspect.State.ExitCode
	return info
}
