package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/casebake/bakery/internal/core/runnerproto"
)

// buildImageCmd handles the "image-build" command.
// Reads BuildRequest JSON from stdin; the context tar rides in the request.
func buildImageCmd() error {
	ctx := context.Background()

	var req runnerproto.BuildRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		outputError(runnerproto.CommandImageBuild, runnerproto.ErrCodeInvalidInput, "invalid JSON input: "+err.Error())
		return err
	}
	if len(req.ContextTar) == 0 {
		outputError(runnerproto.CommandImageBuild, runnerproto.ErrCodeInvalidInput, "empty build context")
		return errInvalidArgs
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandImageBuild, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	opts := build.ImageBuildOptions{
		Tags:        req.Tags,
		Dockerfile:  dockerfile,
		Labels:      req.Labels,
		Remove:      true,
		ForceRemove: true,
	}

	resp, err := cli.ImageBuild(ctx, bytes.NewReader(req.ContextTar), opts)
	if err != nil {
		outputError(runnerproto.CommandImageBuild, runnerproto.ErrCodeBuildFailed, err.Error())
		return err
	}
	defer resp.Body.Close()

	// The daemon streams progress as JSON messages. Collect the build log
	// and surface the first error message verbatim, keeping the partial log
	// in the data payload.
	var log strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			outputErrorWithData(runnerproto.CommandImageBuild, runnerproto.ErrCodeBuildFailed,
				"decode build output: "+err.Error(), runnerproto.BuildResult{Log: log.String()})
			return err
		}
		if msg.Stream != "" {
			log.WriteString(msg.Stream)
		}
		if msg.Status != "" {
			log.WriteString(msg.Status + "\n")
		}
		if msg.Error != nil {
			outputErrorWithData(runnerproto.CommandImageBuild, runnerproto.ErrCodeBuildFailed,
				msg.Error.Message, runnerproto.BuildResult{Log: log.String()})
			return &commandError{msg: msg.Error.Message}
		}
	}

	result := runnerproto.BuildResult{Log: log.String()}
	if len(req.Tags) > 0 {
		if inspect, _, err := cli.ImageInspectWithRaw(ctx, req.Tags[0]); err == nil {
			result.ImageID = inspect.ID
		}
	}
	outputSuccess(result)
	return nil
}

// imageExistsCmd handles the "image-exists <image>" command.
func imageExistsCmd(args []string) error {
	if len(args) < 1 {
		outputError(runnerproto.CommandImageExists, runnerproto.ErrCodeInvalidInput, "usage: image-exists <image>")
		return errInvalidArgs
	}

	ctx := context.Background()
	imageName := args[0]

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandImageExists, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	_, _, err = cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			outputSuccess(runnerproto.ImageExistsResult{Exists: false})
			return nil
		}
		outputError(runnerproto.CommandImageExists, runnerproto.ErrCodeInternal, err.Error())
		return err
	}

	outputSuccess(runnerproto.ImageExistsResult{Exists: true})
	return nil
}

// removeImageCmd handles the "image-remove <image> [--force]" command.
func removeImageCmd(args []string) error {
	if len(args) < 1 {
		outputError(runnerproto.CommandImageRemove, runnerproto.ErrCodeInvalidInput, "usage: image-remove <image> [--force]")
		return errInvalidArgs
	}

	ctx := context.Background()
	imageName := args[0]

	force := false
	for _, arg := range args[1:] {
		if arg == "--force" {
			force = true
		}
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandImageRemove, runnerproto.ErrCodeConnectionFailed, err.Error())
		return err
	}
	defer cli.Close()

	_, err = cli.ImageRemove(ctx, imageName, image.RemoveOptions{
		Force:         force,
		PruneChildren: true,
	})
	if err != nil {
		code := runnerproto.ErrCodeInternal
		if client.IsErrNotFound(err) {
			code = runnerproto.ErrCodeNotFound
		}
		outputError(runnerproto.CommandImageRemove, code, err.Error())
		return err
	}

	outputSuccess(nil)
	return nil
}
