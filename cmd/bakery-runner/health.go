package main

import (
	"context"
	"runtime"

	"github.com/docker/docker/client"

	"github.com/casebake/bakery/internal/core/runnerproto"
)

// pingCmd handles the "ping" command.
// It tests the connection to Docker and returns version info.
func pingCmd() error {
	ctx := context.Background()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		outputError(runnerproto.CommandPing, runnerproto.ErrCodeConnectionFailed, "failed to create docker client: "+err.Error())
		return err
	}
	defer cli.Close()

	// Get Docker version info
	version, err := cli.ServerVersion(ctx)
	if err != nil {
		outputError(runnerproto.CommandPing, runnerproto.ErrCodeConnectionFailed, "failed to connect to docker: "+err.Error())
		return err
	}

	info := runnerproto.PingInfo{
		DockerVersion: version.Version,
		APIVersion:    version.APIVersion,
		OS:            version.Os,
		Arch:          runtime.GOARCH,
	}
	outputSuccess(info)
	return nil
}
