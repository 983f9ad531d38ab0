package docker

import (
	"embed"
	"fmt"
	"runtime"

	"github.com/casebake/bakery/internal/core/runnerproto"
)

// Embedded runner binaries for Linux platforms.
// These are compiled separately and embedded at build time.
//
// To build the runner binaries:
//   make build-runner
//
// This will create:
//   internal/shell/docker/binaries/runner-linux-amd64
//   internal/shell/docker/binaries/runner-linux-arm64

//go:embed binaries/*
var runnerBinaries embed.FS

// GetRunnerBinary returns the runner binary for the specified OS and architecture.
// Currently only Linux amd64 and arm64 are supported.
func GetRunnerBinary(goos, goarch string) ([]byte, error) {
	if goos != "linux" {
		return nil, fmt.Errorf("unsupported OS: %s (only linux is supported)", goos)
	}

	var filename string
	switch goarch {
	case "amd64":
		filename = "binaries/runner-linux-amd64"
	case "arm64":
		filename = "binaries/runner-linux-arm64"
	default:
		return nil, fmt.Errorf("unsupported architecture: %s (only amd64 and arm64 are supported)", goarch)
	}

	data, err := runnerBinaries.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("runner binary not found for %s/%s: %w (run 'make build-runner' first)", goos, goarch, err)
	}

	return data, nil
}

// GetRunnerBinaryForCurrentPlatform returns the runner binary for the current platform.
// Useful for testing on the local machine.
func GetRunnerBinaryForCurrentPlatform() ([]byte, error) {
	return GetRunnerBinary(runtime.GOOS, runtime.GOARCH)
}

// RunnerVersion is the version of the embedded runner binaries. The runner
// reports runnerproto.Version, so the two always move together.
var RunnerVersion = runnerproto.Version
