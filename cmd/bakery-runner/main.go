// Package main provides the bakery-runner binary installed on builder nodes.
//
// The runner provides direct Docker SDK access on the node. The bakery backend
// communicates with the runner via SSH exec, exchanging JSON input/output:
// the request rides on stdin, one response comes back on stdout.
//
// Usage:
//
//	bakery-runner <command> [args...]
//
// Commands:
//
//	version                      - Show runner version
//	ping                         - Test Docker connection
//	image-build                  - Build an image (JSON request from stdin)
//	image-exists <image>         - Check if image exists
//	image-remove <image> [--force] - Remove an image
//	run                          - Run an image to completion (JSON request from stdin)
//	container-inspect <id>       - Inspect a container
//	container-list               - List containers (JSON opts from stdin)
//	container-logs <id>          - Get container logs (JSON opts from stdin)
//	container-remove <id>        - Remove a container (JSON opts from stdin)
package main

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/casebake/bakery/internal/core/runnerproto"
)

// BuildTime is set by build flags. The reported version is always
// runnerproto.Version: the backend compares it against its own copy before
// reusing a deployed runner, so the two must move together.
var BuildTime = "unknown"

func main() {
	if len(os.Args) < 2 {
		outputError("usage", runnerproto.ErrCodeInvalidInput, "usage: bakery-runner <command> [args...]")
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if err := dispatch(cmd, args); err != nil {
		// Error already written to stdout by command handler
		os.Exit(1)
	}
}

// outputSuccess writes a success response to stdout.
func outputSuccess(data interface{}) {
	resp, err := runnerproto.NewSuccessResponse(data)
	if err != nil {
		outputError("internal", runnerproto.ErrCodeInternal, err.Error())
		return
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// outputError writes an error response to stdout.
func outputError(command, code, message string) {
	resp := runnerproto.NewErrorResponse(command, code, message)
	json.NewEncoder(os.Stdout).Encode(resp)
}

// outputErrorWithData writes an error response that still carries a data
// payload, such as the partial log of a failed build.
func outputErrorWithData(command, code, message string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		outputError(command, code, message)
		return
	}
	resp := &runnerproto.Response{
		Success: false,
		Data:    payload,
		Error: &runnerproto.ErrorInfo{
			Command: command,
			Code:    code,
			Message: message,
		},
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// versionCmd handles the "version" command.
func versionCmd() error {
	info := runnerproto.VersionInfo{
		Version:   runnerproto.Version,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	outputSuccess(info)
	return nil
}
