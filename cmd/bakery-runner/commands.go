package main

import (
	"github.com/casebake/bakery/internal/core/runnerproto"
)

// dispatch routes the command to the appropriate handler.
func dispatch(cmd string, args []string) error {
	switch cmd {
	// Health commands
	case runnerproto.CommandVersion:
		return versionCmd()
	case runnerproto.CommandPing:
		return pingCmd()

	// Image commands
	case runnerproto.CommandImageBuild:
		return buildImageCmd()
	case runnerproto.CommandImageExists:
		return imageExistsCmd(args)
	case runnerproto.CommandImageRemove:
		return removeImageCmd(args)

	// Container commands
	case runnerproto.CommandRun:
		return runCmd()
	case runnerproto.CommandInspect:
		return inspectContainerCmd(args)
	case runnerproto.CommandList:
		return listContainersCmd()
	case runnerproto.CommandLogs:
		return containerLogsCmd(args)
	case runnerproto.CommandRemove:
		return removeContainerCmd(args)

	default:
		outputError(cmd, runnerproto.ErrCodeInvalidInput, "unknown command: "+cmd)
		return errUnknownCommand
	}
}

// errUnknownCommand is returned for unknown commands.
var errUnknownCommand = &commandError{msg: "unknown command"}

// errInvalidArgs is returned for malformed command arguments.
var errInvalidArgs = &commandError{msg: "invalid arguments"}

// commandError represents a command error.
type commandError struct {
	msg string
}

func (e *commandError) Error() string {
	return e.msg
}
