// Package recipe contains pure functions for rendering build recipes into
// Dockerfiles and for parsing recipe manifests.
// This is part of the Functional Core - all functions are pure with no I/O.
package recipe

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyManifest = errors.New("recipe manifest is empty")
	ErrNilRecipe     = errors.New("recipe is nil")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Rendering errors
	ErrNoPackageInstaller = errors.New("no package installer known for interpreter")
)

// ManifestError wraps errors with context about where manifest parsing failed.
type ManifestError struct {
	Field   string // e.g., "packages[2]"
	Message string
	Err     error
}

func (e *ManifestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// NewManifestError creates a new ManifestError.
func NewManifestError(field, message string, err error) *ManifestError {
	return &ManifestError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
