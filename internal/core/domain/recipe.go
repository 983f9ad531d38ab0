// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Recipe Errors
// =============================================================================

var (
	// Name validation errors
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooShort     = errors.New("name must be at least 3 characters")
	ErrNameTooLong      = errors.New("name must be at most 100 characters")
	ErrNameInvalidChars = errors.New("name can only contain alphanumeric characters, spaces, and hyphens")

	// Base image validation errors
	ErrBaseImageRequired = errors.New("base image is required")
	ErrBaseImageInvalid  = errors.New("base image must be a valid image reference")

	// Script path validation errors
	ErrScriptPathRequired = errors.New("script path is required")
	ErrScriptPathAbsolute = errors.New("script path must be relative to the build context")
	ErrScriptPathEscapes  = errors.New("script path must not escape the build context")

	// Package validation errors
	ErrPackageEmpty        = errors.New("package name cannot be empty")
	ErrPackageInvalidChars = errors.New("package name contains invalid characters")
)

// =============================================================================
// Recipe
// =============================================================================

// Recipe is a declarative container build recipe: a base runtime image, one
// script to copy into the image, and an ordered list of packages to install.
// Baking a recipe produces an image whose default command runs the script
// with the runtime interpreter and no arguments.
type Recipe struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description,omitempty"`
	BaseImage   string            `json:"base_image"`
	ScriptPath  string            `json:"script_path"`
	Packages    []string          `json:"packages,omitempty"`
	Interpreter string            `json:"interpreter"`
	WorkDir     string            `json:"workdir"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DefaultWorkDir is the image working directory scripts are copied into.
const DefaultWorkDir = "/app"

// GenerateRecipeID generates a new recipe ID.
func GenerateRecipeID() string {
	return "rcp_" + uuid.New().String()[:8]
}

// NewRecipe creates a new recipe with validation. The interpreter defaults to
// one derived from the base image and the working directory to DefaultWorkDir.
func NewRecipe(name, baseImage, scriptPath string, packages []string) (*Recipe, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateBaseImage(baseImage); err != nil {
		return nil, err
	}
	if err := ValidateScriptPath(scriptPath); err != nil {
		return nil, err
	}
	if err := ValidatePackages(packages); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Recipe{
		ID:          GenerateRecipeID(),
		Name:        name,
		Slug:        Slugify(name),
		BaseImage:   baseImage,
		ScriptPath:  scriptPath,
		Packages:    packages,
		Interpreter: InterpreterFor(baseImage),
		WorkDir:     DefaultWorkDir,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ScriptName returns the basename of the recipe's script path. This is the
// name the script is copied to inside the image's working directory.
func (r *Recipe) ScriptName() string {
	return path.Base(r.ScriptPath)
}

// Normalize fills derivable zero-value fields (slug, interpreter, workdir).
func (r *Recipe) Normalize() {
	if r.Slug == "" {
		r.Slug = Slugify(r.Name)
	}
	if r.Interpreter == "" {
		r.Interpreter = InterpreterFor(r.BaseImage)
	}
	if r.WorkDir == "" {
		r.WorkDir = DefaultWorkDir
	}
}

// Validate checks all recipe fields.
func (r *Recipe) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if err := ValidateBaseImage(r.BaseImage); err != nil {
		return err
	}
	if err := ValidateScriptPath(r.ScriptPath); err != nil {
		return err
	}
	return ValidatePackages(r.Packages)
}

// =============================================================================
// Interpreter Derivation
// =============================================================================

// InterpreterFor derives the runtime interpreter command from a base image
// reference. Unrecognized images fall back to "sh".
//
// Example:
//
//	InterpreterFor("python:3.7.6") // returns "python"
//	InterpreterFor("node:20")      // returns "node"
func InterpreterFor(baseImage string) string {
	name := baseImage
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "python", "pypy":
		return "python"
	case "node":
		return "node"
	case "ruby":
		return "ruby"
	case "perl":
		return "perl"
	default:
		return "sh"
	}
}

// =============================================================================
// Validation Functions (Pure)
// =============================================================================

var (
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9\s\-]+$`)

	// Image references: [registry[:port]/]repo[/path][:tag][@digest].
	// Tag characters per the distribution reference grammar.
	baseImageRegex = regexp.MustCompile(`^[a-z0-9]+(?:[._\-/][a-z0-9]+)*(?::[a-zA-Z0-9_][a-zA-Z0-9._\-]{0,127})?$`)

	// Package names as accepted by pip and friends.
	packageRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(?:(?:==|>=|<=|~=)[A-Za-z0-9._\-]+)?$`)
)

// ValidateName validates a recipe name.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if len(name) < 3 {
		return ErrNameTooShort
	}
	if len(name) > 100 {
		return ErrNameTooLong
	}
	if !nameRegex.MatchString(name) {
		return ErrNameInvalidChars
	}
	return nil
}

// ValidateBaseImage validates a base image reference.
func ValidateBaseImage(image string) error {
	if image == "" {
		return ErrBaseImageRequired
	}
	if !baseImageRegex.MatchString(image) {
		return ErrBaseImageInvalid
	}
	return nil
}

// ValidateScriptPath validates a script path. Paths are relative to the build
// context and must not escape it.
func ValidateScriptPath(scriptPath string) error {
	if scriptPath == "" {
		return ErrScriptPathRequired
	}
	if strings.HasPrefix(scriptPath, "/") {
		return ErrScriptPathAbsolute
	}
	clean := path.Clean(scriptPath)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrScriptPathEscapes
	}
	return nil
}

// ValidatePackages validates a package list. Order is significant and is
// preserved through rendering; this only checks the individual names.
func ValidatePackages(packages []string) error {
	for _, p := range packages {
		if p == "" {
			return ErrPackageEmpty
		}
		if !packageRegex.MatchString(p) {
			return ErrPackageInvalidChars
		}
	}
	return nil
}

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a recipe name to a tag-safe slug.
//
// Lowercase letters, digits, and hyphens are kept; uppercase letters are
// lowered; spaces become hyphens; everything else is dropped and consecutive
// hyphens are collapsed.
//
// Example:
//
//	Slugify("Corona Stats")   // returns "corona-stats"
//	Slugify("Docker Test 2!") // returns "docker-test-2"
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug = b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}
