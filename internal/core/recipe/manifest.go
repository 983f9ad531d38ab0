package recipe

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Manifest Types
// =============================================================================

// Manifest is the YAML form of a recipe as submitted by users.
//
// Example:
//
//	name: Corona Stats
//	base_image: python:3.7.6
//	script: CoronaStats/corona.py
//	packages:
//	  - pandas
//	  - numpy
//	  - scipy
//	  - matplotlib
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	BaseImage   string            `yaml:"base_image"`
	Script      string            `yaml:"script"`
	Packages    []string          `yaml:"packages,omitempty"`
	Interpreter string            `yaml:"interpreter,omitempty"`
	WorkDir     string            `yaml:"workdir,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// =============================================================================
// Parser Functions
// =============================================================================

// ParseManifest parses recipe manifest YAML into a validated Recipe.
// This is a pure function - no I/O, no side effects.
// Input: raw YAML string
// Output: Recipe or error
func ParseManifest(yamlContent string) (*domain.Recipe, error) {
	// Input validation
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyManifest
	}

	var m Manifest
	if err := yaml.Unmarshal([]byte(yamlContent), &m); err != nil {
		return nil, NewManifestError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	recipe, err := domain.NewRecipe(m.Name, m.BaseImage, m.Script, m.Packages)
	if err != nil {
		return nil, NewManifestError(manifestField(err), err.Error(), err)
	}

	recipe.Description = m.Description
	recipe.Labels = m.Labels
	if m.Interpreter != "" {
		recipe.Interpreter = m.Interpreter
	}
	if m.WorkDir != "" {
		recipe.WorkDir = m.WorkDir
	}

	// Overridden interpreter must have a known installer when packages
	// are requested, otherwise the bake would fail at render time.
	if len(recipe.Packages) > 0 {
		if _, err := InstallerFor(recipe.Interpreter); err != nil {
			return nil, NewManifestError("interpreter", err.Error(), err)
		}
	}

	return recipe, nil
}

// MarshalManifest renders a recipe back to manifest YAML.
func MarshalManifest(r *domain.Recipe) (string, error) {
	if r == nil {
		return "", ErrNilRecipe
	}
	m := Manifest{
		Name:        r.Name,
		Description: r.Description,
		BaseImage:   r.BaseImage,
		Script:      r.ScriptPath,
		Packages:    r.Packages,
		Interpreter: r.Interpreter,
		WorkDir:     r.WorkDir,
		Labels:      r.Labels,
	}
	out, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return string(out), nil
}

// manifestField maps a domain validation error to the manifest field it
// concerns, for error messages users can act on.
func manifestField(err error) string {
	switch {
	case errIsAny(err, domain.ErrNameRequired, domain.ErrNameTooShort, domain.ErrNameTooLong, domain.ErrNameInvalidChars):
		return "name"
	case errIsAny(err, domain.ErrBaseImageRequired, domain.ErrBaseImageInvalid):
		return "base_image"
	case errIsAny(err, domain.ErrScriptPathRequired, domain.ErrScriptPathAbsolute, domain.ErrScriptPathEscapes):
		return "script"
	case errIsAny(err, domain.ErrPackageEmpty, domain.ErrPackageInvalidChars):
		return "packages"
	default:
		return ""
	}
}

func errIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
