package recipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Package Installers
// =============================================================================

// installerCommands maps an interpreter to the command that installs its
// packages. Arguments are appended in recipe order.
var installerCommands = map[string]string{
	"python": "pip install --no-cache-dir",
	"node":   "npm install -g",
	"ruby":   "gem install",
	"perl":   "cpan -T",
}

// InstallerFor returns the package install command for an interpreter.
func InstallerFor(interpreter string) (string, error) {
	cmd, ok := installerCommands[interpreter]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPackageInstaller, interpreter)
	}
	return cmd, nil
}

// =============================================================================
// Dockerfile Rendering
// =============================================================================

// Render produces the Dockerfile for a recipe. The output is deterministic:
// the same recipe always renders to byte-identical text, so rebuilds are
// reproducible up to package-index drift at install time.
//
// The rendered file selects the base image, installs the recipe's packages
// in their given order, copies the script into the working directory, and
// sets the default command to run the script with the interpreter and no
// arguments.
func Render(r *domain.Recipe) (string, error) {
	if r == nil {
		return "", ErrNilRecipe
	}
	if err := r.Validate(); err != nil {
		return "", err
	}

	interpreter := r.Interpreter
	if interpreter == "" {
		interpreter = domain.InterpreterFor(r.BaseImage)
	}
	workDir := r.WorkDir
	if workDir == "" {
		workDir = domain.DefaultWorkDir
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", r.BaseImage)
	b.WriteString("\n")
	fmt.Fprintf(&b, "WORKDIR %s\n", workDir)

	if lines := labelLines(r.Labels); len(lines) > 0 {
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if len(r.Packages) > 0 {
		installer, err := InstallerFor(interpreter)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "RUN %s %s\n", installer, strings.Join(r.Packages, " "))
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "COPY %s %s\n", r.ScriptPath, r.ScriptName())

	b.WriteString("\n")
	fmt.Fprintf(&b, "CMD [%q, %q]\n", interpreter, r.ScriptName())

	return b.String(), nil
}

// labelLines renders recipe labels as LABEL instructions, one per label,
// in sorted key order so output stays deterministic.
func labelLines(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("LABEL %q=%q", k, labels[k]))
	}
	return lines
}
