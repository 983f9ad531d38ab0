package docker

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Build Context Assembly
// =============================================================================

// DockerfileName is the path of the rendered Dockerfile within a build context.
const DockerfileName = "Dockerfile"

// Entries carry a fixed mtime so an unchanged recipe produces a
// byte-identical context and the daemon's build cache can hit.
var contextEpoch = time.Unix(0, 0).UTC()

// VerifyScript checks that the recipe's script exists under the script root.
// Returns ErrScriptNotFound before any daemon contact, so a bake for a
// missing script fails immediately with a clear message.
func VerifyScript(scriptRoot, scriptPath string) error {
	abs, err := scriptAbs(scriptRoot, scriptPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDockerError("VerifyScript", "script", scriptPath, "script not found under "+scriptRoot, ErrScriptNotFound)
		}
		return NewDockerError("VerifyScript", "script", scriptPath, err.Error(), err)
	}
	if info.IsDir() {
		return NewDockerError("VerifyScript", "script", scriptPath, "script path is a directory", ErrScriptNotFound)
	}
	return nil
}

// BuildContext assembles an in-memory tar build context holding the rendered
// Dockerfile and the script at its recipe-relative path, matching the
// Dockerfile's COPY source.
func BuildContext(scriptRoot, dockerfile, scriptPath string) ([]byte, error) {
	if err := VerifyScript(scriptRoot, scriptPath); err != nil {
		return nil, err
	}

	abs, err := scriptAbs(scriptRoot, scriptPath)
	if err != nil {
		return nil, err
	}
	script, err := os.ReadFile(abs)
	if err != nil {
		return nil, NewDockerError("BuildContext", "script", scriptPath, err.Error(), err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := writeTarFile(tw, DockerfileName, []byte(dockerfile)); err != nil {
		return nil, NewDockerError("BuildContext", "context", "", err.Error(), err)
	}
	if err := writeTarFile(tw, scriptPath, script); err != nil {
		return nil, NewDockerError("BuildContext", "context", "", err.Error(), err)
	}

	if err := tw.Close(); err != nil {
		return nil, NewDockerError("BuildContext", "context", "", err.Error(), err)
	}
	return buf.Bytes(), nil
}

// scriptAbs resolves the script path under the root, refusing paths that
// resolve outside it.
func scriptAbs(scriptRoot, scriptPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(scriptPath))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", NewDockerError("scriptAbs", "script", scriptPath, "script path escapes the script root", ErrScriptNotFound)
	}
	return filepath.Join(scriptRoot, cleaned), nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: contextEpoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}
	return nil
}
