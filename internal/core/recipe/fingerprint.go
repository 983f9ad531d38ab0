package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Recipe Fingerprint
// =============================================================================

// Fingerprint computes the content fingerprint of a recipe: a hex-encoded
// SHA-256 over a canonical serialization of every field that affects the
// rendered Dockerfile. Two recipes with the same fingerprint render to the
// same build instructions; any build-relevant edit changes the fingerprint
// and thereby the image tag.
func Fingerprint(r *domain.Recipe) string {
	var b strings.Builder
	fmt.Fprintf(&b, "base_image=%s\n", r.BaseImage)
	fmt.Fprintf(&b, "script_path=%s\n", r.ScriptPath)
	fmt.Fprintf(&b, "interpreter=%s\n", r.Interpreter)
	fmt.Fprintf(&b, "workdir=%s\n", r.WorkDir)
	fmt.Fprintf(&b, "packages=%s\n", strings.Join(r.Packages, ","))

	if len(r.Labels) > 0 {
		keys := make([]string, 0, len(r.Labels))
		for k := range r.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "label.%s=%s\n", k, r.Labels[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
