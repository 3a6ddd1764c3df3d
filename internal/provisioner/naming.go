// Package provisioner orchestrates bubble container creation: the
// create pipeline of spec.md §4.5, grounded on original_source/bubble's
// naming.py, git_store usage, and provisioner-equivalent modules.
package provisioner

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nonAlnumHyphen = regexp.MustCompile(`[^a-z0-9-]`)
var multiHyphen = regexp.MustCompile(`-+`)

// GenerateName builds a container name from a repo short name, a
// Target.Kind string ("repo", "pr", "branch", "commit" — "repo" maps to
// the literal source "main"), and an identifier (PR number, branch
// name, commit sha, or "" for repo kind).
func GenerateName(repoShort, source, identifier string) string {
	if source == "main" && identifier == "" {
		identifier = time.Now().UTC().Format("20060102")
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{repoShort, source, identifier} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.ToLower(strings.Join(parts, "-"))
	name = nonAlnumHyphen.ReplaceAllString(name, "-")
	name = multiHyphen.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if name != "" && !isLetter(name[0]) {
		name = "b-" + name
	}
	return name
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// DeduplicateName appends a numeric suffix if name collides with an
// already-existing container name.
func DeduplicateName(name string, existing map[string]bool) (string, error) {
	if !existing[name] {
		return name, nil
	}
	for i := 2; i < 1000; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find unique name for %q", name)
}
