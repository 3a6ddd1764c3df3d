package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/reporegistry"
	"github.com/kim-em/bubble/internal/target"
)

const (
	// MaxConcurrentHandlers bounds the worker pool; beyond this,
	// connections are rejected pre-auth.
	MaxConcurrentHandlers = 4
	// MaxRequestSize bounds a single read from a relay connection.
	MaxRequestSize = 1024
	// MaxTargetLength bounds the target string accepted in a request.
	MaxTargetLength = 500
)

// Request is the JSON payload a relay client sends.
type Request struct {
	Target string `json:"target"`
	Token  string `json:"token"`
}

// Response is the JSON payload the relay sends back.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

var shellMetachar = regexp.MustCompile(`[;|&$` + "`" + `(){}\[\]!#]`)

// ValidateRelayTarget enforces the relay-specific target hardening of
// spec.md §4.8: beyond the normal target grammar, it rejects local
// paths, traversal, and shell metacharacters outright (a relay client
// is inside a container and must never be able to request a local
// checkout or escape its sandbox), and requires the repo already be
// known to the local git store — relay never triggers a first clone.
func ValidateRelayTarget(raw string, store *gitstore.Store, registry *reporegistry.RepoRegistry) (target.Target, error) {
	if raw == "" {
		return target.Target{}, fmt.Errorf("target required")
	}
	if len(raw) > MaxTargetLength {
		return target.Target{}, fmt.Errorf("target too long")
	}
	if strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "~") || strings.HasPrefix(raw, "-") {
		return target.Target{}, fmt.Errorf("Local paths are not allowed via relay.")
	}
	if strings.Contains(raw, "--path") {
		return target.Target{}, fmt.Errorf("Local paths are not allowed via relay.")
	}
	if strings.Contains(raw, "..") {
		return target.Target{}, fmt.Errorf("path traversal is not permitted")
	}
	if shellMetachar.MatchString(raw) {
		return target.Target{}, fmt.Errorf("invalid characters in target")
	}

	t, err := target.Parse(raw, registry)
	if err != nil {
		return target.Target{}, err
	}
	if err := t.Validate(); err != nil {
		return target.Target{}, err
	}
	if !store.RepoIsKnown(t.OrgRepo()) {
		return target.Target{}, fmt.Errorf("unknown_repo")
	}
	return t, nil
}
