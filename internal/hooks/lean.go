package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kim-em/bubble/internal/runtime"
)

// LeanHook detects Lean 4 projects via a lean-toolchain file at the
// target ref, grounded on original_source/bubble/hooks/lean.py. Its
// shared mount and dependency-manifest handling are grounded on
// original_source/lean_bubbles/lake_cache.go for the cache layout and
// Lake's lake-manifest.json for git dependency parsing.
type LeanHook struct{}

func NewLeanHook() *LeanHook { return &LeanHook{} }

func (h *LeanHook) Name() string { return "Lean 4" }

func (h *LeanHook) Detect(ctx context.Context, bareRepoPath, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", bareRepoPath, "show", ref+":lean-toolchain")
	return cmd.Run() == nil
}

func (h *LeanHook) ImageName() string { return "lean" }

func (h *LeanHook) PostClone(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string) error {
	return nil
}

func (h *LeanHook) NetworkDomains() []string {
	return []string{"releases.lean-lang.org"}
}

// SharedMounts exports one shared Lake cache directory,
// <data-dir>/lake-cache, to every Lean container; it is not keyed by
// repo or toolchain. The repo+toolchain-keyed .lake snapshots are a
// separate mechanism (internal/lakecache).
func (h *LeanHook) SharedMounts() []SharedMount {
	return []SharedMount{
		{HostDirName: "lake-cache", ContainerPath: "/shared/lake-cache", EnvVar: "BUBBLE_LAKE_CACHE"},
	}
}

// lakeManifestPackage is one entry of lake-manifest.json's package list;
// Rev is the 40-hex commit it pins.
type lakeManifestPackage struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Rev  string `json:"rev"`
	// Subdir is non-empty when the package lives in a subdirectory of
	// its repo (Lake's manifest calls this "subDir").
	Subdir string `json:"subDir"`
}

type lakeManifest struct {
	Packages []lakeManifestPackage `json:"packages"`
}

var revHex = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
var githubURLRe = regexp.MustCompile(`github\.com[:/]([^/]+/[^/.]+)`)

// GitDependencies reads lake-manifest.json from the bare repo at ref and
// returns every git-sourced package dependency, skipping entries that
// don't resolve to a GitHub repo or don't carry a 40-hex commit.
func (h *LeanHook) GitDependencies(ctx context.Context, bareRepoPath, ref string) []GitDependency {
	out, err := exec.CommandContext(ctx, "git", "-C", bareRepoPath, "show", ref+":lake-manifest.json").Output()
	if err != nil {
		return nil
	}
	var manifest lakeManifest
	if err := json.Unmarshal(out, &manifest); err != nil {
		return nil
	}

	deps := make([]GitDependency, 0, len(manifest.Packages))
	for _, pkg := range manifest.Packages {
		if !revHex.MatchString(pkg.Rev) {
			continue
		}
		m := githubURLRe.FindStringSubmatch(pkg.URL)
		if m == nil {
			continue
		}
		orgRepo := strings.TrimSuffix(m[1], ".git")
		deps = append(deps, GitDependency{
			Name:    pkg.Name,
			OrgRepo: orgRepo,
			Rev:     pkg.Rev,
			SubDir:  pkg.Subdir,
		})
	}
	return deps
}

// WorkspaceFile emits a single-root VS Code workspace pointing at the
// checked-out project; Lean projects have no multi-root needs today.
func (h *LeanHook) WorkspaceFile(projectDir string) (string, bool) {
	return fmt.Sprintf(`{"folders": [{"path": %q}]}`, projectDir), true
}
