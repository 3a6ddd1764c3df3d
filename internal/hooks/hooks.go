// Package hooks implements bubble's language/framework hook system
// (spec.md §4.5 "Hook selection", §9 "Hook polymorphism"), grounded on
// original_source/bubble/hooks/__init__.py and hooks/lean.py.
package hooks

import (
	"context"

	"github.com/kim-em/bubble/internal/runtime"
)

// GitDependency is a git repo a hook reports the project needs mounted
// alongside the main checkout (spec.md §4.5 "Dependency prefetch").
type GitDependency struct {
	Name    string
	OrgRepo string
	Rev     string
	SubDir  string
}

// SharedMount is a host directory a hook wants writable inside every
// container it configures, exported to the container via an env var.
type SharedMount struct {
	HostDirName   string
	ContainerPath string
	EnvVar        string
}

// Hook is the capability set a language/framework integration provides.
// Implementations are tagged variants registered in a fixed priority
// order, not an open class hierarchy (spec.md §9 "Hook polymorphism").
type Hook interface {
	Name() string
	Detect(ctx context.Context, bareRepoPath, ref string) bool
	ImageName() string
	PostClone(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string) error
	NetworkDomains() []string
	SharedMounts() []SharedMount
	GitDependencies(ctx context.Context, bareRepoPath, ref string) []GitDependency
	// WorkspaceFile returns the editor workspace file contents to write
	// inside the container (e.g. a VS Code multi-root workspace), or
	// ("", false) if this hook doesn't need one.
	WorkspaceFile(projectDir string) (string, bool)
}

// Registry returns every known hook in the fixed priority order
// detection runs in.
func Registry() []Hook {
	return []Hook{
		NewLeanHook(),
	}
}

// Select runs Detect on each registered hook in priority order and
// returns the first match, or nil if none applies.
func Select(ctx context.Context, bareRepoPath, ref string) Hook {
	for _, h := range Registry() {
		if h.Detect(ctx, bareRepoPath, ref) {
			return h
		}
	}
	return nil
}
