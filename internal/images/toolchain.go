package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var toolchainSanitize = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func sanitizeToolchainVersion(version string) string {
	return strings.Trim(toolchainSanitize.ReplaceAllString(version, "-"), "-")
}

// ToolchainImageName returns the published alias for a lean toolchain
// variant image, e.g. "lean-4.9.0".
func ToolchainImageName(version string) string {
	return "lean-" + version
}

const staleLockAge = time.Hour

// lockPathFor returns the on-disk lock path guarding concurrent builds
// of a toolchain variant, per spec.md §4.4.
func lockPathFor(version string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("bubble-lean-%s.lock", sanitizeToolchainVersion(version)))
}

// acquireToolchainLock creates the lock file exclusively, reclaiming it
// first if it is older than staleLockAge (a build that crashed without
// cleaning up after itself).
func acquireToolchainLock(version string) (release func(), err error) {
	path := lockPathFor(version)

	if info, statErr := os.Stat(path); statErr == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(path)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("toolchain build for %s already in progress (lock %s): %w", version, path, err)
	}
	f.Close()
	return func() { _ = os.Remove(path) }, nil
}

// BuildLeanToolchainImage builds (or rebuilds) the lean-<version> image:
// the base "lean" image first if missing, then a toolchain install
// script run with LEAN_TOOLCHAIN=<version> in a dedicated builder
// container. Guarded by an on-disk lock: while one build of a version
// holds it, a concurrent call for the same version returns an error
// instead of starting a second build.
func (b *Builder) BuildLeanToolchainImage(ctx context.Context, version string) error {
	release, err := acquireToolchainLock(version)
	if err != nil {
		return err
	}
	defer release()

	if !b.rt.ImageExists(ctx, "lean") {
		if err := b.Build(ctx, "lean"); err != nil {
			return fmt.Errorf("building base lean image: %w", err)
		}
	}

	buildName := fmt.Sprintf("lean-tc-%s-builder", sanitizeToolchainVersion(version))
	alias := ToolchainImageName(version)

	_ = b.rt.Delete(ctx, buildName, true)

	if _, err := b.rt.Launch(ctx, buildName, "lean"); err != nil {
		return fmt.Errorf("launching toolchain builder for %s: %w", version, err)
	}
	if err := WaitForContainer(ctx, b.rt, buildName, 60*time.Second); err != nil {
		return err
	}

	script, err := readScript("lean-toolchain.sh")
	if err != nil {
		return err
	}
	script = fmt.Sprintf("export LEAN_TOOLCHAIN=%s\n%s", shellQuote(version), script)

	if _, err := b.rt.Exec(ctx, buildName, []string{"bash", "-c", script}); err != nil {
		return fmt.Errorf("running toolchain install script for %s: %w", version, err)
	}

	if err := b.rt.Stop(ctx, buildName); err != nil {
		return err
	}
	if err := b.rt.Publish(ctx, buildName, alias); err != nil {
		return err
	}
	return b.rt.Delete(ctx, buildName, false)
}
