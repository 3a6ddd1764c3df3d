// Package lakecache implements bubble's shared .lake build-artifact
// cache, keyed by repo short name + toolchain version, grounded on
// original_source/bubble/lake_cache.py. Lake's own native shared-cache
// support (noted as "planned" in that file) hasn't landed, so this
// custom host-side tar-transfer mechanism remains the grounding.
package lakecache

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kim-em/bubble/internal/runtime"
)

var toolchainSanitize = strings.NewReplacer("/", "-", ":", "-")

// CacheKey derives the cache directory name for a repo+toolchain pair.
func CacheKey(repoShort, toolchain string) string {
	return repoShort + "-" + toolchainSanitize.Replace(toolchain)
}

// CachePath returns the cache directory for repoShort+toolchain under
// baseDir (callers pass the data directory's lake-snapshots
// subdirectory).
func CachePath(baseDir, repoShort, toolchain string) string {
	return filepath.Join(baseDir, CacheKey(repoShort, toolchain))
}

// Exists reports whether a non-empty cache directory exists for
// repoShort+toolchain.
func Exists(baseDir, repoShort, toolchain string) bool {
	path := CachePath(baseDir, repoShort, toolchain)
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// ToolchainFromContainer reads the lean-toolchain file from a
// container's checked-out project, or "unknown" if it can't be read.
func ToolchainFromContainer(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string) string {
	script := fmt.Sprintf("cat %s/lean-toolchain", shQuote(projectDir))
	out, err := rt.Exec(ctx, container, []string{"su", "-", "user", "-c", script})
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(out)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Populate archives a container's .lake directory and extracts it into
// the host-side shared cache for repoShort+toolchain, so a later
// container for the same repo+toolchain can skip the build.
func Populate(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir, baseDir, repoShort string) error {
	toolchain := ToolchainFromContainer(ctx, rt, container, projectDir)
	dest := CachePath(baseDir, repoShort, toolchain)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating lake cache dir: %w", err)
	}

	archiveScript := fmt.Sprintf("cd %s && tar cf /tmp/lake-cache.tar .lake/", shQuote(projectDir))
	if _, err := rt.Exec(ctx, container, []string{"su", "-", "user", "-c", archiveScript}); err != nil {
		return fmt.Errorf("archiving .lake in %s: %w", container, err)
	}

	tarFile := filepath.Join(dest, "lake-cache.tar")
	defer os.Remove(tarFile)
	if err := rt.PullFile(ctx, container, "/tmp/lake-cache.tar", tarFile); err != nil {
		return fmt.Errorf("pulling lake cache archive from %s: %w", container, err)
	}

	return safeExtractTar(tarFile, dest)
}

// Inject extracts a previously populated cache into a container's
// project directory, reporting whether a cache was found and applied.
func Inject(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir, baseDir, repoShort string) (bool, error) {
	toolchain := ToolchainFromContainer(ctx, rt, container, projectDir)
	src := CachePath(baseDir, repoShort, toolchain)
	if info, err := os.Stat(filepath.Join(src, ".lake")); err != nil || !info.IsDir() {
		return false, nil
	}

	tarFile := filepath.Join(src, "lake-cache.tar")
	if err := archiveDir(src, ".lake", tarFile); err != nil {
		return false, fmt.Errorf("archiving cached .lake: %w", err)
	}
	defer os.Remove(tarFile)

	if err := rt.PushFile(ctx, container, tarFile, "/tmp/lake-cache.tar"); err != nil {
		return false, fmt.Errorf("pushing lake cache archive to %s: %w", container, err)
	}

	extractScript := fmt.Sprintf("cd %s && tar xf /tmp/lake-cache.tar && rm /tmp/lake-cache.tar", shQuote(projectDir))
	if _, err := rt.Exec(ctx, container, []string{"su", "-", "user", "-c", extractScript}); err != nil {
		return false, fmt.Errorf("extracting lake cache in %s: %w", container, err)
	}
	return true, nil
}

// safeExtractTar extracts tarPath into dest, rejecting absolute paths,
// ".." traversal, symlinks/hardlinks, and any member that would resolve
// outside dest — a direct port of the original's _safe_extract_tar.
func safeExtractTar(tarPath, dest string) error {
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if filepath.IsAbs(hdr.Name) {
			return fmt.Errorf("unsafe tar member (absolute path): %s", hdr.Name)
		}
		for _, part := range strings.Split(hdr.Name, "/") {
			if part == ".." {
				return fmt.Errorf("unsafe tar member (path traversal): %s", hdr.Name)
			}
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return fmt.Errorf("unsafe tar member (symlink/hardlink): %s", hdr.Name)
		}
		if hdr.Typeflag == tar.TypeChar || hdr.Typeflag == tar.TypeBlock || hdr.Typeflag == tar.TypeFifo {
			return fmt.Errorf("unsafe tar member (device/fifo): %s", hdr.Name)
		}

		target := filepath.Join(destAbs, hdr.Name)
		targetAbs, err := filepath.Abs(target)
		if err != nil || !strings.HasPrefix(targetAbs, destAbs) {
			return fmt.Errorf("unsafe tar member (escapes dest): %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// archiveDir tars subDir (relative to root) into tarPath, for the
// host's own trusted cache contents.
func archiveDir(root, subDir, tarPath string) error {
	out, err := os.Create(tarPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	base := filepath.Join(root, subDir)
	return filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
