package lakecache

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/runtime"
)

func writeTarWithName(t *testing.T, tarPath, name, content string) {
	t.Helper()
	f, err := os.Create(tarPath)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err = tw.Write([]byte(content))
	require.NoError(t, err)
}

func TestCacheKeySanitizesToolchain(t *testing.T) {
	assert.Equal(t, "mathlib4-leanprover-lean4-v4.9.0", CacheKey("mathlib4", "leanprover/lean4:v4.9.0"))
}

func TestExistsFalseWhenDirMissing(t *testing.T) {
	assert.False(t, Exists(t.TempDir(), "mathlib4", "v4.9.0"))
}

func TestExistsTrueWhenPopulated(t *testing.T) {
	base := t.TempDir()
	dir := CachePath(base, "mathlib4", "v4.9.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))
	assert.True(t, Exists(base, "mathlib4", "v4.9.0"))
}

func TestToolchainFromContainerReturnsUnknownOnFailure(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	rt.ExecFunc = func(name string, cmd []string) (string, error) { return "", assert.AnError }

	assert.Equal(t, "unknown", ToolchainFromContainer(ctx, rt, "box", "/home/user/mathlib4"))
}

func TestToolchainFromContainerParsesOutput(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	rt.ExecFunc = func(name string, cmd []string) (string, error) { return "leanprover/lean4:v4.9.0\n", nil }

	assert.Equal(t, "leanprover/lean4:v4.9.0", ToolchainFromContainer(ctx, rt, "box", "/home/user/mathlib4"))
}

func TestInjectReturnsFalseWhenNoCache(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	rt.ExecFunc = func(name string, cmd []string) (string, error) { return "v4.9.0", nil }

	applied, err := Inject(ctx, rt, "box", "/home/user/mathlib4", t.TempDir(), "mathlib4")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestInjectPushesAndExtractsExistingCache(t *testing.T) {
	base := t.TempDir()
	cacheDir := CachePath(base, "mathlib4", "v4.9.0")
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, ".lake", "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, ".lake", "build", "out.olean"), []byte("data"), 0o644))

	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	var extractRan bool
	rt.ExecFunc = func(name string, cmd []string) (string, error) {
		script := cmd[len(cmd)-1]
		if strings.Contains(script, "lean-toolchain") {
			return "v4.9.0", nil
		}
		if strings.Contains(script, "tar xf") {
			extractRan = true
		}
		return "", nil
	}

	applied, err := Inject(ctx, rt, "box", "/home/user/mathlib4", base, "mathlib4")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, extractRan)
}

func TestSafeExtractTarRejectsAbsolutePaths(t *testing.T) {
	dest := t.TempDir()
	tarPath := filepath.Join(t.TempDir(), "evil.tar")
	writeTarWithName(t, tarPath, "/etc/passwd", "pwned")

	err := safeExtractTar(tarPath, dest)
	assert.Error(t, err)
}

func TestSafeExtractTarRejectsPathTraversal(t *testing.T) {
	dest := t.TempDir()
	tarPath := filepath.Join(t.TempDir(), "evil.tar")
	writeTarWithName(t, tarPath, "../escape", "pwned")

	err := safeExtractTar(tarPath, dest)
	assert.Error(t, err)
}

func TestSafeExtractTarExtractsRegularFiles(t *testing.T) {
	dest := t.TempDir()
	tarPath := filepath.Join(t.TempDir(), "good.tar")
	writeTarWithName(t, tarPath, ".lake/build/out.olean", "data")

	require.NoError(t, safeExtractTar(tarPath, dest))
	data, err := os.ReadFile(filepath.Join(dest, ".lake", "build", "out.olean"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
