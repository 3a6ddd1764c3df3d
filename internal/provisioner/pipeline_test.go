package provisioner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/images"
	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/target"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPipeline(t *testing.T) (*Pipeline, *runtime.Fake) {
	t.Helper()
	rt := runtime.NewFake()
	dataDir := t.TempDir()
	p := &Pipeline{
		RT:        rt,
		Store:     gitstore.New(filepath.Join(dataDir, "git")),
		Lifecycle: lifecycle.New(filepath.Join(dataDir, "registry.json")),
		Builder:   images.NewBuilder(rt, testLogger()),
		Config:    config.Defaults(),
		DataDir:   dataDir,
		Logger:    testLogger(),
	}
	return p, rt
}

func TestFindExistingMatchesOriginalTargetString(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "leanprover/mathlib4", "base")
	require.NoError(t, err)

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindRepo, Original: "leanprover/mathlib4"}
	name, err := p.findExisting(ctx, tgt, "")
	require.NoError(t, err)
	assert.Equal(t, "leanprover/mathlib4", name)
}

func TestFindExistingMatchesRegisteredPR(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "mathlib4-pr-1234", "base")
	require.NoError(t, err)
	require.NoError(t, p.Lifecycle.Register("mathlib4-pr-1234", lifecycle.BubbleInfo{
		OrgRepo: "leanprover/mathlib4", PR: 1234,
	}))

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindPR, Ref: "1234", Original: "leanprover/mathlib4/pull/1234"}
	name, err := p.findExisting(ctx, tgt, "")
	require.NoError(t, err)
	assert.Equal(t, "mathlib4-pr-1234", name)
}

func TestFindExistingReturnsEmptyWhenNoMatch(t *testing.T) {
	p, _ := newTestPipeline(t)
	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindRepo, Original: "leanprover/mathlib4"}
	name, err := p.findExisting(context.Background(), tgt, "")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestGenerateUniqueNameDerivesFromTarget(t *testing.T) {
	p, _ := newTestPipeline(t)
	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindPR, Ref: "1234"}
	name, err := p.generateUniqueName(context.Background(), tgt, "")
	require.NoError(t, err)
	assert.Equal(t, "mathlib4-pr-1234", name)
}

func TestGenerateUniqueNameHonorsCustomName(t *testing.T) {
	p, _ := newTestPipeline(t)
	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindRepo}
	name, err := p.generateUniqueName(context.Background(), tgt, "my-box")
	require.NoError(t, err)
	assert.Equal(t, "my-box", name)
}

func TestGenerateUniqueNameDeduplicatesAgainstLiveContainers(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "mathlib4-pr-1234", "base")
	require.NoError(t, err)

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindPR, Ref: "1234"}
	name, err := p.generateUniqueName(ctx, tgt, "")
	require.NoError(t, err)
	assert.Equal(t, "mathlib4-pr-1234-2", name)
}

func TestReattachStartsStoppedContainer(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	require.NoError(t, rt.Stop(ctx, "box"))

	require.NoError(t, p.reattach(ctx, "box"))

	containers, err := rt.ListContainers(ctx, true)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, runtime.StateRunning, containers[0].State)
}

func TestReattachUnfreezesFrozenContainer(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "box", "base")
	require.NoError(t, err)
	require.NoError(t, rt.Freeze(ctx, "box"))

	require.NoError(t, p.reattach(ctx, "box"))

	containers, err := rt.ListContainers(ctx, true)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, runtime.StateRunning, containers[0].State)
}

func TestReattachErrorsWhenContainerMissing(t *testing.T) {
	p, _ := newTestPipeline(t)
	err := p.reattach(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestResolveRefSourceUsesLocalPath(t *testing.T) {
	p, _ := newTestPipeline(t)
	tgt := target.Target{Owner: "me", Repo: "myrepo", Kind: target.KindBranch, Ref: "main", LocalPath: "/home/user/myrepo"}
	refSource, mountName, barePath, err := p.resolveRefSource(context.Background(), tgt, false)
	require.NoError(t, err)
	assert.Equal(t, "/home/user/myrepo", refSource)
	assert.Equal(t, "myrepo.git", mountName)
	assert.Equal(t, "/home/user/myrepo", barePath)
}

func TestResolveRefSourceRejectsNoCloneWhenUnknown(t *testing.T) {
	p, _ := newTestPipeline(t)
	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindRepo}
	_, _, _, err := p.resolveRefSource(context.Background(), tgt, true)
	assert.Error(t, err)
}

func TestEnsureImageBuildsMissingImage(t *testing.T) {
	p, rt := newTestPipeline(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.sh"), []byte("echo base"), 0o644))
	origScripts := images.ScriptsDir
	images.ScriptsDir = dir
	t.Cleanup(func() { images.ScriptsDir = origScripts })

	require.NoError(t, p.ensureImage(context.Background(), "base"))
	assert.True(t, rt.ImageExists(context.Background(), "base"))
}

func TestEnsureImageNoopWhenPresent(t *testing.T) {
	p, rt := newTestPipeline(t)
	ctx := context.Background()
	_, err := rt.Launch(ctx, "seed", "x")
	require.NoError(t, err)
	require.NoError(t, rt.Publish(ctx, "seed", "base"))

	require.NoError(t, p.ensureImage(ctx, "base"))
}

func TestIsToolchainVariant(t *testing.T) {
	assert.True(t, isToolchainVariant("lean-4.9.0"))
	assert.False(t, isToolchainVariant("base"))
	assert.False(t, isToolchainVariant("lean"))
}

func TestVersionFromToolchainImage(t *testing.T) {
	assert.Equal(t, "4.9.0", versionFromToolchainImage("lean-4.9.0"))
}
