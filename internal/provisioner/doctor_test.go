package provisioner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/runtime"
)

func TestReconcileFindsOrphanedRegistryEntry(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Register("ghost", lifecycle.BubbleInfo{OrgRepo: "leanprover/mathlib4"}))

	discrepancies, err := Reconcile(ctx, rt, reg)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, "ghost", discrepancies[0].Name)
	assert.Equal(t, KindOrphanedRegistryEntry, discrepancies[0].Kind)
}

func TestReconcileFindsUnregisteredContainer(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "mystery", "base")
	require.NoError(t, err)
	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))

	discrepancies, err := Reconcile(ctx, rt, reg)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, "mystery", discrepancies[0].Name)
	assert.Equal(t, KindUnregisteredContainer, discrepancies[0].Kind)
}

func TestReconcileCleanWhenInSync(t *testing.T) {
	rt := runtime.NewFake()
	ctx := context.Background()
	_, err := rt.Launch(ctx, "mathlib4-main-1", "base")
	require.NoError(t, err)
	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Register("mathlib4-main-1", lifecycle.BubbleInfo{OrgRepo: "leanprover/mathlib4"}))

	discrepancies, err := Reconcile(ctx, rt, reg)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestResolveRemovesOrphanedEntryOnly(t *testing.T) {
	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Register("ghost", lifecycle.BubbleInfo{OrgRepo: "leanprover/mathlib4"}))

	require.NoError(t, Resolve(Discrepancy{Name: "ghost", Kind: KindOrphanedRegistryEntry}, reg))
	_, ok := reg.Get("ghost")
	assert.False(t, ok)

	require.NoError(t, Resolve(Discrepancy{Name: "mystery", Kind: KindUnregisteredContainer}, reg))
}
