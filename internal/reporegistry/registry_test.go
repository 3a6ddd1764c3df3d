package reporegistry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	r := New(path)

	r.Register("leanprover", "lean4")
	owner, ok := r.Resolve("lean4")
	require.True(t, ok)
	assert.Equal(t, "leanprover/lean4", owner)

	// reload from disk to confirm persistence
	r2 := New(path)
	owner2, ok := r2.Resolve("lean4")
	require.True(t, ok)
	assert.Equal(t, "leanprover/lean4", owner2)
}

func TestRegisterBecomesAmbiguous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	r := New(path)

	r.Register("leanprover", "batteries")
	r.Register("someoneelse", "batteries")

	_, ok := r.Resolve("batteries")
	assert.False(t, ok)
	assert.True(t, r.IsAmbiguous("batteries"))
	opts := r.AmbiguousOptions("batteries")
	assert.ElementsMatch(t, []string{"leanprover/batteries", "someoneelse/batteries"}, opts)
}

func TestRegisterSameRepoRefreshesLastUsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.json")
	r := New(path)

	r.Register("leanprover", "lean4")
	r.Register("leanprover", "lean4")

	assert.False(t, r.IsAmbiguous("lean4"))
	owner, ok := r.Resolve("lean4")
	require.True(t, ok)
	assert.Equal(t, "leanprover/lean4", owner)
}

func TestResolveUnknown(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "repos.json"))
	_, ok := r.Resolve("nope")
	assert.False(t, ok)
	assert.False(t, r.IsAmbiguous("nope"))
}
