package prcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "pr-cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookupMissWhenNeverStored(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Lookup("org/repo", 42, DefaultTTL)
	require.False(t, ok)
}

func TestStoreThenLookupHits(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("org/repo", 42, "abc123", "feature-branch"))

	e, ok := c.Lookup("org/repo", 42, DefaultTTL)
	require.True(t, ok)
	require.Equal(t, "abc123", e.HeadSHA)
	require.Equal(t, "feature-branch", e.HeadRef)
}

func TestLookupMissesWhenOlderThanTTL(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("org/repo", 42, "abc123", "feature-branch"))

	_, ok := c.Lookup("org/repo", 42, -time.Second)
	require.False(t, ok)
}

func TestStoreOverwritesExistingEntry(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("org/repo", 42, "abc123", "feature-branch"))
	require.NoError(t, c.Store("org/repo", 42, "def456", "feature-branch-v2"))

	e, ok := c.Lookup("org/repo", 42, DefaultTTL)
	require.True(t, ok)
	require.Equal(t, "def456", e.HeadSHA)
	require.Equal(t, "feature-branch-v2", e.HeadRef)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("org/repo", 42, "abc123", "feature-branch"))
	require.NoError(t, c.Invalidate("org/repo", 42))

	_, ok := c.Lookup("org/repo", 42, DefaultTTL)
	require.False(t, ok)
}

func TestLookupIsolatedByRepoAndPRNumber(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("org/repo", 42, "abc123", "branch-a"))
	require.NoError(t, c.Store("org/other", 42, "zzz999", "branch-b"))

	_, ok := c.Lookup("org/repo", 43, DefaultTTL)
	require.False(t, ok)

	e, ok := c.Lookup("org/other", 42, DefaultTTL)
	require.True(t, ok)
	require.Equal(t, "zzz999", e.HeadSHA)
}
