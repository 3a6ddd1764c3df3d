package gitstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBareRepoPath(t *testing.T) {
	s := New("/tmp/git")
	assert.Equal(t, "/tmp/git/Lean4.git", s.BareRepoPath("leanprover/Lean4"))
}

func TestRepoIsKnownFalseInitially(t *testing.T) {
	s := New(t.TempDir())
	assert.False(t, s.RepoIsKnown("leanprover/Lean4"))
}

func TestInitBareRepoSkipsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := s.BareRepoPath("leanprover/Lean4")
	require.NoError(t, os.MkdirAll(path, 0o755))

	// Should return immediately without attempting a clone (which would
	// fail: no network access and no real upstream in the test sandbox).
	got, err := s.InitBareRepo("leanprover/Lean4")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestEnsureRevAvailableErrorsWhenRevMissingAndFetchFails(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := s.BareRepoPath("leanprover/Lean4")
	require.NoError(t, os.MkdirAll(path, 0o755))

	// isCommit will fail (no real git objects), so this should attempt a
	// fetch and fail since there's no real remote configured; we only
	// check that it gets through locking and the initial short-circuit
	// path without panicking when the repo dir already exists.
	ok, err := s.EnsureRevAvailable("leanprover/Lean4", "deadbeef")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestUpdateAllReposSkipsNonGitDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-repo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))

	s := New(dir)
	failures := s.UpdateAllRepos()
	assert.Empty(t, failures)
}

func TestLockPathIsCompanionFile(t *testing.T) {
	s := New("/tmp/git")
	assert.Equal(t, "/tmp/git/Lean4.git.lock", s.lockPath("leanprover/Lean4"))
}

func TestFileLockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	lock, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestGithubURL(t *testing.T) {
	assert.Equal(t, "https://github.com/leanprover/Lean4.git", githubURL("leanprover/Lean4"))
}
