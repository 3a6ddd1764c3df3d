// Package gitstore manages the shared bare-repo object cache described in
// spec.md §3/§4.3: one bare mirror per GitHub repo under <data-dir>/git,
// guarded by a per-repo advisory file lock so concurrent callers never
// race a clone or fetch.
package gitstore

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Store manages bare repo mirrors rooted at dir (<data-dir>/git).
type Store struct {
	dir string
}

// New returns a Store rooted at dir. dir is created lazily by operations.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// BareRepoPath returns <dir>/<repo>.git for "owner/repo".
func (s *Store) BareRepoPath(orgRepo string) string {
	repo := repoName(orgRepo)
	return filepath.Join(s.dir, repo+".git")
}

func (s *Store) lockPath(orgRepo string) string {
	return s.BareRepoPath(orgRepo) + ".lock"
}

func repoName(orgRepo string) string {
	parts := strings.Split(orgRepo, "/")
	return parts[len(parts)-1]
}

func githubURL(orgRepo string) string {
	return fmt.Sprintf("https://github.com/%s.git", orgRepo)
}

// RepoIsKnown reports whether a bare mirror for orgRepo already exists.
// Used by the relay to reject requests for repos never opened locally.
func (s *Store) RepoIsKnown(orgRepo string) bool {
	_, err := os.Stat(s.BareRepoPath(orgRepo))
	return err == nil
}

// InitBareRepo creates a bare mirror for orgRepo if one doesn't already
// exist, with the heads/tags/pull-head fetch refspec triple spec.md §3
// requires. Safe to call concurrently from multiple processes: the
// double-checked lock means exactly one clone is ever performed.
func (s *Store) InitBareRepo(orgRepo string) (string, error) {
	path := s.BareRepoPath(orgRepo)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	lock, err := acquireLock(s.lockPath(orgRepo))
	if err != nil {
		return "", fmt.Errorf("locking %s: %w", orgRepo, err)
	}
	defer lock.Unlock()

	// Re-check now that we hold the lock — another process may have won
	// the race while we were waiting.
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := runGit("", "clone", "--bare", githubURL(orgRepo), path); err != nil {
		return "", fmt.Errorf("cloning bare mirror of %s: %w", orgRepo, err)
	}
	if err := runGit(path, "config", "remote.origin.fetch", "+refs/heads/*:refs/heads/*"); err != nil {
		return "", err
	}
	if err := runGit(path, "config", "--add", "remote.origin.fetch", "+refs/tags/*:refs/tags/*"); err != nil {
		return "", err
	}
	if err := runGit(path, "config", "--add", "remote.origin.fetch", "+refs/pull/*/head:refs/pull/*/head"); err != nil {
		return "", err
	}
	return path, nil
}

// EnsureRevAvailable checks whether rev is present in orgRepo's bare
// mirror, fetching first if not. Returns whether rev resolves to a
// commit after the (possible) fetch. The double-check pattern here
// mirrors InitBareRepo: safe under concurrent callers.
func (s *Store) EnsureRevAvailable(orgRepo, rev string) (bool, error) {
	path, err := s.InitBareRepo(orgRepo)
	if err != nil {
		return false, err
	}

	if isCommit(path, rev) {
		return true, nil
	}

	lock, err := acquireLock(s.lockPath(orgRepo))
	if err != nil {
		return false, fmt.Errorf("locking %s: %w", orgRepo, err)
	}
	defer lock.Unlock()

	if isCommit(path, rev) {
		return true, nil
	}

	if err := runGit(path, "fetch", "--all"); err != nil {
		return false, fmt.Errorf("fetching %s: %w", orgRepo, err)
	}
	return isCommit(path, rev), nil
}

func isCommit(bareRepoPath, rev string) bool {
	// "--" prevents rev being interpreted as an option (spec.md §4.3).
	out, err := exec.Command("git", "-C", bareRepoPath, "cat-file", "-t", "--", rev).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "commit"
}

// FetchRef fetches refspec into orgRepo's bare mirror under its lock.
func (s *Store) FetchRef(orgRepo, refspec string) error {
	path := s.BareRepoPath(orgRepo)
	lock, err := acquireLock(s.lockPath(orgRepo))
	if err != nil {
		return fmt.Errorf("locking %s: %w", orgRepo, err)
	}
	defer lock.Unlock()
	return runGit(path, "fetch", "origin", refspec)
}

// UpdateAllRepos fetches --all --prune for every bare mirror under the
// store, continuing past individual failures (logged by the caller via
// the returned per-repo errors map).
func (s *Store) UpdateAllRepos() map[string]error {
	failures := map[string]error{}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return failures
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".git") {
			continue
		}
		repo := strings.TrimSuffix(e.Name(), ".git")
		path := filepath.Join(s.dir, e.Name())
		if err := s.updateOne(repo, path); err != nil {
			failures[repo] = err
		}
	}
	return failures
}

func (s *Store) updateOne(repo, path string) error {
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return runGit(path, "fetch", "--all", "--prune")
}

func runGit(dir string, args ...string) error {
	argv := args
	if dir != "" {
		argv = append([]string{"-C", dir}, args...)
	}
	cmd := exec.Command("git", argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
