// Package target parses user-supplied strings (URLs, owner/repo, short
// names, bare PR numbers, local paths) into a canonical Target.
package target

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kim-em/bubble/internal/reporegistry"
)

// Kind enumerates the shape of a parsed target.
type Kind string

const (
	KindRepo   Kind = "repo"
	KindPR     Kind = "pr"
	KindBranch Kind = "branch"
	KindCommit Kind = "commit"
)

var (
	ownerRepoRE = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hexRE       = regexp.MustCompile(`^[0-9a-fA-F]+$`)

	sshRemoteRE   = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
	httpsRemoteRE = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?$`)
)

// Target is the canonicalized description of what to open.
type Target struct {
	Owner     string
	Repo      string
	Kind      Kind
	Ref       string
	LocalPath string
	Original  string
}

// OrgRepo returns "owner/repo".
func (t Target) OrgRepo() string { return t.Owner + "/" + t.Repo }

// ShortName returns the lowercased repo name used for registry lookups.
func (t Target) ShortName() string { return strings.ToLower(t.Repo) }

// Validate checks the invariants spec.md §3 places on a Target.
func (t Target) Validate() error {
	if !ownerRepoRE.MatchString(t.Owner) {
		return fmt.Errorf("invalid owner %q", t.Owner)
	}
	if !ownerRepoRE.MatchString(t.Repo) {
		return fmt.Errorf("invalid repo %q", t.Repo)
	}
	switch t.Kind {
	case KindPR:
		if _, err := strconv.Atoi(t.Ref); err != nil || t.Ref == "" {
			return fmt.Errorf("pr ref must be a positive integer, got %q", t.Ref)
		}
		if n, _ := strconv.Atoi(t.Ref); n <= 0 {
			return fmt.Errorf("pr ref must be positive, got %q", t.Ref)
		}
	case KindCommit:
		if t.Ref == "" || !hexRE.MatchString(t.Ref) {
			return fmt.Errorf("commit ref must be hex, got %q", t.Ref)
		}
	}
	if t.LocalPath != "" && t.Kind != KindBranch {
		return fmt.Errorf("local_path is only valid for branch targets")
	}
	return nil
}

// ParseError is returned for any unparseable target string. Candidates
// is set only for an ambiguous short name, holding the owner/repo
// options the caller might have meant.
type ParseError struct {
	msg        string
	Candidates []string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...any) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// gitRunner abstracts `git` invocations so tests can substitute a fake.
type gitRunner func(dir string, args ...string) (string, error)

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func parseGitHubRemote(url string) (owner, repo string, err error) {
	if m := sshRemoteRE.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}
	if m := httpsRemoteRE.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}
	return "", "", parseErrorf("remote URL is not a GitHub repository: %s", url)
}

// cwdRepoInfo returns (owner, repo) for the repo rooted at dir's origin remote.
func cwdRepoInfo(dir string, git gitRunner) (owner, repo, root string, err error) {
	root, err = git(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", "", "", parseErrorf("%s is not a git repository.", dir)
	}
	remoteURL, err := git(root, "remote", "get-url", "origin")
	if err != nil || remoteURL == "" {
		return "", "", "", parseErrorf("No remote 'origin' found. bubble needs a GitHub remote to clone from.")
	}
	owner, repo, err = parseGitHubRemote(remoteURL)
	if err != nil {
		return "", "", "", err
	}
	return owner, repo, root, nil
}

func parseLocalPath(raw string, git gitRunner) (Target, error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return Target{}, parseErrorf("cannot resolve path: %s", raw)
	}
	owner, repo, root, err := cwdRepoInfo(abs, git)
	if err != nil {
		return Target{}, err
	}
	branch, err := git(root, "symbolic-ref", "--short", "HEAD")
	if err != nil || branch == "" {
		return Target{}, parseErrorf("HEAD is detached. Check out a branch first.")
	}
	status, err := git(root, "status", "--porcelain")
	if err == nil && strings.TrimSpace(status) != "" {
		return Target{}, parseErrorf("Working tree has uncommitted changes. Commit or stash them first.")
	}
	return Target{
		Owner: owner, Repo: repo, Kind: KindBranch, Ref: branch,
		Original: raw, LocalPath: root,
	}, nil
}

// Parse parses a raw target string using the given RepoRegistry for short
// name resolution. See spec.md §4.1 for the accepted shapes.
func Parse(raw string, registry *reporegistry.RepoRegistry) (Target, error) {
	return parseWithGit(raw, registry, runGit)
}

func parseWithGit(raw string, registry *reporegistry.RepoRegistry, git gitRunner) (Target, error) {
	s := strings.TrimSpace(raw)
	original := s

	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".") {
		t, err := parseLocalPath(s, git)
		if err == nil {
			registry.Register(t.Owner, t.Repo)
		}
		return t, err
	}

	s = stripPrefix(s, "https://")
	s = stripPrefix(s, "http://")
	s = stripPrefix(s, "github.com/")
	s = strings.TrimSuffix(s, "/")

	if s == "" {
		return Target{}, parseErrorf("Empty target: %q", raw)
	}

	if isAllDigits(s) {
		owner, repo, _, err := cwdRepoInfo(".", git)
		if err != nil {
			return Target{}, parseErrorf(
				"'%s' looks like a PR number, but the current directory is not a git repository with a GitHub remote.", s)
		}
		t := Target{Owner: owner, Repo: repo, Kind: KindPR, Ref: s, Original: original}
		registry.Register(owner, repo)
		return t, nil
	}

	parts := strings.Split(s, "/")

	if len(parts) >= 4 && parts[2] == "pull" {
		owner, repo := parts[0], parts[1]
		n, err := strconv.Atoi(parts[3])
		if err != nil {
			return Target{}, parseErrorf("Invalid PR number: %q", parts[3])
		}
		t := Target{Owner: owner, Repo: repo, Kind: KindPR, Ref: strconv.Itoa(n), Original: original}
		registry.Register(owner, repo)
		return t, nil
	}
	if len(parts) >= 4 && parts[2] == "tree" {
		owner, repo := parts[0], parts[1]
		branch := strings.Join(parts[3:], "/")
		if branch == "" {
			return Target{}, parseErrorf("Empty branch name in: %q", raw)
		}
		t := Target{Owner: owner, Repo: repo, Kind: KindBranch, Ref: branch, Original: original}
		registry.Register(owner, repo)
		return t, nil
	}
	if len(parts) >= 4 && parts[2] == "commit" {
		owner, repo := parts[0], parts[1]
		t := Target{Owner: owner, Repo: repo, Kind: KindCommit, Ref: parts[3], Original: original}
		registry.Register(owner, repo)
		return t, nil
	}
	if len(parts) == 2 {
		owner, repo := parts[0], parts[1]
		t := Target{Owner: owner, Repo: repo, Kind: KindRepo, Ref: "", Original: original}
		registry.Register(owner, repo)
		return t, nil
	}

	if len(parts) >= 3 && parts[1] == "pull" {
		short := parts[0]
		if resolved, ok := registry.Resolve(short); ok {
			owner, repo, _ := strings.Cut(resolved, "/")
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				return Target{}, parseErrorf("Invalid PR number: %q", parts[2])
			}
			t := Target{Owner: owner, Repo: repo, Kind: KindPR, Ref: strconv.Itoa(n), Original: original}
			registry.Register(owner, repo)
			return t, nil
		}
		return Target{}, ambiguousOrUnknown(registry, short)
	}
	if len(parts) >= 3 && parts[1] == "tree" {
		short := parts[0]
		if resolved, ok := registry.Resolve(short); ok {
			owner, repo, _ := strings.Cut(resolved, "/")
			branch := strings.Join(parts[2:], "/")
			t := Target{Owner: owner, Repo: repo, Kind: KindBranch, Ref: branch, Original: original}
			registry.Register(owner, repo)
			return t, nil
		}
		return Target{}, ambiguousOrUnknown(registry, short)
	}
	if len(parts) == 1 {
		short := parts[0]
		if resolved, ok := registry.Resolve(short); ok {
			owner, repo, _ := strings.Cut(resolved, "/")
			t := Target{Owner: owner, Repo: repo, Kind: KindRepo, Ref: "", Original: original}
			registry.Register(owner, repo)
			return t, nil
		}
		if registry.IsAmbiguous(short) {
			return Target{}, ambiguousOrUnknown(registry, short)
		}
		return Target{}, parseErrorf(
			"Unknown repo '%s'. Use the full owner/repo form first. If this is a local path, use ./%s or --path.",
			short, short)
	}

	return Target{}, parseErrorf(
		"Cannot parse target: %q. Use a GitHub URL or owner/repo format. For a local path, use ./%s or --path.",
		raw, raw)
}

func ambiguousOrUnknown(registry *reporegistry.RepoRegistry, short string) error {
	if registry.IsAmbiguous(short) {
		opts := registry.AmbiguousOptions(short)
		err := parseErrorf("'%s' is ambiguous. Did you mean: %s?", short, strings.Join(opts, ", ")).(*ParseError)
		err.Candidates = opts
		return err
	}
	return parseErrorf("Unknown repo '%s'. Use the full owner/repo form first.", short)
}

func stripPrefix(s, prefix string) string {
	return strings.TrimPrefix(s, prefix)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
