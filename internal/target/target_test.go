package target

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/reporegistry"
)

func fakeGit(responses map[string]string) gitRunner {
	return func(dir string, args ...string) (string, error) {
		key := dir + "|" + argsKey(args)
		out, ok := responses[key]
		if !ok {
			return "", assertErr
		}
		return out, nil
	}
}

var assertErr = fmtErrorf("no fake response")

func fmtErrorf(s string) error { return &ParseError{msg: s} }

func argsKey(args []string) string {
	s := ""
	for i, a := range args {
		if i > 0 {
			s += " "
		}
		s += a
	}
	return s
}

func newRegistry(t *testing.T) *reporegistry.RepoRegistry {
	t.Helper()
	return reporegistry.New(filepath.Join(t.TempDir(), "repos.json"))
}

func TestParsePullURL(t *testing.T) {
	reg := newRegistry(t)
	tg, err := parseWithGit("https://github.com/leanprover/lean4/pull/42", reg, runGit)
	require.NoError(t, err)
	assert.Equal(t, "leanprover", tg.Owner)
	assert.Equal(t, "lean4", tg.Repo)
	assert.Equal(t, KindPR, tg.Kind)
	assert.Equal(t, "42", tg.Ref)
}

func TestParseBarePRNumber(t *testing.T) {
	reg := newRegistry(t)
	git := fakeGit(map[string]string{
		".|rev-parse --show-toplevel":        "/repo",
		"/repo|remote get-url origin":        "git@github.com:myorg/myrepo.git",
	})
	tg, err := parseWithGit("123", reg, git)
	require.NoError(t, err)
	assert.Equal(t, "myorg", tg.Owner)
	assert.Equal(t, "myrepo", tg.Repo)
	assert.Equal(t, KindPR, tg.Kind)
	assert.Equal(t, "123", tg.Ref)
}

func TestParseBarePRNumberNotAGitHubRepo(t *testing.T) {
	reg := newRegistry(t)
	git := fakeGit(map[string]string{})
	_, err := parseWithGit("123", reg, git)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "looks like a PR number")
}

func TestParseOwnerRepo(t *testing.T) {
	reg := newRegistry(t)
	tg, err := parseWithGit("leanprover/lean4", reg, runGit)
	require.NoError(t, err)
	assert.Equal(t, KindRepo, tg.Kind)
	assert.Equal(t, "", tg.Ref)
}

func TestParseTreeBranch(t *testing.T) {
	reg := newRegistry(t)
	tg, err := parseWithGit("leanprover/lean4/tree/feature/foo", reg, runGit)
	require.NoError(t, err)
	assert.Equal(t, KindBranch, tg.Kind)
	assert.Equal(t, "feature/foo", tg.Ref)
}

func TestParseCommit(t *testing.T) {
	reg := newRegistry(t)
	tg, err := parseWithGit("leanprover/lean4/commit/abc123", reg, runGit)
	require.NoError(t, err)
	assert.Equal(t, KindCommit, tg.Kind)
	assert.Equal(t, "abc123", tg.Ref)
}

func TestParseEmptyTarget(t *testing.T) {
	reg := newRegistry(t)
	_, err := parseWithGit("", reg, runGit)
	require.Error(t, err)
}

func TestParseShortNameUnknown(t *testing.T) {
	reg := newRegistry(t)
	_, err := parseWithGit("mathlib4", reg, runGit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown repo")
}

func TestParseShortNameResolved(t *testing.T) {
	reg := newRegistry(t)
	reg.Register("leanprover-community", "mathlib4")
	tg, err := parseWithGit("mathlib4", reg, runGit)
	require.NoError(t, err)
	assert.Equal(t, "leanprover-community", tg.Owner)
	assert.Equal(t, KindRepo, tg.Kind)
}

func TestParseShortNameAmbiguous(t *testing.T) {
	reg := newRegistry(t)
	reg.Register("a", "batteries")
	reg.Register("b", "batteries")
	_, err := parseWithGit("batteries", reg, runGit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestTargetValidate(t *testing.T) {
	valid := Target{Owner: "a", Repo: "b", Kind: KindPR, Ref: "5"}
	assert.NoError(t, valid.Validate())

	badPR := Target{Owner: "a", Repo: "b", Kind: KindPR, Ref: "x"}
	assert.Error(t, badPR.Validate())

	badCommit := Target{Owner: "a", Repo: "b", Kind: KindCommit, Ref: "zzz"}
	assert.Error(t, badCommit.Validate())

	localNotBranch := Target{Owner: "a", Repo: "b", Kind: KindRepo, LocalPath: "/x"}
	assert.Error(t, localNotBranch.Validate())
}
