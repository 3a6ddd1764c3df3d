package provisioner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/target"
)

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shQuote("it's"))
	assert.Equal(t, `'plain'`, shQuote("plain"))
}

func newCloneTestRuntime(t *testing.T, execFunc func(string, []string) (string, error)) *runtime.Fake {
	t.Helper()
	rt := runtime.NewFake()
	rt.ExecFunc = execFunc
	_, err := rt.Launch(context.Background(), "box", "base")
	require.NoError(t, err)
	return rt
}

func TestCloneAndCheckoutClonesThenCheckoutsBranch(t *testing.T) {
	var commands []string
	rt := newCloneTestRuntime(t, func(name string, cmd []string) (string, error) {
		commands = append(commands, strings.Join(cmd, " "))
		return "", nil
	})

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindBranch, Ref: "fix-grind"}
	err := CloneAndCheckout(context.Background(), rt, "box", "mathlib4.git", "https://github.com/leanprover/mathlib4.git", "/home/user/mathlib4", tgt)
	require.NoError(t, err)

	require.Len(t, commands, 2)
	assert.Contains(t, commands[0], "git clone --reference /shared/git/'mathlib4.git'")
	assert.Contains(t, commands[1], "git switch 'fix-grind'")
}

func TestCloneAndCheckoutCommit(t *testing.T) {
	var commands []string
	rt := newCloneTestRuntime(t, func(name string, cmd []string) (string, error) {
		commands = append(commands, strings.Join(cmd, " "))
		return "", nil
	})

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindCommit, Ref: "abc123"}
	err := CloneAndCheckout(context.Background(), rt, "box", "mathlib4.git", "https://github.com/leanprover/mathlib4.git", "/home/user/mathlib4", tgt)
	require.NoError(t, err)

	require.Len(t, commands, 2)
	assert.Contains(t, commands[1], "git checkout 'abc123'")
}

func TestCloneAndCheckoutPRFallsBackWhenGitHubLookupFails(t *testing.T) {
	var commands []string
	rt := newCloneTestRuntime(t, func(name string, cmd []string) (string, error) {
		commands = append(commands, strings.Join(cmd, " "))
		return "", nil
	})

	orig := LookupPRHeadFunc
	defer func() { LookupPRHeadFunc = orig }()
	LookupPRHeadFunc = func(ctx context.Context, orgRepo string, pr int) (GitHubPRHead, error) {
		return GitHubPRHead{}, assert.AnError
	}

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindPR, Ref: "1234"}
	err := CloneAndCheckout(context.Background(), rt, "box", "mathlib4.git", "https://github.com/leanprover/mathlib4.git", "/home/user/mathlib4", tgt)
	require.NoError(t, err)

	require.Len(t, commands, 2)
	assert.Contains(t, commands[1], "pull/1234/head:pr-1234")
}

func TestCloneAndCheckoutPRUsesGitHubLookupWhenAvailable(t *testing.T) {
	var commands []string
	rt := newCloneTestRuntime(t, func(name string, cmd []string) (string, error) {
		commands = append(commands, strings.Join(cmd, " "))
		return "", nil
	})

	orig := LookupPRHeadFunc
	defer func() { LookupPRHeadFunc = orig }()
	LookupPRHeadFunc = func(ctx context.Context, orgRepo string, pr int) (GitHubPRHead, error) {
		return GitHubPRHead{Ref: "feature-x", IsFork: false}, nil
	}

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindPR, Ref: "1234"}
	err := CloneAndCheckout(context.Background(), rt, "box", "mathlib4.git", "https://github.com/leanprover/mathlib4.git", "/home/user/mathlib4", tgt)
	require.NoError(t, err)

	require.Len(t, commands, 2)
	assert.Contains(t, commands[1], "git fetch origin 'feature-x'")
	assert.Contains(t, commands[1], "--track origin/feature-x")
}

func TestCloneAndCheckoutFailsWhenCloneFails(t *testing.T) {
	rt := newCloneTestRuntime(t, func(name string, cmd []string) (string, error) {
		return "", assert.AnError
	})

	tgt := target.Target{Owner: "leanprover", Repo: "mathlib4", Kind: target.KindBranch, Ref: "main"}
	err := CloneAndCheckout(context.Background(), rt, "box", "mathlib4.git", "https://github.com/leanprover/mathlib4.git", "/home/user/mathlib4", tgt)
	assert.Error(t, err)
}
