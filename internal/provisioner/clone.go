package provisioner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/target"
)

// shQuote is the central shell-quoting helper every interpolated git
// argument passes through (spec.md §4.5 "every interpolated git
// argument is shell-quoted").
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// GitHubPRHead is the best-effort result of querying GitHub for a PR's
// head ref/repo/clone URL.
type GitHubPRHead struct {
	Ref       string
	SHA       string
	CloneURL  string
	IsFork    bool
	ForkOwner string
}

// LookupPRHeadFunc resolves a PR's head ref, overridable for tests.
// cliapp.New wires the production implementation: a prcache-backed
// read-through in front of FetchPRHead, called here under a 10s timeout.
var LookupPRHeadFunc = func(ctx context.Context, orgRepo string, pr int) (GitHubPRHead, error) {
	return GitHubPRHead{}, fmt.Errorf("no GitHub client configured")
}

// CloneAndCheckout clones projectDir inside container using --reference
// against the mounted bare repo, then checks out t, per spec.md §4.5
// "Clone-with-reference".
func CloneAndCheckout(ctx context.Context, rt runtime.ContainerRuntime, container, mountName, originURL, projectDir string, t target.Target) error {
	cloneCmd := fmt.Sprintf(
		"git clone --reference /shared/git/%s %s %s",
		shQuote(mountName), shQuote(originURL), shQuote(projectDir),
	)
	if _, err := rt.Exec(ctx, container, []string{"su", "-", "user", "-c", cloneCmd}); err != nil {
		return fmt.Errorf("cloning %s: %w", t.OrgRepo(), err)
	}

	switch t.Kind {
	case target.KindPR:
		return checkoutPR(ctx, rt, container, projectDir, t)
	case target.KindBranch:
		return checkoutBranch(ctx, rt, container, projectDir, t)
	case target.KindCommit:
		return checkoutCommit(ctx, rt, container, projectDir, t)
	default:
		return nil
	}
}

func runAsUser(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir, script string) (string, error) {
	full := fmt.Sprintf("cd %s && %s", shQuote(projectDir), script)
	return rt.Exec(ctx, container, []string{"su", "-", "user", "-c", full})
}

func checkoutPR(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string, t target.Target) error {
	prNum := 0
	fmt.Sscanf(t.Ref, "%d", &prNum)

	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	head, err := LookupPRHeadFunc(lctx, t.OrgRepo(), prNum)
	if err == nil && head.Ref != "" {
		if head.IsFork {
			remoteAdd := fmt.Sprintf("git remote add %s %s", shQuote(head.ForkOwner), shQuote(head.CloneURL))
			fetch := fmt.Sprintf("git fetch %s +refs/heads/%s:refs/remotes/%s/%s",
				shQuote(head.ForkOwner), head.Ref, head.ForkOwner, head.Ref)
			checkout := fmt.Sprintf("git checkout -b %s --track %s/%s", shQuote(head.Ref), head.ForkOwner, head.Ref)
			if _, err := runAsUser(ctx, rt, container, projectDir, remoteAdd+" && "+fetch+" && "+checkout); err == nil {
				return nil
			}
		} else {
			fetch := fmt.Sprintf("git fetch origin %s", shQuote(head.Ref))
			checkout := fmt.Sprintf("git checkout -b %s --track origin/%s", shQuote(head.Ref), head.Ref)
			if _, err := runAsUser(ctx, rt, container, projectDir, fetch+" && "+checkout); err == nil {
				return nil
			}
		}
	}

	// Fallback: a branch named pr-<N> fetched from pull/<N>/head.
	fallback := fmt.Sprintf(
		"git fetch origin pull/%s/head:pr-%s && git checkout pr-%s",
		t.Ref, t.Ref, t.Ref,
	)
	if _, err := runAsUser(ctx, rt, container, projectDir, fallback); err != nil {
		return fmt.Errorf("checking out PR #%s: %w", t.Ref, err)
	}
	return nil
}

func checkoutBranch(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string, t target.Target) error {
	switchCmd := fmt.Sprintf("git switch %s", shQuote(t.Ref))
	if _, err := runAsUser(ctx, rt, container, projectDir, switchCmd); err == nil {
		return nil
	}
	if t.LocalPath != "" {
		fallback := fmt.Sprintf("git fetch %s %s && git switch %s", shQuote(t.LocalPath), shQuote(t.Ref), shQuote(t.Ref))
		if _, err := runAsUser(ctx, rt, container, projectDir, fallback); err != nil {
			return fmt.Errorf("switching to branch %s: %w", t.Ref, err)
		}
		return nil
	}
	return fmt.Errorf("switching to branch %s failed and no local reference to fall back to", t.Ref)
}

func checkoutCommit(ctx context.Context, rt runtime.ContainerRuntime, container, projectDir string, t target.Target) error {
	checkoutCmd := fmt.Sprintf("git checkout %s", shQuote(t.Ref))
	if _, err := runAsUser(ctx, rt, container, projectDir, checkoutCmd); err != nil {
		return fmt.Errorf("checking out commit %s: %w", t.Ref, err)
	}
	return nil
}
