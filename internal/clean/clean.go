// Package clean implements the clean-state verifier (spec.md §4.7),
// grounded on original_source/bubble/clean.py.
package clean

import (
	"context"
	"fmt"
	"strings"

	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/runtime"
)

// Status is the result of a cleanness check on a container.
type Status struct {
	Clean   bool
	Reasons []string
	Error   string
}

// Summary renders a one-line human-readable description of Status.
func (s Status) Summary() string {
	if s.Error != "" {
		return s.Error
	}
	if s.Clean {
		return "clean"
	}
	return strings.Join(FormatReasons(s.Reasons), ", ")
}

// Check runs the cleanness script inside the named running container,
// using its registered lifecycle info (if any) to know the expected
// project directory name and the commit it was created from.
func Check(ctx context.Context, rt runtime.ContainerRuntime, registry *lifecycle.Registry, name string) Status {
	info, _ := registry.Get(name)
	repoShort := ""
	if info.OrgRepo != "" {
		parts := strings.SplitN(info.OrgRepo, "/", 2)
		if len(parts) == 2 {
			repoShort = parts[1]
		} else {
			repoShort = parts[0]
		}
	}

	script := buildCheckScript(info.Commit, repoShort)
	output, err := rt.Exec(ctx, name, []string{"su", "-", "user", "-c", script})
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not running") || strings.Contains(msg, "not found") {
			return Status{Clean: false, Error: "not running"}
		}
		return Status{Clean: false, Error: "check failed"}
	}
	return parseCheckOutput(output)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func buildCheckScript(initialCommit, repoShort string) string {
	qRepo := shQuote(repoShort)
	qCommit := shQuote(initialCommit)

	return fmt.Sprintf(`CLEAN=true
REASONS=""
EXPECTED=$(echo %s | tr '[:upper:]' '[:lower:]')

ITEMS=$(ls /home/user/ 2>/dev/null || true)
if [ -n "$EXPECTED" ]; then
  if [ "$(echo "$ITEMS" | tr '[:upper:]' '[:lower:]')" != "$EXPECTED" ]; then
    CLEAN=false
    REASONS="${REASONS}extra_files;"
  fi
elif [ -n "$ITEMS" ]; then
  CLEAN=false
  REASONS="${REASONS}extra_files;"
fi

if [ -n "$EXPECTED" ] && [ -d "/home/user/$EXPECTED" ]; then
  PROJECT="/home/user/$EXPECTED"
else
  PROJECT=$(ls -d /home/user/*/ 2>/dev/null | head -1)
fi

if [ -n "$PROJECT" ]; then
  if [ ! -d "$PROJECT/.git" ]; then
    CLEAN=false
    REASONS="${REASONS}no_git;"
  elif ! command -v git >/dev/null 2>&1; then
    CLEAN=false
    REASONS="${REASONS}no_git;"
  else
    cd "$PROJECT"

    if [ -n "$(git status --porcelain 2>/dev/null)" ]; then
      CLEAN=false
      REASONS="${REASONS}dirty_worktree;"
    fi

    if [ -n "$(git stash list 2>/dev/null)" ]; then
      CLEAN=false
      REASONS="${REASONS}stashes;"
    fi

    INITIAL=%s
    while IFS= read -r branch; do
      [ -z "$branch" ] && continue
      UPSTREAM=$(git rev-parse --verify --quiet "$branch@{upstream}" 2>/dev/null || true)
      if [ -n "$UPSTREAM" ]; then
        AHEAD=$(git rev-list --count "$UPSTREAM".."$branch" 2>/dev/null || echo 0)
        if [ "$AHEAD" -gt 0 ]; then
          CLEAN=false
          REASONS="${REASONS}unpushed:$branch;"
        fi
      else
        if [ -n "$INITIAL" ]; then
          BRANCH_HEAD=$(git rev-parse "$branch" 2>/dev/null || true)
          if [ "$BRANCH_HEAD" != "$INITIAL" ]; then
            CLEAN=false
            REASONS="${REASONS}unpushed:$branch;"
          fi
        else
          CLEAN=false
          REASONS="${REASONS}untracked_branch:$branch;"
        fi
      fi
    done < <(git for-each-ref --format='%%(refname:short)' refs/heads/)
  fi
fi

if [ -z "$REASONS" ]; then
  REASONS="none"
fi
echo "CLEAN=$CLEAN REASONS=$REASONS"
`, qRepo, qCommit)
}

func parseCheckOutput(output string) Status {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CLEAN=") {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		clean := parts[0] == "CLEAN=true"
		reasonsStr := "none"
		if len(parts) > 1 && strings.HasPrefix(parts[1], "REASONS=") {
			reasonsStr = strings.TrimPrefix(parts[1], "REASONS=")
		}
		var reasons []string
		if reasonsStr != "none" && reasonsStr != "" {
			for _, r := range strings.Split(strings.TrimSuffix(reasonsStr, ";"), ";") {
				if r != "" {
					reasons = append(reasons, r)
				}
			}
		}
		return Status{Clean: clean, Reasons: reasons}
	}
	return Status{Clean: false, Error: "unexpected output"}
}

// FormatReasons translates machine-readable reason tags into
// human-readable strings for display.
func FormatReasons(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		switch {
		case r == "extra_files":
			out = append(out, "extra files in home")
		case r == "dirty_worktree":
			out = append(out, "uncommitted changes")
		case r == "stashes":
			out = append(out, "git stashes")
		case r == "no_git":
			out = append(out, "no git repository")
		case strings.HasPrefix(r, "unpushed:"):
			out = append(out, fmt.Sprintf("unpushed commits on %s", strings.TrimPrefix(r, "unpushed:")))
		case strings.HasPrefix(r, "untracked_branch:"):
			out = append(out, fmt.Sprintf("untracked branch %s", strings.TrimPrefix(r, "untracked_branch:")))
		default:
			out = append(out, r)
		}
	}
	return out
}
