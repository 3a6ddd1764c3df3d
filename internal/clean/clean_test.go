package clean

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/runtime"
)

func TestParseCheckOutputClean(t *testing.T) {
	s := parseCheckOutput("CLEAN=true REASONS=none\n")
	assert.True(t, s.Clean)
	assert.Empty(t, s.Reasons)
}

func TestParseCheckOutputDirty(t *testing.T) {
	s := parseCheckOutput("CLEAN=false REASONS=dirty_worktree;unpushed:main;\n")
	assert.False(t, s.Clean)
	assert.Equal(t, []string{"dirty_worktree", "unpushed:main"}, s.Reasons)
}

func TestParseCheckOutputUnexpected(t *testing.T) {
	s := parseCheckOutput("garbage\n")
	assert.Equal(t, "unexpected output", s.Error)
}

func TestFormatReasons(t *testing.T) {
	got := FormatReasons([]string{"extra_files", "unpushed:feature", "untracked_branch:wip", "stashes"})
	assert.Equal(t, []string{
		"extra files in home",
		"unpushed commits on feature",
		"untracked branch wip",
		"git stashes",
	}, got)
}

func TestStatusSummary(t *testing.T) {
	assert.Equal(t, "clean", Status{Clean: true}.Summary())
	assert.Equal(t, "not running", Status{Error: "not running"}.Summary())
	assert.Equal(t, "git stashes", Status{Reasons: []string{"stashes"}}.Summary())
}

func TestCheckReturnsNotRunningOnExecError(t *testing.T) {
	ctx := context.Background()
	fake := runtime.NewFake()
	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))

	status := Check(ctx, fake, reg, "missing-container")
	assert.Equal(t, "not running", status.Error)
}

func TestCheckParsesSuccessfulOutput(t *testing.T) {
	ctx := context.Background()
	fake := runtime.NewFake()
	_, err := fake.Launch(ctx, "bubble-test", "lean")
	require.NoError(t, err)

	fake.ExecFunc = func(name string, cmd []string) (string, error) {
		return "CLEAN=true REASONS=none\n", nil
	}

	reg := lifecycle.New(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Register("bubble-test", lifecycle.BubbleInfo{OrgRepo: "leanprover/lean4", BaseImage: "lean"}))

	status := Check(ctx, fake, reg, "bubble-test")
	assert.True(t, status.Clean)
}
