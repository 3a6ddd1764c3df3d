package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/reporegistry"
)

func TestGenerateAndResolveToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	token, err := GenerateToken(path, "bubble-1")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	reg := NewTokenRegistry(path)
	name, ok := reg.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, "bubble-1", name)
}

func TestRemoveTokenDropsAllMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	tok1, err := GenerateToken(path, "bubble-1")
	require.NoError(t, err)
	_, err = GenerateToken(path, "bubble-1")
	require.NoError(t, err)

	require.NoError(t, RemoveToken(path, "bubble-1"))
	reg := NewTokenRegistry(path)
	_, ok := reg.Resolve(tok1)
	assert.False(t, ok)
}

func TestTokenResolveTruncatesOverlongTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	data, _ := json.Marshal(map[string]string{string(make([]byte, 128)): "bubble-x"})
	require.NoError(t, os.WriteFile(path, data, 0o600))

	reg := NewTokenRegistry(path)
	overlong := string(make([]byte, 500))
	name, ok := reg.Resolve(overlong)
	require.True(t, ok)
	assert.Equal(t, "bubble-x", name)
}

func TestRateLimiterPerMinuteWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("c1"))
	}
	assert.False(t, rl.Allow("c1"))
}

func TestRateLimiterGlobalCap(t *testing.T) {
	rl := NewRateLimiter()
	rl.global = window{limit: 2, span: time.Hour}
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c2"))
	assert.False(t, rl.Allow("c3"))
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl := NewRateLimiter()
	cur := time.Now()
	rl.now = func() time.Time { return cur }
	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("c1"))
	}
	require.False(t, rl.Allow("c1"))

	cur = cur.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("c1"))
}

func TestRateLimiterEvictsLRUPast100Containers(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow(fmt.Sprintf("c%d", i)))
	}
	assert.Len(t, rl.perEvent, 100)
	assert.Contains(t, rl.perEvent, "c0")

	require.True(t, rl.Allow("c100"))
	assert.Len(t, rl.perEvent, 100)
	assert.NotContains(t, rl.perEvent, "c0", "least-recently-used container should be evicted")
	assert.Contains(t, rl.perEvent, "c100")
}

func TestValidateRelayTargetRejectsMetacharacters(t *testing.T) {
	store := gitstore.New(t.TempDir())
	registry := reporegistry.New(filepath.Join(t.TempDir(), "repos.json"))
	_, err := ValidateRelayTarget("owner/repo; rm -rf /", store, registry)
	assert.Error(t, err)
}

func TestValidateRelayTargetRejectsLocalPaths(t *testing.T) {
	store := gitstore.New(t.TempDir())
	registry := reporegistry.New(filepath.Join(t.TempDir(), "repos.json"))
	for _, bad := range []string{".", "/", "~", "-x", "owner/repo/--path/x", "./local"} {
		_, err := ValidateRelayTarget(bad, store, registry)
		assert.Error(t, err, bad)
	}
}

func TestValidateRelayTargetRequiresKnownRepo(t *testing.T) {
	store := gitstore.New(t.TempDir())
	registry := reporegistry.New(filepath.Join(t.TempDir(), "repos.json"))
	_, err := ValidateRelayTarget("leanprover/lean4", store, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_repo")
}

func TestValidateRelayTargetAcceptsKnownRepo(t *testing.T) {
	dir := t.TempDir()
	store := gitstore.New(dir)
	require.NoError(t, os.MkdirAll(store.BareRepoPath("leanprover/lean4"), 0o755))
	registry := reporegistry.New(filepath.Join(t.TempDir(), "repos.json"))

	tg, err := ValidateRelayTarget("leanprover/lean4", store, registry)
	require.NoError(t, err)
	assert.Equal(t, "leanprover/lean4", tg.OrgRepo())
}

func TestSanitizeLog(t *testing.T) {
	assert.Equal(t, `a\nb\tc`, sanitizeLog("a\nb\tc"))
}
