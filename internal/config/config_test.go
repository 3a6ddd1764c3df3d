package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vscode", cfg.Editor)
	assert.Equal(t, "incus", cfg.Runtime.Backend)
	assert.FileExists(t, path)
}

func TestLoadSaveRoundTripPreservesUserKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Defaults()
	cfg.Editor = "neovim"
	cfg.Relay.Enabled = true
	cfg.Network.Allowlist = []string{"example.com"}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "neovim", loaded.Editor)
	assert.True(t, loaded.Relay.Enabled)
	assert.Equal(t, []string{"example.com"}, loaded.Network.Allowlist)
	// Defaults still populated for keys the user didn't touch.
	assert.Equal(t, "weekly", loaded.Images.Refresh)
}

func TestRepoShortName(t *testing.T) {
	assert.Equal(t, "lean4", RepoShortName("leanprover/Lean4"))
	assert.Equal(t, "batteries", RepoShortName("batteries"))
}
