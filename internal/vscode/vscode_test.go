package vscode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	orig := os.Getenv("HOME")
	os.Setenv("HOME", home)
	t.Cleanup(func() { os.Setenv("HOME", orig) })
	return home
}

func TestAddSSHConfigRejectsInvalidName(t *testing.T) {
	withHome(t)
	err := AddSSHConfig("Bad_Name!", "user")
	assert.Error(t, err)
}

func TestAddSSHConfigWritesEntryAndIncludeDirective(t *testing.T) {
	home := withHome(t)
	require.NoError(t, AddSSHConfig("mathlib4-pr-1", "user"))

	configFile := filepath.Join(home, ".ssh", "config.d", "bubble")
	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Host bubble-mathlib4-pr-1")
	assert.Contains(t, string(data), "ProxyCommand incus exec mathlib4-pr-1")

	mainConfig := filepath.Join(home, ".ssh", "config")
	mainData, err := os.ReadFile(mainConfig)
	require.NoError(t, err)
	assert.Contains(t, string(mainData), "Include")
	assert.Contains(t, string(mainData), "config.d/*")
}

func TestAddSSHConfigIncludeDirectiveOnlyPrependedOnce(t *testing.T) {
	home := withHome(t)
	require.NoError(t, AddSSHConfig("box-one", "user"))
	require.NoError(t, AddSSHConfig("box-two", "user"))

	mainConfig := filepath.Join(home, ".ssh", "config")
	data, err := os.ReadFile(mainConfig)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "Include"))
}

func TestRemoveSSHConfigDeletesOnlyTargetEntry(t *testing.T) {
	home := withHome(t)
	require.NoError(t, AddSSHConfig("box-one", "user"))
	require.NoError(t, AddSSHConfig("box-two", "user"))

	require.NoError(t, RemoveSSHConfig("box-one"))

	configFile := filepath.Join(home, ".ssh", "config.d", "bubble")
	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Host bubble-box-one")
	assert.Contains(t, string(data), "Host bubble-box-two")
}

func TestRemoveSSHConfigNoopWhenFileMissing(t *testing.T) {
	withHome(t)
	require.NoError(t, RemoveSSHConfig("never-existed"))
}

func TestReadWriteMarkerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vscode-commit")
	assert.Equal(t, "", ReadMarker(path))

	require.NoError(t, WriteMarker(path, "abc123"))
	assert.Equal(t, "abc123", ReadMarker(path))
}
