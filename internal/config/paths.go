package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the data directory, matching spec.md's $BUBBLE_HOME.
const HomeEnv = "BUBBLE_HOME"

// Paths centralizes every on-disk location under the data directory
// (spec.md §6 "Filesystem layout"), the way the teacher's pkg/devclaw/paths
// package centralizes DevClaw's state directory layout.
type Paths struct {
	DataDir string
}

// ResolvePaths returns the Paths rooted at $BUBBLE_HOME, or ~/.bubble.
func ResolvePaths() Paths {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return Paths{DataDir: dir}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Paths{DataDir: filepath.Join(home, ".bubble")}
}

func (p Paths) ConfigFile() string       { return filepath.Join(p.DataDir, "config.toml") }
func (p Paths) RegistryFile() string     { return filepath.Join(p.DataDir, "registry.json") }
func (p Paths) ReposFile() string        { return filepath.Join(p.DataDir, "repos.json") }
func (p Paths) GitDir() string           { return filepath.Join(p.DataDir, "git") }
func (p Paths) RelaySock() string        { return filepath.Join(p.DataDir, "relay.sock") }
func (p Paths) RelayPortFile() string    { return filepath.Join(p.DataDir, "relay.port") }
func (p Paths) RelayLog() string         { return filepath.Join(p.DataDir, "relay.log") }
func (p Paths) RelayTokens() string      { return filepath.Join(p.DataDir, "relay-tokens.json") }
func (p Paths) CloudStateFile() string   { return filepath.Join(p.DataDir, "cloud.json") }
func (p Paths) CloudKeyFile() string     { return filepath.Join(p.DataDir, "cloud_key") }
func (p Paths) CloudKeyPubFile() string  { return filepath.Join(p.DataDir, "cloud_key.pub") }
func (p Paths) CloudKnownHosts() string  { return filepath.Join(p.DataDir, "known_hosts") }
func (p Paths) PRCacheFile() string      { return filepath.Join(p.DataDir, "pr-cache.db") }
func (p Paths) VSCodeMarkerFile() string { return filepath.Join(p.DataDir, "vscode-commit") }

// EnsureDirs creates the data and git directories if missing.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.DataDir, p.GitDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
