// Package config loads bubble's TOML configuration, deep-merging a user
// file over hard-coded defaults, matching the teacher's deep-merge-over-
// defaults convention (see original_source/bubble/config.py) but in the
// TOML format spec.md's data model requires.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// RuntimeConfig configures the container runtime backend and Colima sizing.
type RuntimeConfig struct {
	Backend      string `toml:"backend"`
	ColimaCPU    int    `toml:"colima_cpu"`
	ColimaMemory int    `toml:"colima_memory"`
	ColimaDisk   int    `toml:"colima_disk"`
	ColimaVMType string `toml:"colima_vm_type"`
}

// ImagesConfig controls image refresh cadence.
type ImagesConfig struct {
	Refresh string `toml:"refresh"`
}

// NetworkConfig holds the egress allowlist.
type NetworkConfig struct {
	Allowlist []string `toml:"allowlist"`
}

// RelayConfig controls the bubble-in-bubble relay daemon.
type RelayConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// RemoteConfig holds the default SSH remote host.
type RemoteConfig struct {
	DefaultHost string `toml:"default_host"`
}

// CloudConfig configures the cloud provisioning collaborator.
type CloudConfig struct {
	Provider   string `toml:"provider"`
	ServerType string `toml:"server_type"`
	Location   string `toml:"location"`
	ServerName string `toml:"server_name"`
	Default    bool   `toml:"default"`
}

// Config is bubble's full configuration tree.
type Config struct {
	Editor  string        `toml:"editor"`
	Runtime RuntimeConfig `toml:"runtime"`
	Images  ImagesConfig  `toml:"images"`
	Network NetworkConfig `toml:"network"`
	Relay   RelayConfig   `toml:"relay"`
	Remote  RemoteConfig  `toml:"remote"`
	Cloud   CloudConfig   `toml:"cloud"`
}

// Defaults returns the hard-coded default configuration.
func Defaults() Config {
	return Config{
		Editor: "vscode",
		Runtime: RuntimeConfig{
			Backend:      "incus",
			ColimaCPU:    runtime.NumCPU(),
			ColimaMemory: 16,
			ColimaDisk:   60,
			ColimaVMType: "vz",
		},
		Images: ImagesConfig{Refresh: "weekly"},
		Network: NetworkConfig{
			Allowlist: []string{
				"github.com",
				"raw.githubusercontent.com",
				"release-assets.githubusercontent.com",
				"objects.githubusercontent.com",
				"codeload.githubusercontent.com",
			},
		},
		Relay:  RelayConfig{Enabled: false, Port: 7653},
		Remote: RemoteConfig{DefaultHost: ""},
		Cloud: CloudConfig{
			Provider:   "hetzner",
			Location:   "fsn1",
			ServerName: "bubble-cloud",
			Default:    false,
		},
	}
}

// Load reads the config file at path, deep-merging it over Defaults().
// A missing file is not an error: the defaults are written out so the
// file is hand-editable thereafter.
func Load(path string) (Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	var user Config
	if _, err := toml.DecodeFile(path, &user); err != nil {
		return Config{}, err
	}
	return deepMerge(cfg, user), nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// deepMerge overlays non-zero fields of user onto base. Unlike the
// Python original's dict-merge, Go's static Config struct means "user
// set this key" isn't directly observable post-decode; we approximate
// it by treating zero-valued fields as "not set", which matches every
// field in this schema (none of them have a meaningful zero value that
// a user would intentionally choose over the shipped default, except
// Relay.Enabled/Cloud.Default — these are copied from user as decoded;
// both default to false, so an absent key and an explicit false give
// the same result).
func deepMerge(base, user Config) Config {
	out := base
	if user.Editor != "" {
		out.Editor = user.Editor
	}
	if user.Runtime.Backend != "" {
		out.Runtime.Backend = user.Runtime.Backend
	}
	if user.Runtime.ColimaCPU != 0 {
		out.Runtime.ColimaCPU = user.Runtime.ColimaCPU
	}
	if user.Runtime.ColimaMemory != 0 {
		out.Runtime.ColimaMemory = user.Runtime.ColimaMemory
	}
	if user.Runtime.ColimaDisk != 0 {
		out.Runtime.ColimaDisk = user.Runtime.ColimaDisk
	}
	if user.Runtime.ColimaVMType != "" {
		out.Runtime.ColimaVMType = user.Runtime.ColimaVMType
	}
	if user.Images.Refresh != "" {
		out.Images.Refresh = user.Images.Refresh
	}
	if len(user.Network.Allowlist) > 0 {
		out.Network.Allowlist = user.Network.Allowlist
	}
	out.Relay.Enabled = user.Relay.Enabled
	if user.Relay.Port != 0 {
		out.Relay.Port = user.Relay.Port
	}
	if user.Remote.DefaultHost != "" {
		out.Remote.DefaultHost = user.Remote.DefaultHost
	}
	if user.Cloud.Provider != "" {
		out.Cloud.Provider = user.Cloud.Provider
	}
	if user.Cloud.ServerType != "" {
		out.Cloud.ServerType = user.Cloud.ServerType
	}
	if user.Cloud.Location != "" {
		out.Cloud.Location = user.Cloud.Location
	}
	if user.Cloud.ServerName != "" {
		out.Cloud.ServerName = user.Cloud.ServerName
	}
	out.Cloud.Default = user.Cloud.Default
	return out
}

// RepoShortName extracts the lowercased short name from "owner/repo".
func RepoShortName(fullName string) string {
	parts := strings.Split(fullName, "/")
	return strings.ToLower(parts[len(parts)-1])
}
