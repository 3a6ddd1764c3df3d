// Package secrets stores bubble's at-rest credentials (the GitHub PAT
// used for PR-head lookups, a cloud provider API key) in the OS
// keyring, grounded on pkg/goclaw/copilot/keyring.go. Bubble has no
// vault tier or .env fallback: unlike goclaw's multi-source credential
// chain, the only secrets here are a GitHub token and a cloud token,
// both of which also have an environment-variable override (spec.md's
// HETZNER_TOKEN, GITHUB_TOKEN), so the keyring is an optional
// convenience layer rather than the sole source of truth.
package secrets

import "github.com/zalando/go-keyring"

const service = "bubble"

// Key names for the secrets bubble stores.
const (
	KeyGitHubToken = "github_token"
	KeyCloudToken  = "cloud_token"
)

// Store saves a secret under key in the OS keyring.
func Store(key, value string) error {
	return keyring.Set(service, key, value)
}

// Get retrieves a secret from the OS keyring, returning "" if absent
// or the keyring backend is unavailable.
func Get(key string) string {
	val, err := keyring.Get(service, key)
	if err != nil {
		return ""
	}
	return val
}

// Delete removes a secret from the OS keyring. A missing key is not
// an error.
func Delete(key string) error {
	if err := keyring.Delete(service, key); err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}

// Available reports whether the OS keyring backend is reachable, via
// a throwaway write+delete cycle.
func Available() bool {
	const probeKey = "__bubble_probe__"
	if err := keyring.Set(service, probeKey, "x"); err != nil {
		return false
	}
	_ = keyring.Delete(service, probeKey)
	return true
}
