// Package relay implements the bubble-in-bubble relay daemon (spec.md
// §4.8), grounded on original_source/bubble/relay.py.
package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const maxTokenLookupLen = 128

// TokenRegistry maps relay tokens to container names, backed by a JSON
// file reloaded whenever its mtime changes.
type TokenRegistry struct {
	mu      sync.Mutex
	path    string
	loaded  map[string]string
	modTime int64
}

// NewTokenRegistry returns a TokenRegistry backed by path.
func NewTokenRegistry(path string) *TokenRegistry {
	return &TokenRegistry{path: path, loaded: map[string]string{}}
}

func (t *TokenRegistry) reloadLocked() {
	info, err := os.Stat(t.path)
	if err != nil {
		t.loaded = map[string]string{}
		t.modTime = 0
		return
	}
	mt := info.ModTime().UnixNano()
	if mt == t.modTime {
		return
	}
	b, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return
	}
	t.loaded = m
	t.modTime = mt
}

// Resolve looks up a (length-truncated) token, returning the container
// name it authenticates, or ("", false).
func (t *TokenRegistry) Resolve(token string) (string, bool) {
	if len(token) > maxTokenLookupLen {
		token = token[:maxTokenLookupLen]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reloadLocked()
	name, ok := t.loaded[token]
	return name, ok
}

func (t *TokenRegistry) save() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t.loaded, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

// GenerateToken creates a new 64-hex-char token for container name,
// persists it, and returns it.
func GenerateToken(path, name string) (string, error) {
	reg := NewTokenRegistry(path)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.reloadLocked()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating relay token: %w", err)
	}
	token := hex.EncodeToString(buf)
	reg.loaded[token] = name
	if err := reg.save(); err != nil {
		return "", err
	}
	return token, nil
}

// RemoveToken deletes every token mapped to name.
func RemoveToken(path, name string) error {
	reg := NewTokenRegistry(path)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.reloadLocked()

	for tok, n := range reg.loaded {
		if n == name {
			delete(reg.loaded, tok)
		}
	}
	return reg.save()
}
