// Package lifecycle tracks bubble container metadata across runs,
// grounded on original_source/bubble/lifecycle.py.
package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BubbleInfo is the registered metadata for one bubble container
// (spec.md §4.5 "Register").
type BubbleInfo struct {
	OrgRepo   string    `json:"org_repo"`
	Branch    string    `json:"branch,omitempty"`
	Commit    string    `json:"commit,omitempty"`
	PR        int       `json:"pr,omitempty"`
	BaseImage string    `json:"base_image"`
	RemoteHost string   `json:"remote_host,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state"`
}

type document struct {
	Bubbles map[string]BubbleInfo `json:"bubbles"`
}

// Registry is the persistent per-bubble metadata store.
type Registry struct {
	mu   sync.Mutex
	path string
}

// New returns a Registry backed by the JSON file at path.
func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) load() document {
	doc := document{Bubbles: map[string]BubbleInfo{}}
	b, err := os.ReadFile(r.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(b, &doc); err != nil || doc.Bubbles == nil {
		return document{Bubbles: map[string]BubbleInfo{}}
	}
	return doc
}

func (r *Registry) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Register records a bubble's creation.
func (r *Registry) Register(name string, info BubbleInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	info.CreatedAt = time.Now().UTC()
	info.State = "active"
	doc.Bubbles[name] = info
	return r.save(doc)
}

// Get returns the registered info for name, or (zero, false) if absent.
func (r *Registry) Get(name string) (BubbleInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.load()
	info, ok := doc.Bubbles[name]
	return info, ok
}

// Unregister removes name from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.load()
	delete(doc.Bubbles, name)
	return r.save(doc)
}

// FindByTarget locates a registered bubble matching orgRepo and either a
// PR number or branch name, per spec.md §4.5 "Existing-container lookup".
func (r *Registry) FindByTarget(orgRepo string, pr int, branch string) (string, BubbleInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.load()
	for name, info := range doc.Bubbles {
		if info.OrgRepo != orgRepo {
			continue
		}
		if pr != 0 && info.PR == pr {
			return name, info, true
		}
		if branch != "" && info.Branch == branch {
			return name, info, true
		}
	}
	return "", BubbleInfo{}, false
}

// All returns every registered bubble, keyed by container name.
func (r *Registry) All() map[string]BubbleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.load()
	out := make(map[string]BubbleInfo, len(doc.Bubbles))
	for k, v := range doc.Bubbles {
		out[k] = v
	}
	return out
}
