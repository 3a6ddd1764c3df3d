// Package reporegistry implements the learned short-name → owner/repo
// index described in spec.md §3/§4.2.
package reporegistry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is a single unambiguous short-name mapping.
type Entry struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	LastUsed string `json:"last_used"`
}

type document struct {
	Repos     map[string]Entry    `json:"repos"`
	Ambiguous map[string][]string `json:"ambiguous"`
}

// RepoRegistry maps short repo names to full owner/repo pairs, persisted
// as JSON. The file is loaded once, in New, and rewritten whole on every
// mutation; changes made to it by another process after New are not
// seen. See spec.md §4.2.
type RepoRegistry struct {
	mu        sync.Mutex
	path      string
	repos     map[string]Entry
	ambiguous map[string][]string
}

// New loads (or initializes empty) the registry at path.
func New(path string) *RepoRegistry {
	r := &RepoRegistry{
		path:      path,
		repos:     map[string]Entry{},
		ambiguous: map[string][]string{},
	}
	r.load()
	return r
}

func (r *RepoRegistry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}
	if doc.Repos != nil {
		r.repos = doc.Repos
	}
	if doc.Ambiguous != nil {
		r.ambiguous = doc.Ambiguous
	}
}

func (r *RepoRegistry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	doc := document{Repos: r.repos, Ambiguous: r.ambiguous}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Resolve returns owner/repo for short, or ("", false) if unknown/ambiguous.
func (r *RepoRegistry) Resolve(short string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(short)
	if _, ambiguous := r.ambiguous[lower]; ambiguous {
		return "", false
	}
	if entry, ok := r.repos[lower]; ok {
		return entry.Owner + "/" + entry.Repo, true
	}
	return "", false
}

// Register records a repo usage, learning or disambiguating the short name.
func (r *RepoRegistry) Register(owner, repo string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	short := strings.ToLower(repo)
	orgRepo := owner + "/" + repo
	now := time.Now().UTC().Format(time.RFC3339)

	if existing, ok := r.repos[short]; ok {
		existingOrgRepo := existing.Owner + "/" + existing.Repo
		if existingOrgRepo == orgRepo {
			existing.LastUsed = now
			r.repos[short] = existing
			_ = r.save()
			return
		}
		opts := r.ambiguous[short]
		if len(opts) == 0 {
			opts = []string{existingOrgRepo}
		}
		if !contains(opts, orgRepo) {
			opts = append(opts, orgRepo)
		}
		r.ambiguous[short] = opts
		delete(r.repos, short)
		_ = r.save()
		return
	}

	if opts, ok := r.ambiguous[short]; ok {
		if !contains(opts, orgRepo) {
			r.ambiguous[short] = append(opts, orgRepo)
			_ = r.save()
		}
		return
	}

	r.repos[short] = Entry{Owner: owner, Repo: repo, LastUsed: now}
	_ = r.save()
}

// IsAmbiguous reports whether short has more than one candidate owner/repo.
func (r *RepoRegistry) IsAmbiguous(short string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ambiguous[strings.ToLower(short)]
	return ok
}

// AmbiguousOptions returns the candidate owner/repo values for short.
func (r *RepoRegistry) AmbiguousOptions(short string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ambiguous[strings.ToLower(short)]...)
}

// ListAll returns every unambiguous short_name -> owner/repo mapping.
func (r *RepoRegistry) ListAll() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.repos))
	for k, v := range r.repos {
		out[k] = v.Owner + "/" + v.Repo
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
