// Package prcache caches resolved GitHub PR head SHAs in SQLite, the
// way pkg/devclaw/copilot/db.go keeps a single schema'd SQLite file
// for cross-invocation state. This is a supplemented feature (the
// original has no cache: original_source/lean_bubbles/pr_metadata.py
// re-queries "gh pr view" on every lookup); bubble opens the same PR
// repeatedly across container lifetimes, so caching the head SHA for
// a short TTL avoids a GitHub round trip on every "bubble open" of an
// already-resolved PR. Entries are invalidated by TTL, not by a
// webhook, since bubble has no long-running server to receive one.
package prcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS pr_heads (
	repo       TEXT NOT NULL,
	pr_number  INTEGER NOT NULL,
	head_sha   TEXT NOT NULL,
	head_ref   TEXT NOT NULL DEFAULT '',
	resolved_at TEXT NOT NULL,
	PRIMARY KEY (repo, pr_number)
);
`

// DefaultTTL is how long a cached head SHA is trusted before a fresh
// GitHub lookup is required.
const DefaultTTL = 5 * time.Minute

// Cache is a SQLite-backed PR head cache at a single file path.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating pr cache dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening pr cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing pr cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Entry is a cached PR head resolution.
type Entry struct {
	HeadSHA    string
	HeadRef    string
	ResolvedAt time.Time
}

// Lookup returns the cached head SHA for repo#prNumber if present and
// younger than ttl. The bool is false on a cache miss or stale entry.
func (c *Cache) Lookup(repo string, prNumber int, ttl time.Duration) (Entry, bool) {
	row := c.db.QueryRow(
		`SELECT head_sha, head_ref, resolved_at FROM pr_heads WHERE repo = ? AND pr_number = ?`,
		repo, prNumber,
	)
	var e Entry
	var resolvedAt string
	if err := row.Scan(&e.HeadSHA, &e.HeadRef, &resolvedAt); err != nil {
		return Entry{}, false
	}
	t, err := time.Parse(time.RFC3339, resolvedAt)
	if err != nil {
		return Entry{}, false
	}
	e.ResolvedAt = t
	if time.Since(t) > ttl {
		return Entry{}, false
	}
	return e, true
}

// Store records a resolved head SHA for repo#prNumber.
func (c *Cache) Store(repo string, prNumber int, headSHA, headRef string) error {
	_, err := c.db.Exec(
		`INSERT INTO pr_heads (repo, pr_number, head_sha, head_ref, resolved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repo, pr_number) DO UPDATE SET
			head_sha = excluded.head_sha,
			head_ref = excluded.head_ref,
			resolved_at = excluded.resolved_at`,
		repo, prNumber, headSHA, headRef, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Invalidate removes any cached entry for repo#prNumber, forcing the
// next Lookup to miss.
func (c *Cache) Invalidate(repo string, prNumber int) error {
	_, err := c.db.Exec(`DELETE FROM pr_heads WHERE repo = ? AND pr_number = ?`, repo, prNumber)
	return err
}
