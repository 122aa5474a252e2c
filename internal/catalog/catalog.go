// Package catalog reads the external file catalog: a table of locally
// indexed files with their whole-file hash and size. The catalog is owned by
// the deduplication tooling; this package opens it read-only and tolerates
// concurrent appenders.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
)

// Options configures catalog access.
type Options struct {
	// Root is joined in front of relative catalog paths. Absolute paths
	// pass through untouched.
	Root string

	// ExcludePatterns drops candidates whose resolved path matches any of
	// these doublestar globs.
	ExcludePatterns []string

	// MaxCandidates caps the candidates returned per query; 0 means
	// unbounded. The cap is applied after ordering, so the best-scored
	// candidates survive. With enormous size buckets (zero-byte files are
	// the usual case) an uncapped query returns every entry.
	MaxCandidates int

	Logger zerolog.Logger
}

// Catalog is a read-only view over the files table.
type Catalog struct {
	db   *sql.DB
	opts Options
}

// Open opens the catalog database at path in read-only mode.
func Open(path string, opts Options) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}
	return &Catalog{db: db, opts: opts}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Candidates returns the catalog files of exactly the given size, ordered by
// a stable heuristic against name (the slot's torrent-relative path): exact
// basename match first, then longest common basename substring, then catalog
// insertion order. Entries whose resolved path no longer exists on disk are
// skipped.
func (c *Catalog) Candidates(ctx context.Context, size int64, name string) ([]matcher.Candidate, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, hash, file_size FROM files WHERE file_size = ? ORDER BY rowid`,
		size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []matcher.Candidate
	for rows.Next() {
		var path, hash string
		var fileSize int64
		if err := rows.Scan(&path, &hash, &fileSize); err != nil {
			return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
		}

		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(c.opts.Root, resolved)
		}

		if c.excluded(resolved) {
			continue
		}
		if _, err := os.Stat(resolved); err != nil {
			// Deleted between indexing and matching.
			c.opts.Logger.Debug().Str("path", resolved).Msg("skipping missing candidate")
			continue
		}

		out = append(out, matcher.Candidate{Path: resolved, FileHash: hash, Size: fileSize})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}

	orderCandidates(out, name)
	if c.opts.MaxCandidates > 0 && len(out) > c.opts.MaxCandidates {
		out = out[:c.opts.MaxCandidates]
	}
	return out, nil
}

// LookupPath returns the catalog entry whose stored path matches the given
// path, trying both the raw value and the root-relative form.
func (c *Catalog) LookupPath(ctx context.Context, path string) (matcher.Candidate, error) {
	keys := []string{path}
	if c.opts.Root != "" {
		if rel, err := filepath.Rel(c.opts.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
			keys = append(keys, rel)
		}
	}

	for _, key := range keys {
		var stored, hash string
		var size int64
		err := c.db.QueryRowContext(ctx,
			`SELECT path, hash, file_size FROM files WHERE path = ?`, key).
			Scan(&stored, &hash, &size)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return matcher.Candidate{}, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
		}
		resolved := stored
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(c.opts.Root, resolved)
		}
		return matcher.Candidate{Path: resolved, FileHash: hash, Size: size}, nil
	}
	return matcher.Candidate{}, fmt.Errorf("path %q not present in catalog", path)
}

func (c *Catalog) excluded(path string) bool {
	for _, pattern := range c.opts.ExcludePatterns {
		if ok, err := doublestar.Match(pattern, filepath.ToSlash(path)); err == nil && ok {
			return true
		}
	}
	return false
}

// orderCandidates sorts in place by heuristic score. The order changes which
// candidates are considered only when MaxCandidates truncates the sorted list.
func orderCandidates(cands []matcher.Candidate, name string) {
	target := strings.ToLower(filepath.Base(filepath.FromSlash(name)))

	type scored struct {
		cand  matcher.Candidate
		score int
	}
	ranked := make([]scored, len(cands))
	for i, c := range cands {
		ranked[i] = scored{cand: c, score: basenameScore(strings.ToLower(filepath.Base(c.Path)), target)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	for i := range ranked {
		cands[i] = ranked[i].cand
	}
}

// basenameScore ranks an exact basename match above any substring overlap.
func basenameScore(base, target string) int {
	if base == target {
		return 1 << 30
	}
	return longestCommonSubstring(base, target)
}

func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
