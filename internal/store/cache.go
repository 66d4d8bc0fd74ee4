package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/stage0/internal/memory"
)

// CacheEntry is a cached Tier2 synthesis keyed by input_hash.
type CacheEntry struct {
	InputHash       string
	SpecHash        string
	BriefHash       string
	SynthesisResult string
	SuggestedLinks  []memory.Link
	CreatedAt       int64
	ExpiresAt       int64
	HitCount        int
	LastHitAt       *int64
}

// CacheStats summarizes the cache table.
type CacheStats struct {
	Entries      int `json:"entries"`
	Dependencies int `json:"dependencies"`
	TotalHits    int `json:"total_hits"`
	Expired      int `json:"expired"`
}

const cacheColumns = `input_hash, spec_hash, brief_hash, synthesis_result, suggested_links,
	created_at, expires_at, hit_count, last_hit_at`

func scanCacheEntry(sc interface{ Scan(...any) error }) (*CacheEntry, error) {
	var e CacheEntry
	var links string
	var lastHit sql.NullInt64
	if err := sc.Scan(&e.InputHash, &e.SpecHash, &e.BriefHash, &e.SynthesisResult, &links,
		&e.CreatedAt, &e.ExpiresAt, &e.HitCount, &lastHit); err != nil {
		return nil, err
	}
	if lastHit.Valid {
		e.LastHitAt = &lastHit.Int64
	}
	if links != "" {
		if err := json.Unmarshal([]byte(links), &e.SuggestedLinks); err != nil {
			return nil, fmt.Errorf("decode suggested links: %w", err)
		}
	}
	return &e, nil
}

// PutCacheEntry upserts an entry and replaces its dependency rows in one
// transaction. A concurrent writer for the same input_hash simply wins last.
func (db *DB) PutCacheEntry(e *CacheEntry, memoryIDs []string) error {
	links := e.SuggestedLinks
	if links == nil {
		links = []memory.Link{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode suggested links: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin put cache: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO tier2_cache (input_hash, spec_hash, brief_hash, synthesis_result, suggested_links,
			created_at, expires_at, hit_count, last_hit_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT(input_hash) DO UPDATE SET
			spec_hash = excluded.spec_hash,
			brief_hash = excluded.brief_hash,
			synthesis_result = excluded.synthesis_result,
			suggested_links = excluded.suggested_links,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = 0,
			last_hit_at = NULL
	`, e.InputHash, e.SpecHash, e.BriefHash, e.SynthesisResult, string(linksJSON), e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM cache_memory_dependencies WHERE input_hash = ?`, e.InputHash); err != nil {
		return fmt.Errorf("clear cache deps: %w", err)
	}
	for _, id := range memoryIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO cache_memory_dependencies (input_hash, memory_id) VALUES (?, ?)`,
			e.InputHash, id,
		); err != nil {
			return fmt.Errorf("insert cache dep %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put cache: %w", err)
	}
	return nil
}

// HitCacheEntry returns a live (unexpired at now) entry, recording the hit.
// Returns nil if there is no entry or it has expired.
func (db *DB) HitCacheEntry(inputHash string, now time.Time) (*CacheEntry, error) {
	ms := now.UnixMilli()
	res, err := db.Exec(`
		UPDATE tier2_cache SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE input_hash = ? AND expires_at > ?
	`, ms, inputHash, ms)
	if err != nil {
		return nil, fmt.Errorf("record cache hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.GetCacheEntry(inputHash)
}

// GetCacheEntry reads an entry without TTL checks or hit accounting.
// Returns nil if not found.
func (db *DB) GetCacheEntry(inputHash string) (*CacheEntry, error) {
	e, err := scanCacheEntry(db.QueryRow(
		`SELECT `+cacheColumns+` FROM tier2_cache WHERE input_hash = ?`, inputHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return e, nil
}

// CacheDependencies returns the memory IDs an entry depends on, sorted.
func (db *DB) CacheDependencies(inputHash string) ([]string, error) {
	rows, err := db.Query(`SELECT memory_id FROM cache_memory_dependencies
		WHERE input_hash = ? ORDER BY memory_id`, inputHash)
	if err != nil {
		return nil, fmt.Errorf("list cache deps: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cache dep: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCacheByMemory removes every entry that depends on memoryID along with
// all of those entries' dependency rows. Returns the number of entries removed.
func (db *DB) DeleteCacheByMemory(memoryID string) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin invalidate: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT input_hash FROM cache_memory_dependencies WHERE memory_id = ?`, memoryID)
	if err != nil {
		return 0, fmt.Errorf("find dependent entries: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan dependent entry: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find dependent entries: %w", err)
	}

	removed := 0
	for _, h := range hashes {
		if _, err := tx.Exec(`DELETE FROM cache_memory_dependencies WHERE input_hash = ?`, h); err != nil {
			return 0, fmt.Errorf("delete cache deps %s: %w", h, err)
		}
		res, err := tx.Exec(`DELETE FROM tier2_cache WHERE input_hash = ?`, h)
		if err != nil {
			return 0, fmt.Errorf("delete cache entry %s: %w", h, err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit invalidate: %w", err)
	}
	return removed, nil
}

// DeleteExpiredCache removes entries whose expires_at is at or before now.
func (db *DB) DeleteExpiredCache(now time.Time) (int, error) {
	ms := now.UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin prune cache: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_memory_dependencies WHERE input_hash IN
		(SELECT input_hash FROM tier2_cache WHERE expires_at <= ?)`, ms); err != nil {
		return 0, fmt.Errorf("prune cache deps: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM tier2_cache WHERE expires_at <= ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune cache: %w", err)
	}
	return int(n), nil
}

// CacheStats returns cache counters as of now.
func (db *DB) CacheStats(now time.Time) (*CacheStats, error) {
	var s CacheStats
	err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(hit_count), 0),
		COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM tier2_cache`,
		now.UnixMilli()).Scan(&s.Entries, &s.TotalHits, &s.Expired)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM cache_memory_dependencies`).Scan(&s.Dependencies); err != nil {
		return nil, fmt.Errorf("cache dep stats: %w", err)
	}
	return &s, nil
}
