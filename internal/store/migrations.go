package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "overlay_records: per-memory scoring metadata",
		SQL: `
CREATE TABLE overlay_records (
    memory_id         TEXT PRIMARY KEY,
    initial_priority  INTEGER NOT NULL DEFAULT 7 CHECK (initial_priority BETWEEN 1 AND 10),
    usage_count       INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
    last_accessed_at  INTEGER,
    created_at        INTEGER NOT NULL,
    dynamic_score     REAL NOT NULL DEFAULT 0,
    structure_status  TEXT NOT NULL DEFAULT 'raw' CHECK (structure_status IN ('raw', 'structured')),
    updated_at        INTEGER NOT NULL
);

CREATE INDEX idx_overlay_score ON overlay_records(dynamic_score DESC);
`,
	},
	{
		Version:     2,
		Description: "tier2_cache + cache_memory_dependencies: synthesis cache with dependency join table",
		SQL: `
CREATE TABLE tier2_cache (
    input_hash        TEXT PRIMARY KEY,
    spec_hash         TEXT NOT NULL,
    brief_hash        TEXT NOT NULL,
    synthesis_result  TEXT NOT NULL,
    suggested_links   TEXT NOT NULL DEFAULT '[]',
    created_at        INTEGER NOT NULL,
    expires_at        INTEGER NOT NULL,
    hit_count         INTEGER NOT NULL DEFAULT 0,
    last_hit_at       INTEGER
);

CREATE INDEX idx_cache_expires ON tier2_cache(expires_at);

CREATE TABLE cache_memory_dependencies (
    input_hash  TEXT NOT NULL,
    memory_id   TEXT NOT NULL,
    PRIMARY KEY (input_hash, memory_id),
    FOREIGN KEY (input_hash) REFERENCES tier2_cache(input_hash) ON DELETE CASCADE
);

CREATE INDEX idx_cache_deps_memory ON cache_memory_dependencies(memory_id);
`,
	},
	{
		Version:     3,
		Description: "tier2_usage: daily call ledger for the Tier2 quota",
		SQL: `
CREATE TABLE tier2_usage (
    day    TEXT PRIMARY KEY,
    calls  INTEGER NOT NULL DEFAULT 0
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
