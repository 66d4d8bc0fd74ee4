package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Structure status values for OverlayRecord.StructureStatus.
const (
	StructureRaw        = "raw"
	StructureStructured = "structured"
)

// DefaultPriority is used when a memory has no usable importance.
const DefaultPriority = 7

// OverlayRecord is the per-memory scoring metadata kept alongside the
// knowledge store. MemoryID is a weak reference.
type OverlayRecord struct {
	MemoryID        string
	InitialPriority int
	UsageCount      int
	LastAccessedAt  *int64
	CreatedAt       int64
	DynamicScore    float64
	StructureStatus string
	UpdatedAt       int64
}

// LastActivity returns last_accessed_at, falling back to created_at.
func (r *OverlayRecord) LastActivity() int64 {
	if r.LastAccessedAt != nil {
		return *r.LastAccessedAt
	}
	return r.CreatedAt
}

// Seed describes a record to create lazily on the first scoring pass.
type Seed struct {
	MemoryID        string
	InitialPriority int
	CreatedAt       int64
}

// ClampPriority forces p into 1..10, mapping out-of-range values to DefaultPriority.
func ClampPriority(p int) int {
	if p < 1 || p > 10 {
		return DefaultPriority
	}
	return p
}

const recordColumns = `memory_id, initial_priority, usage_count, last_accessed_at,
	created_at, dynamic_score, structure_status, updated_at`

func scanRecord(sc interface{ Scan(...any) error }) (*OverlayRecord, error) {
	var r OverlayRecord
	var lastAccess sql.NullInt64
	if err := sc.Scan(&r.MemoryID, &r.InitialPriority, &r.UsageCount, &lastAccess,
		&r.CreatedAt, &r.DynamicScore, &r.StructureStatus, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if lastAccess.Valid {
		r.LastAccessedAt = &lastAccess.Int64
	}
	return &r, nil
}

// EnsureRecords creates any missing records from seeds and returns the IDs
// that were newly created. Existing records are left untouched.
func (db *DB) EnsureRecords(seeds []Seed) ([]string, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin ensure records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO overlay_records (memory_id, initial_priority, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare ensure records: %w", err)
	}
	defer stmt.Close()

	var created []string
	for _, s := range seeds {
		createdAt := s.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		res, err := stmt.Exec(s.MemoryID, ClampPriority(s.InitialPriority), createdAt, now)
		if err != nil {
			return nil, fmt.Errorf("ensure record %s: %w", s.MemoryID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = append(created, s.MemoryID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ensure records: %w", err)
	}
	return created, nil
}

// GetRecord returns the overlay record for a memory, or nil if not found.
func (db *DB) GetRecord(memoryID string) (*OverlayRecord, error) {
	r, err := scanRecord(db.QueryRow(
		`SELECT `+recordColumns+` FROM overlay_records WHERE memory_id = ?`, memoryID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// GetRecords returns the records for the given memory IDs keyed by ID.
// Missing IDs are absent from the map.
func (db *DB) GetRecords(ids []string) (map[string]*OverlayRecord, error) {
	out := make(map[string]*OverlayRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(`SELECT `+recordColumns+` FROM overlay_records
		WHERE memory_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[r.MemoryID] = r
	}
	return out, rows.Err()
}

// ListRecords returns every overlay record ordered by memory ID.
func (db *DB) ListRecords() ([]OverlayRecord, error) {
	return db.queryRecords(`SELECT ` + recordColumns + ` FROM overlay_records ORDER BY memory_id`)
}

// TopByScore returns the highest-scoring records, ties broken by memory ID.
func (db *DB) TopByScore(limit int) ([]OverlayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.queryRecords(`SELECT `+recordColumns+` FROM overlay_records
		ORDER BY dynamic_score DESC, memory_id ASC LIMIT ?`, limit)
}

func (db *DB) queryRecords(query string, args ...any) ([]OverlayRecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []OverlayRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RecordAccess atomically bumps usage_count and sets last_accessed_at for
// each memory selected into a briefing. Records that do not exist yet are
// created with usage_count = 1.
func (db *DB) RecordAccess(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ms := at.UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin record access: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO overlay_records (memory_id, usage_count, last_accessed_at, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			usage_count = usage_count + 1,
			last_accessed_at = excluded.last_accessed_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare record access: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id, ms, ms, ms); err != nil {
			return fmt.Errorf("record access %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record access: %w", err)
	}
	return nil
}

// UpdateDynamicScore stores a recomputed score for one memory.
func (db *DB) UpdateDynamicScore(memoryID string, score float64) error {
	_, err := db.Exec(`UPDATE overlay_records SET dynamic_score = ?, updated_at = ? WHERE memory_id = ?`,
		score, time.Now().UnixMilli(), memoryID)
	if err != nil {
		return fmt.Errorf("update dynamic score: %w", err)
	}
	return nil
}

// UpdateDynamicScores stores many scores in one transaction.
func (db *DB) UpdateDynamicScores(scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin update scores: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE overlay_records SET dynamic_score = ?, updated_at = ? WHERE memory_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare update scores: %w", err)
	}
	defer stmt.Close()

	for id, score := range scores {
		if _, err := stmt.Exec(score, now, id); err != nil {
			return fmt.Errorf("update score %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update scores: %w", err)
	}
	return nil
}

// SetStructureStatus marks a memory raw or structured.
func (db *DB) SetStructureStatus(memoryID, status string) error {
	if status != StructureRaw && status != StructureStructured {
		return fmt.Errorf("invalid structure status: %q", status)
	}
	_, err := db.Exec(`UPDATE overlay_records SET structure_status = ?, updated_at = ? WHERE memory_id = ?`,
		status, time.Now().UnixMilli(), memoryID)
	if err != nil {
		return fmt.Errorf("set structure status: %w", err)
	}
	return nil
}

// SetInitialPriority overrides the ingestion priority of a memory.
func (db *DB) SetInitialPriority(memoryID string, priority int) error {
	if priority < 1 || priority > 10 {
		return fmt.Errorf("priority must be in 1..10, got %d", priority)
	}
	_, err := db.Exec(`UPDATE overlay_records SET initial_priority = ?, updated_at = ? WHERE memory_id = ?`,
		priority, time.Now().UnixMilli(), memoryID)
	if err != nil {
		return fmt.Errorf("set initial priority: %w", err)
	}
	return nil
}

// CountRecords returns the number of overlay records.
func (db *DB) CountRecords() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM overlay_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
