package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/lazypower/stage0/internal/memory"
)

// SQLite is a local knowledge store with tag tables and an FTS5 index
// over memory content.
type SQLite struct {
	db   *sql.DB
	Path string

	mu      sync.Mutex
	entropy *rand.Rand
}

// DefaultPath returns the default knowledge store path: ~/.stage0/knowledge.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".stage0", "knowledge.db"), nil
}

// OpenSQLite opens (or creates) a knowledge store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLite(db, path)
}

// OpenSQLiteMemory opens an in-memory knowledge store for testing.
func OpenSQLiteMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma foreign_keys: %w", err)
	}
	return newSQLite(db, ":memory:")
}

func newSQLite(db *sql.DB, path string) (*SQLite, error) {
	s := &SQLite{
		db:      db,
		Path:    path,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		content     TEXT NOT NULL,
		domain      TEXT NOT NULL DEFAULT '',
		importance  INTEGER NOT NULL DEFAULT 7,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_domain ON memories(domain);
	CREATE INDEX IF NOT EXISTS idx_memories_order ON memories(importance DESC, created_at DESC);

	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id  TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		tag        TEXT NOT NULL,
		PRIMARY KEY (memory_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

	CREATE TABLE IF NOT EXISTS relationships (
		from_id     TEXT NOT NULL REFERENCES memories(id),
		to_id       TEXT NOT NULL REFERENCES memories(id),
		type        TEXT NOT NULL,
		confidence  REAL NOT NULL DEFAULT 0,
		reasoning   TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		UNIQUE (from_id, to_id, type)
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content=memories,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='trigger' AND name='memories_ai'").Scan(&name)
	if err == sql.ErrNoRows {
		triggers := `
		CREATE TRIGGER memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END;
		CREATE TRIGGER memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END;
		CREATE TRIGGER memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END;
		`
		if _, err := s.db.Exec(triggers); err != nil {
			return fmt.Errorf("create fts triggers: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("check fts triggers: %w", err)
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, q Query) ([]memory.Memory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var where []string
	var args []any
	if q.Domain != "" {
		where = append(where, "m.domain = ?")
		args = append(args, q.Domain)
	}
	if tags := memory.NormalizeTags(q.Tags); len(tags) > 0 {
		where = append(where, fmt.Sprintf(`m.id IN (
			SELECT memory_id FROM memory_tags WHERE tag IN (%s)
			GROUP BY memory_id HAVING COUNT(DISTINCT tag) = ?)`, placeholders(len(tags))))
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}
	if match := ftsQuery(q.Keywords); match != "" {
		where = append(where, "m.rowid IN (SELECT rowid FROM memories_fts WHERE memories_fts MATCH ?)")
		args = append(args, match)
	}

	query := `SELECT m.id, m.content, m.domain, m.importance, m.created_at, m.updated_at FROM memories m`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY m.importance DESC, m.created_at DESC, m.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.loadTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, domain, importance, created_at, updated_at FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	one := []memory.Memory{*m}
	if err := s.loadTags(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (s *SQLite) Create(ctx context.Context, m *memory.Memory) error {
	if m.ID == "" {
		m.ID = s.newID()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.Tags = memory.NormalizeTags(m.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, domain, importance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.Content, m.Domain, m.Importance, m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	if err := insertTags(ctx, tx, m.ID, m.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Update(ctx context.Context, m *memory.Memory) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	m.Tags = memory.NormalizeTags(m.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET content = ?, domain = ?, importance = ?, updated_at = ?
		WHERE id = ?
	`, m.Content, m.Domain, m.Importance, m.UpdatedAt.UnixMilli(), m.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update memory %s: %w", m.ID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, m.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if err := insertTags(ctx, tx, m.ID, m.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// PutRelationship upserts an edge; a repeated (from, to, type) keeps the
// latest confidence and reasoning.
func (s *SQLite) PutRelationship(ctx context.Context, l memory.Link) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (from_id, to_id, type, confidence, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, type) DO UPDATE SET
			confidence = excluded.confidence,
			reasoning = excluded.reasoning
	`, l.FromID, l.ToID, l.Type, l.Confidence, l.Reasoning, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put relationship: %w", err)
	}
	return nil
}

// Relationships returns edges touching id in either direction.
func (s *SQLite) Relationships(ctx context.Context, id string) ([]memory.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, type, confidence, reasoning FROM relationships
		WHERE from_id = ? OR to_id = ?
		ORDER BY from_id, to_id, type
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []memory.Link
	for rows.Next() {
		var l memory.Link
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Type, &l.Confidence, &l.Reasoning); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLite) loadTags(ctx context.Context, ms []memory.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	pos := make(map[string]int, len(ms))
	args := make([]any, len(ms))
	for i, m := range ms {
		pos[m.ID] = i
		args[i] = m.ID
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT memory_id, tag FROM memory_tags WHERE memory_id IN (%s) ORDER BY memory_id, tag`,
		placeholders(len(ms))), args...)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		i := pos[id]
		ms[i].Tags = append(ms[i].Tags, tag)
	}
	return rows.Err()
}

func insertTags(ctx context.Context, tx *sql.Tx, id string, tags []string) error {
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`, id, t); err != nil {
			return fmt.Errorf("insert tag %q: %w", t, err)
		}
	}
	return nil
}

func scanMemory(sc interface{ Scan(...any) error }) (*memory.Memory, error) {
	var m memory.Memory
	var created, updated int64
	if err := sc.Scan(&m.ID, &m.Content, &m.Domain, &m.Importance, &created, &updated); err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(created).UTC()
	m.UpdatedAt = time.UnixMilli(updated).UTC()
	return &m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ftsQuery quotes each keyword and ORs them so user text cannot inject
// FTS5 syntax.
func ftsQuery(keywords []string) string {
	var terms []string
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ReplaceAll(k, `"`, ""))
		if k != "" {
			terms = append(terms, `"`+k+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}
