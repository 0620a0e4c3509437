package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const entriesSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	expires_at TEXT
)`

// SQLiteBackend persists long-term entries in a SQLite database.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent readers
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec(entriesSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteBackend{db: conn, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteBackend) Path() string { return s.dbPath }

func (s *SQLiteBackend) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshal value %q: %w", e.Key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (key, value, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		e.Key, string(value), formatTime(e.CreatedAt), formatTime(e.UpdatedAt), nullTime(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", e.Key, err)
	}
	return nil
}

func (s *SQLiteBackend) Get(key string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT key, value, created_at, updated_at, expires_at FROM entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return e, true, nil
}

func (s *SQLiteBackend) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteBackend) List() ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, value, created_at, updated_at, expires_at FROM entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e                Entry
		value            string
		created, updated string
		expires          sql.NullString
	)
	if err := r.Scan(&e.Key, &value, &created, &updated, &expires); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		// Keep the raw text rather than losing the entry.
		e.Value = value
	}
	e.CreatedAt, _ = parseTime(created)
	e.UpdatedAt, _ = parseTime(updated)
	if expires.Valid {
		e.ExpiresAt, _ = parseTime(expires.String)
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
