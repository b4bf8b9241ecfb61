package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database file used by SQLiteStore.
const SQLiteFileName = "vault.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	name       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps blobs as rows in a single-table SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts options
}

// NewSQLiteStore opens or creates dir/vault.db.
func NewSQLiteStore(dir string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}
	path := filepath.Join(dir, SQLiteFileName)

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// One writer keeps upserts serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create tables: %w", err)
	}
	if err := os.Chmod(path, FileMode); err != nil {
		o.log.Warn().Err(err).Str("path", path).Msg("failed to set database permissions")
	}

	return &SQLiteStore{db: db, path: path, opts: o}, nil
}

// ReadAll implements Store.
func (s *SQLiteStore) ReadAll(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read %s: %w", name, err)
	}
	return data, nil
}

// AtomicWriteAll upserts the row inside a transaction.
func (s *SQLiteStore) AtomicWriteAll(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := checkDiskSpaceForWrite(filepath.Dir(s.path), len(data), s.opts); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO blobs (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, name, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: failed to write %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM blobs WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("store: failed to stat %s: %w", name, err)
	}
	return n > 0, nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("store: failed to remove %s: %w", name, err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check.
func (s *SQLiteStore) IntegrityCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("store: integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("store: integrity check failed: %s", result)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
