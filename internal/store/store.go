// Package store provides the durable document store shared by both peers.
//
// A document is one logical record (courses, settings, current_round, or a
// companion key) stored whole under its key together with a schema version.
// Writes replace the entire document in a single upsert statement, so a
// reader never observes a partially written record. Merging happens one
// layer up, in the repository.
//
// The store runs on embedded SQLite (ncruces/go-sqlite3, pure Go) in WAL
// mode so that a one-shot CLI command and a running daemon can share it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/flogapp/flog/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned by Get when no document is stored under a key.
	ErrNotFound = errors.New("document not found")

	// ErrCorrupt is returned by GetJSON when a stored body does not decode.
	ErrCorrupt = errors.New("document is corrupt")
)

// Document is one stored record.
type Document struct {
	Key       string
	Version   int
	Body      []byte
	UpdatedAt time.Time
}

// Store is the contract the repository and relay depend on.
type Store interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Document, error)

	// Put replaces the whole document under doc.Key.
	Put(ctx context.Context, doc *Document) error

	// Delete removes the document. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)
}

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new database connection at the specified path.
//
// The caller MUST call Close() when done. Call InitSchema before first use.
//
// Example:
//
//	db, err := store.Open(".flog/flog.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time keeps whole-document replaces serialized.
	conn.SetMaxOpenConns(1)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the documents table if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		body BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Get implements Store.Get.
func (db *DB) Get(ctx context.Context, key string) (*Document, error) {
	if db.conn == nil {
		return nil, &model.StorageError{Op: model.OpRead, Key: key, Err: errors.New("database is closed")}
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT version, body, updated_at FROM documents WHERE key = ?`, key)

	doc := &Document{Key: key}
	var updatedAt string
	if err := row.Scan(&doc.Version, &doc.Body, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &model.StorageError{Op: model.OpRead, Key: key, Err: err}
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = t
	}

	return doc, nil
}

// Put implements Store.Put.
func (db *DB) Put(ctx context.Context, doc *Document) error {
	if doc == nil || doc.Key == "" {
		return &model.StorageError{Op: model.OpWrite, Err: errors.New("document key is required")}
	}
	if db.conn == nil {
		return &model.StorageError{Op: model.OpWrite, Key: doc.Key, Err: errors.New("database is closed")}
	}

	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = db.now()
	}
	body := doc.Body
	if body == nil {
		body = []byte{}
	}

	query := `
	INSERT INTO documents (key, version, body, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		version = excluded.version,
		body = excluded.body,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		doc.Key,
		doc.Version,
		body,
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &model.StorageError{Op: model.OpWrite, Key: doc.Key, Err: err}
	}

	return nil
}

// Delete implements Store.Delete.
func (db *DB) Delete(ctx context.Context, key string) error {
	if db.conn == nil {
		return &model.StorageError{Op: model.OpWrite, Key: key, Err: errors.New("database is closed")}
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); err != nil {
		return &model.StorageError{Op: model.OpWrite, Key: key, Err: err}
	}
	return nil
}

// Keys implements Store.Keys.
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	if db.conn == nil {
		return nil, &model.StorageError{Op: model.OpRead, Err: errors.New("database is closed")}
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT key FROM documents ORDER BY key ASC`)
	if err != nil {
		return nil, &model.StorageError{Op: model.OpRead, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &model.StorageError{Op: model.OpRead, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: model.OpRead, Err: err}
	}

	sort.Strings(keys)
	return keys, nil
}

// GetJSON decodes the document under key into v and returns its version.
//
// Returns ErrNotFound for a missing key and an error matching ErrCorrupt
// when the stored body is not valid JSON for v.
func GetJSON(ctx context.Context, s Store, key string, v any) (int, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return doc.Version, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return doc.Version, nil
}

// PutJSON encodes v and replaces the document under key.
func PutJSON(ctx context.Context, s Store, key string, version int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return &model.StorageError{Op: model.OpWrite, Key: key, Err: fmt.Errorf("failed to marshal: %w", err)}
	}
	return s.Put(ctx, &Document{Key: key, Version: version, Body: body})
}
