// Package store keeps a catalog of named transform records in a SQLite
// database. Each record is stored as the same JSON document Write produces.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/chazu/xform/pkg/transform"
)

// ErrNotFound is returned when no record has the requested name.
var ErrNotFound = errors.New("store: record not found")

// Entry summarizes one stored record.
type Entry struct {
	Name string
	Kind transform.Kind
}

// Store is a SQLite-backed record catalog. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog at path. ":memory:" gives a private
// in-memory catalog.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "xform.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("store: create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create records table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores t under name, replacing any existing record.
func (s *Store) Put(ctx context.Context, name string, t transform.Transformer) error {
	if name == "" {
		return fmt.Errorf("store: empty record name")
	}
	rec := t.Record()
	var buf bytes.Buffer
	if err := transform.EncodeRecord(&buf, rec); err != nil {
		return fmt.Errorf("store: put %q: %w", name, err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO records(name, kind, payload) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET kind=excluded.kind, payload=excluded.payload`,
		name, string(rec.Kind()), buf.Bytes())
	if err != nil {
		return fmt.Errorf("store: put %q: %w", name, err)
	}
	return nil
}

// GetRecord returns the raw record stored under name.
func (s *Store) GetRecord(ctx context.Context, name string) (transform.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return transform.Record{}, fmt.Errorf("store: get %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return transform.Record{}, fmt.Errorf("store: get %q: %w", name, err)
	}
	rec, err := transform.DecodeRecord(bytes.NewReader(payload))
	if err != nil {
		return transform.Record{}, fmt.Errorf("store: get %q: %w", name, err)
	}
	return rec, nil
}

// Get rebuilds the transform stored under name.
func (s *Store) Get(ctx context.Context, name string) (transform.Transformer, error) {
	rec, err := s.GetRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	t, err := rec.Transformer()
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", name, err)
	}
	return t, nil
}

// List returns every stored record ordered by name.
func (s *Store) List(ctx context.Context) (_ []Entry, retErr error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, kind FROM records ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("store: list: %w", err)
		}
	}()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.Name, &kind); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		e.Kind = transform.Kind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Delete removes the record stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("store: delete %q: %w", name, ErrNotFound)
	}
	return nil
}
