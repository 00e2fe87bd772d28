// Package sqlite stores values in a single key/value table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/serroba/docsync/internal/storage"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// Adapter is a SQLite implementation of storage.Adapter.
type Adapter struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite serializes writers; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Adapter{db: db}, nil
}

// Close closes the database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Load returns the value stored under key.
func (a *Adapter) Load(ctx context.Context, key storage.Key) ([]byte, error) {
	var value []byte

	err := a.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key.String()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}

	if err != nil {
		return nil, err
	}

	return value, nil
}

// LoadRange returns every entry under prefix.
func (a *Adapter) LoadRange(ctx context.Context, prefix storage.Key) ([]storage.Entry, error) {
	lo, hi := prefix.RangeBounds()

	rows, err := a.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? AND key < ?`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.Entry

	for rows.Next() {
		var (
			flat  string
			value []byte
		)

		if err := rows.Scan(&flat, &value); err != nil {
			return nil, err
		}

		key, err := storage.ParseKey(flat)
		if err != nil {
			continue
		}

		result = append(result, storage.Entry{Key: key, Value: value})
	}

	return result, rows.Err()
}

// Put stores value under key.
func (a *Adapter) Put(ctx context.Context, key storage.Key, value []byte) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key.String(), value)

	return err
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key storage.Key) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key.String())

	return err
}

var _ storage.Adapter = (*Adapter)(nil)
