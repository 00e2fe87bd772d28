// Package postgres stores values in a key/value table through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/docsync/internal/storage"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "docsync_kv"

// Config holds connection settings.
type Config struct {
	URL   string
	Table string
}

// Adapter is a PostgreSQL implementation of storage.Adapter.
type Adapter struct {
	pool  *pgxpool.Pool
	table string
}

// Open connects and creates the table if it does not exist.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	ident := pgx.Identifier{table}.Sanitize()

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+ident+` (
		key   TEXT PRIMARY KEY COLLATE "C",
		value BYTEA NOT NULL
	)`)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Adapter{pool: pool, table: ident}, nil
}

// Close releases the pool.
func (a *Adapter) Close() {
	a.pool.Close()
}

// Load returns the value stored under key.
func (a *Adapter) Load(ctx context.Context, key storage.Key) ([]byte, error) {
	var value []byte

	err := a.pool.QueryRow(ctx, `SELECT value FROM `+a.table+` WHERE key = $1`, key.String()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
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

	rows, err := a.pool.Query(ctx, `SELECT key, value FROM `+a.table+` WHERE key >= $1 AND key < $2`, lo, hi)
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
	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+a.table+` (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key.String(), value)

	return err
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key storage.Key) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM `+a.table+` WHERE key = $1`, key.String())

	return err
}

var _ storage.Adapter = (*Adapter)(nil)
