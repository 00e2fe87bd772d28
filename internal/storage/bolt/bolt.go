// Package bolt stores values in a single bbolt bucket keyed by the flat key form.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/serroba/docsync/internal/storage"
	bbolt "go.etcd.io/bbolt"
)

var bucket = []byte("docsync")

// Adapter is a bbolt implementation of storage.Adapter.
type Adapter struct {
	db *bbolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Adapter, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)

		return err
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Adapter{db: db}, nil
}

// Close releases the database file.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Load returns the value stored under key.
func (a *Adapter) Load(_ context.Context, key storage.Key) ([]byte, error) {
	var value []byte

	err := a.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key.String()))
		if v == nil {
			return storage.ErrKeyNotFound
		}

		// Values are only valid inside the transaction.
		value = slices.Clone(v)

		return nil
	})

	return value, err
}

// LoadRange seeks to the prefix and walks forward while keys match.
func (a *Adapter) LoadRange(_ context.Context, prefix storage.Key) ([]storage.Entry, error) {
	lo, _ := prefix.RangeBounds()
	seek := []byte(lo)

	var result []storage.Entry

	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()

		for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, v = c.Next() {
			key, err := storage.ParseKey(string(k))
			if err != nil {
				continue
			}

			result = append(result, storage.Entry{Key: key, Value: slices.Clone(v)})
		}

		return nil
	})

	return result, err
}

// Put stores value under key.
func (a *Adapter) Put(_ context.Context, key storage.Key, value []byte) error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key.String()), value)
	})
}

// Delete removes key.
func (a *Adapter) Delete(_ context.Context, key storage.Key) error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key.String()))
	})
}

var _ storage.Adapter = (*Adapter)(nil)
