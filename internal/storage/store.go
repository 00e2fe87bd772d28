package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Common errors.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidKey       = errors.New("invalid storage key")
)

// Separator joins key parts in backends that store flat keys.
const Separator = "/"

// Key addresses a value hierarchically, e.g. [docID, "incremental", hash].
type Key []string

// NewKey validates parts. Parts must be non-empty and must not contain Separator.
func NewKey(parts ...string) (Key, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	for _, p := range parts {
		if p == "" || strings.Contains(p, Separator) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, parts)
		}
	}

	return Key(slices.Clone(parts)), nil
}

// ParseKey splits a flat key produced by String.
func ParseKey(s string) (Key, error) {
	return NewKey(strings.Split(s, Separator)...)
}

func (k Key) String() string {
	return strings.Join(k, Separator)
}

// HasPrefix reports whether prefix matches the leading parts of k.
func (k Key) HasPrefix(prefix Key) bool {
	return len(prefix) <= len(k) && slices.Equal(k[:len(prefix)], prefix)
}

// RangeBounds returns the half-open interval [lo, hi) of flat keys strictly
// under prefix. '0' is the byte after '/', so hi excludes every longer key
// that merely shares a string prefix.
func (k Key) RangeBounds() (lo, hi string) {
	s := k.String()

	return s + Separator, s + "0"
}

// Entry is a key with its value.
type Entry struct {
	Key   Key
	Value []byte
}

// Adapter persists opaque values under hierarchical keys.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Load returns the value stored under key.
	// Returns ErrKeyNotFound if nothing is stored there.
	Load(ctx context.Context, key Key) ([]byte, error)

	// LoadRange returns every entry whose key has prefix as a strict prefix,
	// in no particular order. An empty result is not an error.
	LoadRange(ctx context.Context, prefix Key) ([]Entry, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
}
