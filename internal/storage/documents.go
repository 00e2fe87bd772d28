package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
)

const (
	kindSnapshot    = "snapshot"
	kindIncremental = "incremental"
)

// Chunks is everything stored for one document. Changes holds encoded
// change records, see core.Change.MarshalBinary.
type Chunks struct {
	Snapshots [][]byte
	Changes   [][]byte
}

// Empty reports whether nothing was stored.
func (c Chunks) Empty() bool {
	return len(c.Snapshots) == 0 && len(c.Changes) == 0
}

// DocumentStore lays documents out on an Adapter:
//
//	[docID, "snapshot", sha256(heads)]  full saved document
//	[docID, "incremental", changeHash]  one change record with its deps
//
// A document is its snapshots plus the incrementals saved since.
type DocumentStore struct {
	adapter Adapter
}

// NewDocumentStore creates a document store over adapter.
func NewDocumentStore(adapter Adapter) *DocumentStore {
	return &DocumentStore{adapter: adapter}
}

// Load returns every stored chunk for a document.
// Returns ErrDocumentNotFound if nothing is stored.
func (s *DocumentStore) Load(ctx context.Context, id docid.ID) (Chunks, error) {
	entries, err := s.entries(ctx, id)
	if err != nil {
		return Chunks{}, err
	}

	var chunks Chunks

	for _, e := range entries {
		switch e.Key[1] {
		case kindSnapshot:
			chunks.Snapshots = append(chunks.Snapshots, e.Value)
		case kindIncremental:
			chunks.Changes = append(chunks.Changes, e.Value)
		}
	}

	if chunks.Empty() {
		return Chunks{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	return chunks, nil
}

// SaveSnapshot stores a full document keyed by its heads.
func (s *DocumentStore) SaveSnapshot(ctx context.Context, id docid.ID, data []byte, heads []core.ChangeHash) error {
	key, err := NewKey(string(id), kindSnapshot, headsDigest(heads))
	if err != nil {
		return err
	}

	if err := s.adapter.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", id, err)
	}

	return nil
}

// SaveChanges stores each change under its hash. Saving a change twice
// rewrites identical bytes.
func (s *DocumentStore) SaveChanges(ctx context.Context, id docid.ID, changes []core.Change) error {
	for _, c := range changes {
		key, err := NewKey(string(id), kindIncremental, c.Hash.String())
		if err != nil {
			return err
		}

		rec, err := c.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode change %s/%s: %w", id, c.Hash, err)
		}

		if err := s.adapter.Put(ctx, key, rec); err != nil {
			return fmt.Errorf("save change %s/%s: %w", id, c.Hash, err)
		}
	}

	return nil
}

// Compact writes a snapshot, then removes older snapshots and every
// incremental change covered reports as contained in it.
func (s *DocumentStore) Compact(ctx context.Context, id docid.ID, data []byte, heads []core.ChangeHash, covered func(core.ChangeHash) bool) error {
	if err := s.SaveSnapshot(ctx, id, data, heads); err != nil {
		return err
	}

	current := headsDigest(heads)

	entries, err := s.entries(ctx, id)
	if err != nil {
		return err
	}

	for _, e := range entries {
		switch e.Key[1] {
		case kindSnapshot:
			if e.Key[2] == current {
				continue
			}
		case kindIncremental:
			h, err := core.ParseChangeHash(e.Key[2])
			if err != nil || !covered(h) {
				continue
			}
		default:
			continue
		}

		if err := s.adapter.Delete(ctx, e.Key); err != nil {
			return fmt.Errorf("compact %s: %w", id, err)
		}
	}

	return nil
}

// Delete removes everything stored for a document.
func (s *DocumentStore) Delete(ctx context.Context, id docid.ID) error {
	prefix, err := NewKey(string(id))
	if err != nil {
		return err
	}

	entries, err := s.adapter.LoadRange(ctx, prefix)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	for _, e := range entries {
		if err := s.adapter.Delete(ctx, e.Key); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}

	return nil
}

// entries returns the well-formed entries of a document in key order.
func (s *DocumentStore) entries(ctx context.Context, id docid.ID) ([]Entry, error) {
	prefix, err := NewKey(string(id))
	if err != nil {
		return nil, err
	}

	all, err := s.adapter.LoadRange(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	entries := slices.DeleteFunc(all, func(e Entry) bool { return len(e.Key) != 3 })
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key.String(), b.Key.String()) })

	return entries, nil
}

func headsDigest(heads []core.ChangeHash) string {
	sorted := slices.Clone(heads)
	core.SortHashes(sorted)

	h := sha256.New()
	for _, head := range sorted {
		h.Write(head[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}
