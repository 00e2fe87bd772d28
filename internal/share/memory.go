package share

import (
	"context"
	"sync"

	"github.com/serroba/docsync/internal/docid"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[Grant]struct{}
}

// NewMemoryStore creates a new in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[Grant]struct{}),
	}
}

// Grant allows peerID to see docID.
func (m *MemoryStore) Grant(_ context.Context, docID docid.ID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants[Grant{DocID: docID, PeerID: peerID}] = struct{}{}

	return nil
}

// Revoke removes a grant.
func (m *MemoryStore) Revoke(_ context.Context, docID docid.ID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Grant{DocID: docID, PeerID: peerID}

	if _, exists := m.grants[key]; !exists {
		return ErrGrantNotFound
	}

	delete(m.grants, key)

	return nil
}

// Granted reports whether peerID may see docID.
func (m *MemoryStore) Granted(_ context.Context, docID docid.ID, peerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.grants[Grant{DocID: docID, PeerID: peerID}]; ok {
		return true, nil
	}

	_, ok := m.grants[Grant{DocID: docID, PeerID: Everyone}]

	return ok, nil
}

// List returns all grants for a document.
func (m *MemoryStore) List(_ context.Context, docID docid.ID) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Grant

	for g := range m.grants {
		if g.DocID == docID {
			result = append(result, g)
		}
	}

	return result, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
