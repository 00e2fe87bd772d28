package share

import (
	"context"

	"github.com/serroba/docsync/internal/docid"
)

// Checker is a Policy backed by a grant Store.
type Checker struct {
	store Store
}

// NewChecker creates a policy that announces only granted documents.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// ShouldAnnounce reports whether peerID holds a grant on docID.
func (c *Checker) ShouldAnnounce(ctx context.Context, peerID string, docID docid.ID) (bool, error) {
	return c.store.Granted(ctx, docID, peerID)
}

// Ensure Checker implements Policy.
var _ Policy = (*Checker)(nil)
