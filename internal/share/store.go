package share

import (
	"context"
	"errors"

	"github.com/serroba/docsync/internal/docid"
)

// Everyone grants a document to every peer.
const Everyone = "*"

// Common errors.
var (
	ErrGrantNotFound = errors.New("grant not found")
)

// Grant allows a peer to be told about a document.
type Grant struct {
	DocID  docid.ID
	PeerID string
}

// Store persists grants.
type Store interface {
	// Grant allows peerID (or Everyone) to see docID. Granting twice is a no-op.
	Grant(ctx context.Context, docID docid.ID, peerID string) error

	// Revoke removes a grant.
	// Returns ErrGrantNotFound if no grant exists.
	Revoke(ctx context.Context, docID docid.ID, peerID string) error

	// Granted reports whether peerID or Everyone holds a grant on docID.
	Granted(ctx context.Context, docID docid.ID, peerID string) (bool, error)

	// List returns all grants for a document.
	List(ctx context.Context, docID docid.ID) ([]Grant, error)
}
