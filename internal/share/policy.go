// Package share decides which peers learn about which documents.
//
// A Policy only gates announcing: a peer that already knows a document ID
// and asks for it is answered regardless.
package share

import (
	"context"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/docid"
)

// Policy decides whether a document is announced to a peer.
type Policy interface {
	ShouldAnnounce(ctx context.Context, peerID string, docID docid.ID) (bool, error)
}

// PolicyFunc adapts a function to a Policy.
type PolicyFunc func(ctx context.Context, peerID string, docID docid.ID) (bool, error)

// ShouldAnnounce calls f.
func (f PolicyFunc) ShouldAnnounce(ctx context.Context, peerID string, docID docid.ID) (bool, error) {
	return f(ctx, peerID, docID)
}

// AllowAll announces every document to every peer.
var AllowAll Policy = PolicyFunc(func(context.Context, string, docid.ID) (bool, error) {
	return true, nil
})

// DenyAll announces nothing. Peers can still request documents by ID.
var DenyAll Policy = PolicyFunc(func(context.Context, string, docid.ID) (bool, error) {
	return false, nil
})

// Allowed evaluates p, treating a failing policy as a refusal.
func Allowed(ctx context.Context, p Policy, peerID string, docID docid.ID) bool {
	ok, err := p.ShouldAnnounce(ctx, peerID, docID)
	if err != nil {
		glog.Warningf("[share] policy for %s on %s failed: %v", peerID, docID, err)

		return false
	}

	return ok
}
