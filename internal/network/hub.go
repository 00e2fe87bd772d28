package network

import (
	"errors"
	"sync"

	"github.com/serroba/docsync/internal/docid"
)

// ErrDuplicatePeer is returned when a peer ID is already connected.
var ErrDuplicatePeer = errors.New("peer already connected")

// Hub manages connected peers and the documents each one syncs.
type Hub struct {
	mu sync.RWMutex

	// peers maps peer ID to peer
	peers map[string]*Peer

	// documents maps document ID to set of peer IDs
	documents map[docid.ID]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		peers:     make(map[string]*Peer),
		documents: make(map[docid.ID]map[string]struct{}),
	}
}

// Register adds a peer to the hub.
func (h *Hub) Register(p *Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.peers[p.ID]; exists {
		return ErrDuplicatePeer
	}

	h.peers[p.ID] = p

	return nil
}

// Unregister removes a peer and its subscriptions, returning the documents it
// was subscribed to. It reports false for a peer that is not registered,
// including a stale one whose ID was reused.
func (h *Hub) Unregister(p *Peer) ([]docid.ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peers[p.ID] != p {
		return nil, false
	}

	delete(h.peers, p.ID)

	var docs []docid.ID

	for docID, peers := range h.documents {
		if _, ok := peers[p.ID]; !ok {
			continue
		}

		docs = append(docs, docID)
		delete(peers, p.ID)

		if len(peers) == 0 {
			delete(h.documents, docID)
		}
	}

	return docs, true
}

// Subscribe records that a peer syncs a document.
func (h *Hub) Subscribe(peerID string, docID docid.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[peerID]; !ok {
		return
	}

	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]struct{})
	}

	h.documents[docID][peerID] = struct{}{}
}

// Forget drops every subscription to a document.
func (h *Hub) Forget(docID docid.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.documents, docID)
}

// Peer returns a connected peer or nil.
func (h *Hub) Peer(id string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.peers[id]
}

// Peers returns a snapshot of connected peers.
func (h *Hub) Peers() []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		result = append(result, p)
	}

	return result
}

// Subscribers returns the IDs of peers syncing a document.
func (h *Hub) Subscribers(docID docid.ID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]string, 0, len(h.documents[docID]))
	for id := range h.documents[docID] {
		result = append(result, id)
	}

	return result
}
