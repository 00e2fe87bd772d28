package repo

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/wire"
)

// Connect introduces this repo over conn and starts syncing with the remote.
// It returns once the handshake completed; the peer's Done channel closes
// when the connection finishes.
func (r *Repo) Connect(ctx context.Context, conn transport.Conn) (*network.Peer, error) {
	if r.isClosed() {
		_ = conn.Close()

		return nil, ErrClosed
	}

	id, err := network.Handshake(ctx, conn, r.cfg.PeerID, r.cfg.HandshakeTimeout)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	p := network.NewPeer(id, conn, r.cfg.SendQueueSize)

	if err := r.hub.Register(p); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("connect %s: %w", id, err)
	}

	r.metrics.Peers.Inc()

	if !r.spawn(func() { r.serve(p) }) {
		r.teardown(p)
		_ = conn.Close()

		return nil, ErrClosed
	}

	glog.Infof("[peer] %s connected", id)

	for _, h := range r.handleList() {
		h.peerConnected(p)
	}

	return p, nil
}

// Disconnect closes the connection to a peer. Documents and storage are untouched.
func (r *Repo) Disconnect(peerID string) error {
	p := r.hub.Peer(peerID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	err := p.Close()
	r.teardown(p)

	return err
}

// Peers returns the IDs of connected peers, sorted.
func (r *Repo) Peers() []string {
	peers := r.hub.Peers()
	ids := make([]string, 0, len(peers))

	for _, p := range peers {
		ids = append(ids, p.ID)
	}

	slices.Sort(ids)

	return ids
}

func (r *Repo) serve(p *network.Peer) {
	err := p.Run(r.ctx, r)
	r.teardown(p)

	glog.Infof("[peer] %s finished: %v", p.ID, err)
}

// teardown forgets a finished peer. Safe to call more than once.
func (r *Repo) teardown(p *network.Peer) {
	if _, ok := r.hub.Unregister(p); !ok {
		return
	}

	r.metrics.Peers.Dec()

	for _, h := range r.handleList() {
		h.peerGone(p.ID)
	}
}

// HandleMessage routes a peer's message to the document it names.
func (r *Repo) HandleMessage(p *network.Peer, msg wire.Message) {
	r.metrics.MessagesReceived.WithLabelValues(msg.Type.String()).Inc()

	if glog.V(2) {
		glog.Infof("[peer] %s -> %s %s", p.ID, msg.Type, msg.DocumentID)
	}

	if msg.Type == wire.TypeHello {
		r.HandleViolation(p, errDuplicateHello)

		return
	}

	h := r.route(msg.DocumentID, msg.Type)
	if h == nil {
		return
	}

	h.deliver(p, msg)
}

// HandleViolation records a malformed or unexpected message. The message is dropped.
func (r *Repo) HandleViolation(p *network.Peer, err error) {
	r.metrics.ProtocolViolations.Inc()
	glog.Warningf("[peer] %s: protocol violation: %v", p.ID, err)
}

// route returns the handle for id, opening one for a document a peer offers
// or asks about.
func (r *Repo) route(id docid.ID, t wire.Type) *DocHandle {
	r.mu.RLock()
	h := r.handles[id]
	r.mu.RUnlock()

	if h != nil || t == wire.TypeUnavailable {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	if h := r.handles[id]; h != nil {
		return h
	}

	return r.register(id, false)
}

// Ensure Repo implements network.Handler.
var _ network.Handler = (*Repo)(nil)
