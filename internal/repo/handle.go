package repo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/protocol"
	"github.com/serroba/docsync/internal/share"
	"github.com/serroba/docsync/internal/wire"
)

type inbound struct {
	peer *network.Peer
	msg  wire.Message
}

// DocHandle is the live replica of one document. It serializes local edits,
// changes from peers and outgoing sync behind one mutex.
type DocHandle struct {
	id   docid.ID
	repo *Repo

	inbox    chan inbound
	done     chan struct{}
	stopOnce sync.Once

	snapshot atomic.Pointer[core.Snapshot]

	mu      sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every transition
	doc     *core.Document
	peers   map[string]*protocol.State
	stale   map[string]struct{}
	pending *protocol.Pending
	unsaved []core.Change

	wanted   bool // a Find is interested in this document
	loading  bool // a loader goroutine is running
	loadErr  error
	asked    map[string]struct{}
	answered chan struct{}

	listeners    map[int]func(core.Snapshot)
	nextListener int
}

func newHandle(r *Repo, id docid.ID, state State, doc *core.Document) *DocHandle {
	h := &DocHandle{
		id:        id,
		repo:      r,
		inbox:     make(chan inbound, r.cfg.InboxSize),
		done:      make(chan struct{}),
		state:     state,
		changed:   make(chan struct{}),
		doc:       doc,
		peers:     make(map[string]*protocol.State),
		stale:     make(map[string]struct{}),
		pending:   protocol.NewPending(r.cfg.MaxPending),
		listeners: make(map[int]func(core.Snapshot)),
	}

	h.publish()

	return h
}

// ID returns the document ID.
func (h *DocHandle) ID() docid.ID {
	return h.id
}

// URL returns the document's automerge: URL.
func (h *DocHandle) URL() string {
	return h.id.URL()
}

// State returns the current lifecycle state.
func (h *DocHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Doc returns the last committed snapshot without locking. The snapshot must
// not be modified.
func (h *DocHandle) Doc() core.Snapshot {
	return *h.snapshot.Load()
}

// Heads returns the frontier of the last committed snapshot.
func (h *DocHandle) Heads() []core.ChangeHash {
	return slices.Clone(h.Doc().Heads)
}

// Peers returns the IDs of connected peers syncing this document.
func (h *DocHandle) Peers() []string {
	peers := h.repo.hub.Subscribers(h.id)
	slices.Sort(peers)

	return peers
}

// Conflicts reports the value of a top-level key as each head sees it.
func (h *DocHandle) Conflicts(key string) ([]core.ChangeHash, []any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateReady {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotReady, h.state)
	}

	return h.doc.Conflicts(key)
}

// WhenReady blocks until the handle is ready, unavailable or deleted.
func (h *DocHandle) WhenReady(ctx context.Context) error {
	for {
		h.mu.Lock()
		state, changed, loadErr := h.state, h.changed, h.loadErr
		h.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateDeleted:
			return ErrDeleted
		case StateUnavailable:
			if loadErr != nil {
				return loadErr
			}

			return fmt.Errorf("%w: %s", ErrUnavailable, h.id)
		case StateLoading:
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnChange registers fn to run after every local or remote change. Calls
// happen outside the handle's lock. The returned func unregisters fn.
func (h *DocHandle) OnChange(fn func(core.Snapshot)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.listeners, id)
	}
}

// Change applies fn to the document as one atomic change and sends it to
// peers. A failing fn commits nothing; a fn that edits nothing sends nothing.
// If persisting fails the change stays live, is retried later, and the error
// wraps ErrStorage.
func (h *DocHandle) Change(ctx context.Context, fn core.Mutator) error {
	h.mu.Lock()

	switch state := h.state; state {
	case StateReady:
	case StateDeleted:
		h.mu.Unlock()

		return ErrDeleted
	default:
		h.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNotReady, state)
	}

	chs, err := h.doc.Change(fn)
	if err != nil || len(chs) == 0 {
		h.mu.Unlock()

		return err
	}

	h.repo.metrics.ChangesCommitted.Add(float64(len(chs)))
	h.publish()

	saveErr := h.persist(ctx, chs)

	h.broadcast()
	notify := h.notifier()
	h.mu.Unlock()

	notify()

	return saveErr
}

// Delete removes the document from the repo and from storage.
func (h *DocHandle) Delete(ctx context.Context) error {
	return h.repo.Delete(ctx, h.id)
}

func (h *DocHandle) start(load bool) {
	h.repo.spawn(h.run)

	if load {
		h.repo.spawn(h.load)
	}
}

// run processes peer messages one at a time.
func (h *DocHandle) run() {
	for {
		select {
		case in := <-h.inbox:
			h.receive(in.peer, in.msg)
		case <-h.done:
			return
		case <-h.repo.ctx.Done():
			return
		}
	}
}

// deliver queues a message for the handle's worker, waiting if it is busy.
// A stopped handle answers requests itself so the peer is not left waiting.
func (h *DocHandle) deliver(p *network.Peer, msg wire.Message) {
	in := inbound{peer: p, msg: msg}

	select {
	case <-h.done:
		h.refuse(in)

		return
	default:
	}

	select {
	case h.inbox <- in:
		// The worker may have stopped after we checked.
		select {
		case <-h.done:
			h.drain()
		default:
		}
	case <-h.done:
		h.refuse(in)
	case <-p.Done():
	case <-h.repo.ctx.Done():
	}
}

func (h *DocHandle) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *DocHandle) refuse(in inbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refuseLocked(in)
}

func (h *DocHandle) drain() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.drainLocked()
}

// drainLocked answers whatever a stopped worker left in the inbox.
// Callers hold h.mu.
func (h *DocHandle) drainLocked() {
	for {
		select {
		case in := <-h.inbox:
			h.refuseLocked(in)
		default:
			return
		}
	}
}

// refuseLocked tells a requesting peer that this repo will not serve the
// document. Nothing is sent while the repo shuts down. Callers hold h.mu.
func (h *DocHandle) refuseLocked(in inbound) {
	if in.msg.Type != wire.TypeSyncRequest || h.repo.ctx.Err() != nil {
		return
	}

	h.send(in.peer, wire.Unavailable(h.id))
}

// transition moves to next and wakes waiters. Callers hold h.mu.
func (h *DocHandle) transition(next State) error {
	from := h.state
	if !from.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	h.state = next
	close(h.changed)
	h.changed = make(chan struct{})

	if next == StateDeleted {
		h.repo.metrics.Transition(from.String(), "")
	} else {
		h.repo.metrics.Transition(from.String(), next.String())
	}

	glog.V(1).Infof("[repo] %s %s -> %s", h.id, from, next)

	return nil
}

func (h *DocHandle) markDeleted() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateDeleted {
		_ = h.transition(StateDeleted)
	}

	clear(h.peers)
	clear(h.stale)
	h.unsaved = nil
	h.pending = protocol.NewPending(h.repo.cfg.MaxPending)
	h.clearAsked()
	h.stop()
	h.drainLocked()
}

// publish stores a fresh snapshot for lock-free readers. Callers hold h.mu.
func (h *DocHandle) publish() {
	snap, err := h.doc.Snapshot()
	if err != nil {
		glog.Errorf("[repo] %s: snapshot: %v", h.id, err)

		if h.snapshot.Load() != nil {
			return
		}

		snap = core.Snapshot{Value: map[string]any{}}
	}

	h.snapshot.Store(&snap)
}

// notifier captures the listeners and snapshot to call once h.mu is released.
func (h *DocHandle) notifier() func() {
	ids := slices.Sorted(maps.Keys(h.listeners))
	fns := make([]func(core.Snapshot), 0, len(ids))

	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}

	snap := h.Doc()

	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

// persist saves chs together with anything left unsaved earlier and compacts
// when the snapshot policy says so. Callers hold h.mu.
func (h *DocHandle) persist(ctx context.Context, chs []core.Change) error {
	h.unsaved = append(h.unsaved, chs...)
	if len(h.unsaved) == 0 {
		return nil
	}

	r := h.repo
	done := r.metrics.ObserveStorage("save")
	err := r.store.SaveChanges(ctx, h.id, h.unsaved)
	done(err)

	if err != nil {
		glog.Warningf("[repo] %s: %d changes unsaved: %v", h.id, len(h.unsaved), err)

		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	n := len(h.unsaved)
	h.unsaved = nil

	if r.snapshots.RecordChanges(string(h.id), n) {
		h.compact(ctx)
	}

	return nil
}

func (h *DocHandle) compact(ctx context.Context) {
	r := h.repo
	done := r.metrics.ObserveStorage("compact")
	err := r.store.Compact(ctx, h.id, h.doc.Save(), h.doc.Heads(), h.doc.Has)
	done(err)

	if err != nil {
		glog.Warningf("[repo] %s: compaction failed: %v", h.id, err)

		return
	}

	r.snapshots.Reset(string(h.id))
	glog.V(1).Infof("[repo] %s compacted at %d changes", h.id, h.doc.Len())
}

// flush retries unsaved changes once more.
func (h *DocHandle) flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stop()

	if len(h.unsaved) == 0 {
		return nil
	}

	return h.persist(ctx, nil)
}

// maintain retries unsaved changes and restarts exchanges that stalled.
func (h *DocHandle) maintain(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateReady {
		return
	}

	if len(h.unsaved) > 0 {
		_ = h.persist(ctx, nil)
	}

	for _, p := range h.repo.hub.Peers() {
		st, ok := h.peers[p.ID]
		if !ok {
			continue
		}

		if _, stale := h.stale[p.ID]; stale {
			delete(h.stale, p.ID)
			st.Reset()
			h.syncPeer(p)

			continue
		}

		if msg, ok := st.Resync(h.doc); ok {
			h.send(p, msg)
		}
	}
}

// peerState returns the exchange state for a peer, creating it on first use.
func (h *DocHandle) peerState(peerID string) *protocol.State {
	st, ok := h.peers[peerID]
	if !ok {
		st = protocol.NewState(h.id)
		h.peers[peerID] = st
		h.repo.hub.Subscribe(peerID, h.id)
	}

	return st
}

// broadcast offers the document to every connected peer.
func (h *DocHandle) broadcast() {
	for _, p := range h.repo.hub.Peers() {
		h.syncPeer(p)
	}
}

// syncPeer sends the next message of the exchange with p, if any. A peer that
// has not spoken about the document yet only hears of it if the share policy
// allows.
func (h *DocHandle) syncPeer(p *network.Peer) {
	st, ok := h.peers[p.ID]

	if !ok || st.Introducing() {
		if h.doc.Len() == 0 || !share.Allowed(h.repo.ctx, h.repo.cfg.SharePolicy, p.ID, h.id) {
			return
		}

		st = h.peerState(p.ID)
	}

	msg, ok, err := st.Generate(h.doc)
	if err != nil {
		glog.Errorf("[repo] %s: generate for %s: %v", h.id, p.ID, err)

		return
	}

	if ok {
		h.send(p, msg)
	}
}

// send queues msg for p. A full queue drops the message; the maintenance
// pass restarts the exchange.
func (h *DocHandle) send(p *network.Peer, msg wire.Message) {
	if p.Enqueue(msg) {
		h.repo.metrics.MessagesSent.WithLabelValues(msg.Type.String()).Inc()

		return
	}

	h.repo.metrics.MessagesDropped.Inc()
	h.stale[p.ID] = struct{}{}

	glog.V(1).Infof("[repo] %s: dropped %s to %s", h.id, msg.Type, p.ID)
}

func (h *DocHandle) peerConnected(p *network.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateReady:
		h.syncPeer(p)
	case StateLoading:
		if !h.wanted || !h.loading {
			return
		}

		st := h.peerState(p.ID)
		h.send(p, st.Request(h.doc))

		if h.answered != nil {
			h.asked[p.ID] = struct{}{}
		}
	case StateUnavailable:
		if h.wanted {
			h.restart()
		}
	case StateDeleted:
	}
}

func (h *DocHandle) peerGone(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.peers, peerID)
	delete(h.stale, peerID)
	h.markAnswered(peerID)
}
