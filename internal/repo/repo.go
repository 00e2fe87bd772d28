// Package repo keeps documents live in memory, persists them and replicates
// them to connected peers.
//
// Every document has one DocHandle per Repo. Local edits and changes from
// peers are both applied under the handle's mutex, then offered to every
// other peer through a per-peer protocol.State.
package repo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/metrics"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Repo manages document handles, storage and peer connections.
type Repo struct {
	cfg       Config
	store     *storage.DocumentStore
	snapshots *storage.SnapshotPolicy
	hub       *network.Hub
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handles map[docid.ID]*DocHandle
	closed  bool

	spawnMu  sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// New creates a repo and starts its maintenance loop.
func New(cfg Config) *Repo {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Repo{
		cfg:       cfg,
		store:     storage.NewDocumentStore(cfg.Storage),
		snapshots: storage.NewSnapshotPolicy(cfg.SnapshotThreshold),
		hub:       network.NewHub(),
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		handles:   make(map[docid.ID]*DocHandle),
	}

	r.spawn(r.maintain)
	glog.V(1).Infof("[repo] %s started", cfg.PeerID)

	return r
}

// PeerID returns the ID this repo presents to peers.
func (r *Repo) PeerID() string {
	return r.cfg.PeerID
}

// Metrics returns the collectors this repo updates.
func (r *Repo) Metrics() *metrics.Metrics {
	return r.metrics
}

// Create starts a new empty document.
func (r *Repo) Create(ctx context.Context) (*DocHandle, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	id := docid.New()
	doc := core.New()

	done := r.metrics.ObserveStorage("save")
	err := r.store.SaveSnapshot(ctx, id, doc.Save(), doc.Heads())
	done(err)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	h := newHandle(r, id, StateReady, doc)
	r.handles[id] = h
	r.metrics.Transition("", StateReady.String())
	h.start(false)

	glog.V(1).Infof("[repo] created %s", id)

	return h, nil
}

// Find returns the handle for id once it is ready, loading it from storage
// or from peers first if needed. A document nobody has yields ErrUnavailable.
func (r *Repo) Find(ctx context.Context, id docid.ID) (*DocHandle, error) {
	r.mu.RLock()
	h, exists := r.handles[id]
	r.mu.RUnlock()

	if exists && h.State() == StateReady {
		return h, nil
	}

	for {
		r.mu.Lock()

		if r.closed {
			r.mu.Unlock()

			return nil, ErrClosed
		}

		if h, exists = r.handles[id]; !exists {
			h = r.register(id, true)
			r.mu.Unlock()

			break
		}

		r.mu.Unlock()

		// want takes h.mu, which storage I/O may hold for a while.
		h.want()

		// A speculative handle may have been dropped before it was wanted.
		if r.Lookup(id) == h {
			break
		}
	}

	if err := h.WhenReady(ctx); err != nil {
		return nil, err
	}

	return h, nil
}

// Lookup returns the registered handle for id, or nil. It never blocks on
// loading.
func (r *Repo) Lookup(id docid.ID) *DocHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handles[id]
}

// Delete removes a document locally and purges it from storage.
func (r *Repo) Delete(ctx context.Context, id docid.ID) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return ErrClosed
	}

	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h != nil {
		h.markDeleted()
	}

	r.snapshots.Forget(string(id))
	r.hub.Forget(id)

	done := r.metrics.ObserveStorage("delete")
	err := r.store.Delete(ctx, id)
	done(err)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	glog.V(1).Infof("[repo] deleted %s", id)

	return nil
}

// HandleCount returns the number of registered handles.
func (r *Repo) HandleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}

// Close disconnects every peer, stops background work and flushes unsaved
// changes.
func (r *Repo) Close() error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return nil
	}

	r.closed = true
	handles := r.handleListLocked()
	r.mu.Unlock()

	r.spawnMu.Lock()
	r.stopping = true
	r.spawnMu.Unlock()

	r.cancel()
	r.wg.Wait()

	var g errgroup.Group

	for _, h := range handles {
		g.Go(func() error {
			return h.flush(context.Background())
		})
	}

	err := g.Wait()

	glog.V(1).Infof("[repo] %s closed", r.cfg.PeerID)

	return err
}

// register creates a loading handle and starts its loader. Callers hold r.mu.
func (r *Repo) register(id docid.ID, wanted bool) *DocHandle {
	h := newHandle(r, id, StateLoading, core.New())
	h.wanted = wanted
	h.loading = true
	r.handles[id] = h
	r.metrics.Transition("", StateLoading.String())
	h.start(true)

	return h
}

// forget drops a handle opened for a document nobody here wants. It returns
// false if the handle became wanted meanwhile.
func (r *Repo) forget(h *DocHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handles[h.id] != h {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.wanted {
		return false
	}

	delete(r.handles, h.id)
	r.metrics.Transition(h.state.String(), "")
	r.hub.Forget(h.id)

	h.loading = false
	h.stop()
	h.drainLocked()

	glog.V(1).Infof("[repo] %s is not stored here, dropped", h.id)

	return true
}

func (r *Repo) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.closed
}

func (r *Repo) handleList() []*DocHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handleListLocked()
}

func (r *Repo) handleListLocked() []*DocHandle {
	result := make([]*DocHandle, 0, len(r.handles))
	for _, h := range r.handles {
		result = append(result, h)
	}

	slices.SortFunc(result, func(a, b *DocHandle) int { return cmp.Compare(a.id, b.id) })

	return result
}

// spawn runs fn in a tracked goroutine unless the repo is stopping.
func (r *Repo) spawn(fn func()) bool {
	r.spawnMu.Lock()
	defer r.spawnMu.Unlock()

	if r.stopping {
		return false
	}

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		fn()
	}()

	return true
}

// maintain periodically retries unsaved changes and restarts stalled exchanges.
func (r *Repo) maintain() {
	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for _, h := range r.handleList() {
				h.maintain(r.ctx)
			}
		}
	}
}
