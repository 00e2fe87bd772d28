package repo

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/storage"
)

// want marks the handle as needed by a Find and restarts loading if an
// earlier attempt gave up.
func (h *DocHandle) want() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.wanted = true

	switch h.state {
	case StateUnavailable:
		h.restart()
	case StateLoading:
		if !h.loading {
			h.loading = true
			h.repo.spawn(h.load)
		}
	case StateReady, StateDeleted:
	}
}

// restart moves an unavailable handle back to loading. Callers hold h.mu.
func (h *DocHandle) restart() {
	if err := h.transition(StateLoading); err != nil {
		return
	}

	h.loadErr = nil

	if !h.loading {
		h.loading = true
		h.repo.spawn(h.load)
	}
}

// load reads the document from storage, then asks peers if it was not there.
func (h *DocHandle) load() {
	r := h.repo

	done := r.metrics.ObserveStorage("load")
	chunks, err := r.store.Load(r.ctx, h.id)

	var loaded *core.Document
	if err == nil {
		loaded, err = core.Load(chunks.Snapshots, chunks.Changes)
	}

	missing := errors.Is(err, storage.ErrDocumentNotFound)
	if missing {
		done(nil)
	} else {
		done(err)
	}

	h.mu.Lock()

	if h.state == StateDeleted {
		h.loading = false
		h.mu.Unlock()

		return
	}

	if err == nil {
		notify := h.adopt(loaded, len(chunks.Changes))
		h.loading = false
		h.mu.Unlock()

		notify()

		return
	}

	if !missing {
		glog.Errorf("[repo] load %s: %v", h.id, err)
		h.loadErr = fmt.Errorf("%w: %w", ErrStorage, err)

		if h.wanted {
			h.loading = false
			_ = h.transition(StateUnavailable)
			h.mu.Unlock()

			return
		}
	}

	wanted := h.wanted

	if !wanted && missing && r.cfg.AcceptUnknown {
		h.loading = false
		h.mu.Unlock()

		return
	}

	h.mu.Unlock()

	if !wanted && r.forget(h) {
		return
	}

	h.fetch()
}

// adopt merges a document read from storage and makes the handle ready.
// Callers hold h.mu.
func (h *DocHandle) adopt(loaded *core.Document, stored int) func() {
	if h.doc.Len() == 0 {
		h.doc = loaded
	} else if _, err := h.doc.Merge(loaded); err != nil {
		glog.Errorf("[repo] %s: merge stored document: %v", h.id, err)
	}

	h.repo.snapshots.RecordChanges(string(h.id), stored)

	if h.state != StateReady {
		_ = h.transition(StateReady)
		h.clearAsked()
	}

	h.publish()
	h.broadcast()

	glog.V(1).Infof("[repo] loaded %s from storage", h.id)

	return h.notifier()
}

// fetch asks connected peers for the document in rounds paced by the retry
// policy, until one responds or the policy gives up.
func (h *DocHandle) fetch() {
	r := h.repo
	b := r.cfg.RetryPolicy()

	for {
		answered, changed, ok := h.beginAttempt()
		if !ok {
			return
		}

		timer := time.NewTimer(r.cfg.RequestTimeout)

		select {
		case <-answered:
		case <-changed:
		case <-timer.C:
		case <-r.ctx.Done():
		}

		timer.Stop()

		if r.ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		if !h.continueFetch(wait == backoff.Stop) {
			return
		}

		select {
		case <-time.After(wait):
		case <-changed:
		case <-r.ctx.Done():
			return
		}
	}
}

// beginAttempt sends a request to every connected peer. The returned answered
// channel closes once every asked peer replied unavailable or went away.
func (h *DocHandle) beginAttempt() (answered, changed <-chan struct{}, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateLoading {
		h.loading = false

		return nil, nil, false
	}

	ch := make(chan struct{})
	h.asked = make(map[string]struct{})
	h.answered = ch

	for _, p := range h.repo.hub.Peers() {
		st := h.peerState(p.ID)
		st.Reset()
		h.send(p, st.Request(h.doc))
		h.asked[p.ID] = struct{}{}
	}

	if len(h.asked) == 0 {
		h.clearAsked()
	}

	glog.V(2).Infof("[repo] %s: asked %d peers", h.id, len(h.asked))

	return ch, h.changed, true
}

// continueFetch reports whether another round should run, marking the handle
// unavailable when the policy gave up.
func (h *DocHandle) continueFetch(giveUp bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateLoading {
		h.loading = false

		return false
	}

	if !giveUp {
		return true
	}

	h.loading = false
	h.clearAsked()
	_ = h.transition(StateUnavailable)

	glog.Infof("[repo] %s is unavailable", h.id)

	return false
}

// markAnswered records that an asked peer will not send the document.
// Callers hold h.mu.
func (h *DocHandle) markAnswered(peerID string) {
	if _, ok := h.asked[peerID]; !ok {
		return
	}

	delete(h.asked, peerID)

	if len(h.asked) == 0 {
		h.clearAsked()
	}
}

// clearAsked ends the current round. Callers hold h.mu.
func (h *DocHandle) clearAsked() {
	clear(h.asked)

	if h.answered != nil {
		close(h.answered)
		h.answered = nil
	}
}
