package repo

import (
	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/protocol"
	"github.com/serroba/docsync/internal/wire"
)

// receive handles one message from p. Listeners run after h.mu is released.
func (h *DocHandle) receive(p *network.Peer, msg wire.Message) {
	h.mu.Lock()

	if h.state == StateDeleted {
		h.mu.Unlock()

		return
	}

	var notify func()

	switch msg.Type {
	case wire.TypeAnnounce:
		h.receiveAnnounce(p)
	case wire.TypeSyncRequest:
		h.receiveRequest(p, msg)
	case wire.TypeSyncResponse:
		notify = h.receiveResponse(p, msg)
	case wire.TypeUnavailable:
		h.receiveUnavailable(p)
	case wire.TypeHello:
	}

	h.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// interested reports whether changes for this document should be accepted.
func (h *DocHandle) interested() bool {
	return h.state == StateReady || h.wanted || h.repo.cfg.AcceptUnknown
}

func (h *DocHandle) receiveAnnounce(p *network.Peer) {
	st := h.peerState(p.ID)
	st.ReceiveAnnounce()

	if !h.interested() {
		return
	}

	h.send(p, st.Request(h.doc))
}

func (h *DocHandle) receiveRequest(p *network.Peer, msg wire.Message) {
	st := h.peerState(p.ID)
	st.ReceiveRequest(msg.Heads)

	if h.state != StateReady && (len(msg.Heads) == 0 || !h.interested()) {
		h.send(p, wire.Unavailable(h.id))

		return
	}

	h.syncPeer(p)
}

func (h *DocHandle) receiveResponse(p *network.Peer, msg wire.Message) func() {
	if !h.interested() {
		return nil
	}

	if err := h.pending.Add(msg.Changes...); err != nil {
		h.repo.HandleViolation(p, err)

		return nil
	}

	ready := h.pending.Release(h.doc.Has)

	if err := h.doc.Apply(ready...); err != nil {
		h.repo.HandleViolation(p, err)

		return nil
	}

	st := h.peerState(p.ID)
	st.ReceiveResponse(msg.Heads)
	h.markAnswered(p.ID)

	if h.pending.Len() > 0 {
		h.requestMissing(p, st)
	}

	becameReady := false

	if h.state != StateReady {
		if err := h.transition(StateReady); err == nil {
			becameReady = true
			h.clearAsked()
		}
	}

	if len(ready) > 0 {
		h.repo.metrics.ChangesApplied.Add(float64(len(ready)))
		h.publish()
		_ = h.persist(h.repo.ctx, ready)
	}

	h.broadcast()

	if len(ready) == 0 && !becameReady {
		return nil
	}

	return h.notifier()
}

// requestMissing asks p again when buffered changes still wait on
// dependencies, which happens after a lost or reordered response. The peer
// answers a request with everything our heads cannot reach.
func (h *DocHandle) requestMissing(p *network.Peer, st *protocol.State) {
	missing := h.pending.Missing(h.doc.Has)
	if len(missing) == 0 {
		return
	}

	glog.V(1).Infof("[repo] %s: %d changes wait on %d missing dependencies", h.id, h.pending.Len(), len(missing))

	st.Reset()
	h.send(p, st.Request(h.doc))
}

func (h *DocHandle) receiveUnavailable(p *network.Peer) {
	h.peerState(p.ID).ReceiveUnavailable()
	h.markAnswered(p.ID)
}
