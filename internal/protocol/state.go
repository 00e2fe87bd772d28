// Package protocol implements the per document, per peer sync exchange.
//
// Each side remembers the last frontier it heard from the peer and sends the
// changes that frontier cannot reach. A peer that changes its frontier replies
// with its new heads, so the exchange ends when both sides report equal heads
// and have nothing left to send. Lost state only causes redundant transfer:
// applying a known change is a no-op.
package protocol

import (
	"slices"

	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/wire"
)

// Document is the view of a replica the exchange needs.
type Document interface {
	Heads() []core.ChangeHash
	Has(h core.ChangeHash) bool
	ChangesSince(heads []core.ChangeHash) ([]core.Change, error)
}

// State tracks one peer's view of one document. It is not safe for
// concurrent use; the owning handle serializes access.
type State struct {
	id docid.ID

	theirHeads []core.ChangeHash
	theirKnown bool
	shared     []core.ChangeHash

	sentHeads []core.ChangeHash
	sent      bool
	inFlight  map[core.ChangeHash]struct{}

	requested bool
	announced bool
	lacking   bool
}

// NewState returns the state for a peer we have not exchanged anything with.
func NewState(id docid.ID) *State {
	return &State{
		id:       id,
		inFlight: make(map[core.ChangeHash]struct{}),
	}
}

// TheirHeads returns the last frontier the peer reported and whether it has reported one.
func (s *State) TheirHeads() ([]core.ChangeHash, bool) {
	return slices.Clone(s.theirHeads), s.theirKnown
}

// Lacking reports whether the peer said it does not hold the document.
func (s *State) Lacking() bool {
	return s.lacking
}

// Introducing reports whether the peer has neither told us its heads nor been
// asked for them. The next message to such a peer announces the document.
func (s *State) Introducing() bool {
	return !s.theirKnown && !s.requested
}

// Request asks the peer for everything our heads cannot reach.
func (s *State) Request(doc Document) wire.Message {
	ours := doc.Heads()

	s.requested = true
	s.sentHeads = ours
	s.sent = true

	return wire.SyncRequest(s.id, ours)
}

// Generate returns the next message for the peer, if any.
func (s *State) Generate(doc Document) (wire.Message, bool, error) {
	if s.lacking {
		return wire.Message{}, false, nil
	}

	ours := doc.Heads()

	if !s.theirKnown {
		if s.announced || s.requested || len(ours) == 0 {
			return wire.Message{}, false, nil
		}

		s.announced = true

		return wire.Announce(s.id), true, nil
	}

	missing, err := doc.ChangesSince(s.base(doc))
	if err != nil {
		return wire.Message{}, false, err
	}

	missing = slices.DeleteFunc(missing, func(c core.Change) bool {
		_, flying := s.inFlight[c.Hash]

		return flying
	})

	if len(missing) == 0 {
		if !s.requested && s.peerAhead(doc) {
			return s.Request(doc), true, nil
		}

		if s.sent && core.EqualHeads(ours, s.sentHeads) {
			return wire.Message{}, false, nil
		}
	}

	for _, c := range missing {
		s.inFlight[c.Hash] = struct{}{}
	}

	s.sentHeads = ours
	s.sent = true

	return wire.SyncResponse(s.id, ours, missing), true, nil
}

// ReceiveAnnounce records that the peer holds the document.
func (s *State) ReceiveAnnounce() {
	s.lacking = false
	s.requested = false
}

// ReceiveRequest records the peer's heads and guarantees the next Generate replies.
func (s *State) ReceiveRequest(heads []core.ChangeHash) {
	s.setTheirHeads(heads)
	s.lacking = false
	s.sent = false
	clear(s.inFlight)
}

// ReceiveResponse records the peer's heads after its changes were applied.
func (s *State) ReceiveResponse(heads []core.ChangeHash) {
	s.setTheirHeads(heads)
	s.lacking = false
	s.requested = false
	clear(s.inFlight)
}

// ReceiveUnavailable records that the peer does not hold the document.
// Nothing is generated for it until it speaks about the document again.
func (s *State) ReceiveUnavailable() {
	s.lacking = true
	s.requested = false
}

// Resync restarts an exchange that has not converged, for example after a
// lost message. It returns false when the peer is in step or uninterested.
func (s *State) Resync(doc Document) (wire.Message, bool) {
	if s.lacking {
		return wire.Message{}, false
	}

	if !s.theirKnown && !s.requested {
		return wire.Message{}, false
	}

	if s.theirKnown && core.EqualHeads(s.theirHeads, doc.Heads()) {
		return wire.Message{}, false
	}

	s.Reset()

	return s.Request(doc), true
}

// Reset forgets what was sent. The peer's last heads are kept as a hint.
func (s *State) Reset() {
	s.sent = false
	s.sentHeads = nil
	s.requested = false
	s.announced = false
	clear(s.inFlight)
}

func (s *State) setTheirHeads(heads []core.ChangeHash) {
	s.theirHeads = slices.Clone(heads)
	core.SortHashes(s.theirHeads)
	s.theirKnown = true
}

// base returns the hashes both sides are known to hold.
func (s *State) base(doc Document) []core.ChangeHash {
	known := make([]core.ChangeHash, 0, len(s.theirHeads))

	for _, h := range s.theirHeads {
		if doc.Has(h) {
			known = append(known, h)
		}
	}

	if len(known) == len(s.theirHeads) {
		s.shared = slices.Clone(known)

		return known
	}

	for _, h := range s.shared {
		if !slices.Contains(known, h) {
			known = append(known, h)
		}
	}

	return known
}

// peerAhead reports whether the peer's heads reference changes we lack.
func (s *State) peerAhead(doc Document) bool {
	for _, h := range s.theirHeads {
		if !doc.Has(h) {
			return true
		}
	}

	return false
}
