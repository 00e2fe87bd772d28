package protocol_test

import (
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/protocol"
	"github.com/serroba/docsync/internal/wire"
	"github.com/stretchr/testify/require"
)

const maxRounds = 50

// replica drives one side of an exchange the way a document handle does.
type replica struct {
	doc     *core.Document
	state   *protocol.State
	pending *protocol.Pending
}

func newReplica(id docid.ID, doc *core.Document) *replica {
	return &replica{
		doc:     doc,
		state:   protocol.NewState(id),
		pending: protocol.NewPending(100),
	}
}

func (r *replica) set(t *testing.T, key string, value any) {
	t.Helper()

	_, err := r.doc.Change(func(d *automerge.Doc) error { return d.Path(key).Set(value) })
	require.NoError(t, err)
}

func (r *replica) generate(t *testing.T) []wire.Message {
	t.Helper()

	msg, ok, err := r.state.Generate(r.doc)
	require.NoError(t, err)

	if !ok {
		return nil
	}

	return []wire.Message{msg}
}

func (r *replica) receive(t *testing.T, msg wire.Message) []wire.Message {
	t.Helper()

	switch msg.Type {
	case wire.TypeAnnounce:
		r.state.ReceiveAnnounce()

		return []wire.Message{r.state.Request(r.doc)}
	case wire.TypeSyncRequest:
		r.state.ReceiveRequest(msg.Heads)
	case wire.TypeSyncResponse:
		for _, c := range msg.Changes {
			require.NoError(t, r.pending.Add(c))
		}

		require.NoError(t, r.doc.Apply(r.pending.Release(r.doc.Has)...))
		r.state.ReceiveResponse(msg.Heads)
	case wire.TypeUnavailable:
		r.state.ReceiveUnavailable()

		return nil
	default:
		t.Fatalf("unexpected message %s", msg.Type)
	}

	return r.generate(t)
}

type envelope struct {
	to  *replica
	msg wire.Message
}

// exchange delivers messages until both sides fall silent and returns how many were sent.
func exchange(t *testing.T, from, to *replica, initial []wire.Message) int {
	t.Helper()

	queue := make([]envelope, 0, len(initial))
	for _, m := range initial {
		queue = append(queue, envelope{to: to, msg: m})
	}

	sent := 0

	for len(queue) > 0 {
		sent++
		if sent > maxRounds {
			t.Fatalf("exchange did not terminate")
		}

		next := queue[0]
		queue = queue[1:]

		other := from
		if next.to == from {
			other = to
		}

		// Every message crosses the codec, as it would between peers.
		msg, err := wire.Decode(wire.Encode(next.msg))
		require.NoError(t, err)

		for _, reply := range next.to.receive(t, msg) {
			queue = append(queue, envelope{to: other, msg: reply})
		}
	}

	return sent
}

func requireConverged(t *testing.T, a, b *replica) {
	t.Helper()

	require.True(t, core.EqualHeads(a.doc.Heads(), b.doc.Heads()), "heads differ: %v vs %v", a.doc.Heads(), b.doc.Heads())

	snapA, err := a.doc.Snapshot()
	require.NoError(t, err)
	snapB, err := b.doc.Snapshot()
	require.NoError(t, err)
	require.Equal(t, snapA.Value, snapB.Value)
}

func TestExchange_AnnounceToEmptyPeer(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	a.set(t, "title", "draft")
	a.set(t, "words", 10)

	exchange(t, a, b, a.generate(t))
	requireConverged(t, a, b)

	// Converged pairs stay silent.
	require.Empty(t, a.generate(t))
	require.Empty(t, b.generate(t))
}

func TestExchange_EmptyDocumentDoesNotAnnounce(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())

	require.Empty(t, a.generate(t))
}

func TestExchange_RequestFromEmptyPeer(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())
	a.set(t, "x", 1)

	req := b.state.Request(b.doc)
	require.Empty(t, req.Heads)

	exchange(t, b, a, []wire.Message{req})
	requireConverged(t, a, b)
}

func TestExchange_ConcurrentEditsConverge(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	a.set(t, "count", 0)
	exchange(t, a, b, a.generate(t))

	// Offline edits on both sides.
	a.set(t, "count", 1)
	b.set(t, "count", 2)
	b.set(t, "other", "b")

	exchange(t, a, b, a.generate(t))
	requireConverged(t, a, b)
	require.Len(t, a.doc.Heads(), 2)
}

func TestExchange_IncrementalAfterFirstSync(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	for i := range 5 {
		a.set(t, "n", i)
	}

	exchange(t, a, b, a.generate(t))

	a.set(t, "n", 99)

	msgs := a.generate(t)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.TypeSyncResponse, msgs[0].Type)
	require.Len(t, msgs[0].Changes, 1, "only the new change should be sent")

	exchange(t, a, b, msgs)
	requireConverged(t, a, b)
}

func TestExchange_NoOpProducesNoTraffic(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())
	a.set(t, "x", 1)
	exchange(t, a, b, a.generate(t))

	_, err := a.doc.Change(func(*automerge.Doc) error { return nil })
	require.NoError(t, err)

	require.Empty(t, a.generate(t))
}

func TestExchange_DuplicateDelivery(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	a.set(t, "x", 1)
	exchange(t, a, b, a.generate(t))

	a.set(t, "y", 2)
	msgs := a.generate(t)
	require.Len(t, msgs, 1)

	// Same response delivered twice.
	exchange(t, a, b, []wire.Message{msgs[0], msgs[0]})
	requireConverged(t, a, b)
}

func TestExchange_LostMessageRecoveredByResync(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	a.set(t, "x", 1)
	exchange(t, a, b, a.generate(t))

	a.set(t, "x", 2)
	lost := a.generate(t)
	require.Len(t, lost, 1)

	// The message never arrives; a's generator believes it is in flight.
	require.Empty(t, a.generate(t))

	msg, ok := a.state.Resync(a.doc)
	require.True(t, ok)
	require.Equal(t, wire.TypeSyncRequest, msg.Type)

	exchange(t, a, b, []wire.Message{msg})
	requireConverged(t, a, b)

	_, ok = a.state.Resync(a.doc)
	require.False(t, ok, "converged peers need no resync")
}

func TestExchange_StateLossOnlyCostsRedundancy(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())

	a.set(t, "x", 1)
	exchange(t, a, b, a.generate(t))

	// Reconnect with fresh state on both sides.
	a.state = protocol.NewState(id)
	b.state = protocol.NewState(id)
	b.set(t, "y", 2)

	exchange(t, b, a, b.generate(t))
	requireConverged(t, a, b)
}

func TestExchange_UnavailableSuppressesTraffic(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	a.set(t, "x", 1)

	a.state.ReceiveUnavailable()
	require.True(t, a.state.Lacking())

	a.set(t, "x", 2)
	require.Empty(t, a.generate(t))

	_, ok := a.state.Resync(a.doc)
	require.False(t, ok)

	// The peer speaking again re-enables the exchange.
	a.state.ReceiveRequest(nil)
	require.False(t, a.state.Lacking())
	require.Len(t, a.generate(t), 1)
}

func TestState_RequestReplyIsForced(t *testing.T) {
	t.Parallel()

	id := docid.New()
	a := newReplica(id, core.New())
	b := newReplica(id, core.New())
	a.set(t, "x", 1)
	exchange(t, a, b, a.generate(t))

	// A request with heads equal to ours still gets an answer.
	a.state.ReceiveRequest(b.doc.Heads())

	msgs := a.generate(t)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.TypeSyncResponse, msgs[0].Type)
	require.Empty(t, msgs[0].Changes)

	heads, known := a.state.TheirHeads()
	require.True(t, known)
	require.Equal(t, b.doc.Heads(), heads)
}

func TestState_Introducing(t *testing.T) {
	t.Parallel()

	doc := core.New()
	st := protocol.NewState(docid.New())

	if !st.Introducing() {
		t.Error("expected a new state to be introducing")
	}

	st.Request(doc)

	if st.Introducing() {
		t.Error("expected a requested peer not to be introducing")
	}

	st.Reset()
	st.ReceiveRequest(nil)

	if st.Introducing() {
		t.Error("expected a peer with known heads not to be introducing")
	}
}
