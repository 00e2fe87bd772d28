package network_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/network"
	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/wire"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects what a peer's receive loop delivers.
type recordingHandler struct {
	mu         sync.Mutex
	messages   []wire.Message
	violations []error
	got        chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 100)}
}

func (h *recordingHandler) HandleMessage(_ *network.Peer, msg wire.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()

	h.got <- struct{}{}
}

func (h *recordingHandler) HandleViolation(_ *network.Peer, err error) {
	h.mu.Lock()
	h.violations = append(h.violations, err)
	h.mu.Unlock()

	h.got <- struct{}{}
}

func (h *recordingHandler) Messages() []wire.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]wire.Message(nil), h.messages...)
}

func (h *recordingHandler) wait(t *testing.T, n int) {
	t.Helper()

	for range n {
		select {
		case <-h.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
}

func runPeer(ctx context.Context, p *network.Peer, h network.Handler) <-chan error {
	errc := make(chan error, 1)

	go func() { errc <- p.Run(ctx, h) }()

	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()

	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer to finish")

		return nil
	}
}

func TestPeer_DeliversInOrder(t *testing.T) {
	t.Parallel()

	a, b := transport.Pipe()
	pa := network.NewPeer("b", a, 8)
	pb := network.NewPeer("a", b, 8)

	ha, hb := newRecordingHandler(), newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runPeer(ctx, pa, ha)
	runPeer(ctx, pb, hb)

	ids := []docid.ID{docid.New(), docid.New(), docid.New()}
	for _, id := range ids {
		require.True(t, pa.Enqueue(wire.Announce(id)))
	}

	hb.wait(t, len(ids))

	got := hb.Messages()
	for i, id := range ids {
		if got[i].DocumentID != id {
			t.Errorf("message %d: expected %s, got %s", i, id, got[i].DocumentID)
		}
	}
}

func TestPeer_EnqueueFullQueue(t *testing.T) {
	t.Parallel()

	a, _ := transport.Pipe()
	p := network.NewPeer("b", a, 1)

	require.True(t, p.Enqueue(wire.Hello("x")))

	if p.Enqueue(wire.Hello("x")) {
		t.Error("expected full queue to reject message")
	}
}

func TestPeer_CloseReasons(t *testing.T) {
	t.Parallel()

	a, b := transport.Pipe()
	pa := network.NewPeer("b", a, 8)
	pb := network.NewPeer("a", b, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errA := runPeer(ctx, pa, newRecordingHandler())
	errB := runPeer(ctx, pb, newRecordingHandler())

	require.NoError(t, pa.Close())

	if err := waitErr(t, errA); !errors.Is(err, network.ErrWeDisconnected) {
		t.Errorf("expected ErrWeDisconnected, got %v", err)
	}

	if err := waitErr(t, errB); !errors.Is(err, network.ErrTheyDisconnected) {
		t.Errorf("expected ErrTheyDisconnected, got %v", err)
	}

	if pa.Enqueue(wire.Hello("x")) {
		t.Error("expected finished peer to reject messages")
	}
}

func TestPeer_ShutdownOnContextCancel(t *testing.T) {
	t.Parallel()

	a, _ := transport.Pipe()
	p := network.NewPeer("b", a, 8)

	ctx, cancel := context.WithCancel(context.Background())
	errc := runPeer(ctx, p, newRecordingHandler())

	cancel()

	if err := waitErr(t, errc); !errors.Is(err, network.ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}

	<-p.Done()
}

// malformedConn yields one undecodable frame and then closes.
type malformedConn struct {
	once sync.Once
	done chan struct{}
}

func (c *malformedConn) Send(context.Context, wire.Message) error { return nil }

func (c *malformedConn) Receive(ctx context.Context) (wire.Message, error) {
	first := false
	c.once.Do(func() { first = true })

	if first {
		return wire.Message{}, wire.ErrMalformed
	}

	select {
	case <-c.done:
		return wire.Message{}, transport.ErrClosed
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

func (c *malformedConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	return nil
}

func TestPeer_ReportsViolationsAndKeepsReading(t *testing.T) {
	t.Parallel()

	conn := &malformedConn{done: make(chan struct{})}
	p := network.NewPeer("b", conn, 8)
	h := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := runPeer(ctx, p, h)
	h.wait(t, 1)

	select {
	case <-p.Done():
		t.Fatal("expected peer to survive a malformed frame")
	default:
	}

	require.NoError(t, p.Close())
	waitErr(t, errc)

	h.mu.Lock()
	defer h.mu.Unlock()

	require.Len(t, h.violations, 1)
}
