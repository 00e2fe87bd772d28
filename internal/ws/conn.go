// Package ws carries peer messages over WebSocket binary frames.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/wire"
)

// Socket abstracts a WebSocket connection for testability.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn adapts a Socket to transport.Conn.
type Conn struct {
	sock Socket

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an open socket.
func NewConn(sock Socket) *Conn {
	return &Conn{
		sock:   sock,
		closed: make(chan struct{}),
	}
}

// Send writes msg as one binary frame.
func (c *Conn) Send(ctx context.Context, msg wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.isClosed() {
		return transport.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.sock.WriteMessage(websocket.BinaryMessage, wire.Encode(msg)); err != nil {
		if c.isClosed() {
			return transport.ErrClosed
		}

		return err
	}

	return nil
}

// Receive reads the next frame. The read itself does not observe ctx;
// Close unblocks it.
func (c *Conn) Receive(ctx context.Context) (wire.Message, error) {
	if err := ctx.Err(); err != nil {
		return wire.Message{}, err
	}

	typ, data, err := c.sock.ReadMessage()
	if err != nil {
		if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return wire.Message{}, transport.ErrClosed
		}

		return wire.Message{}, err
	}

	if typ != websocket.BinaryMessage {
		return wire.Message{}, fmt.Errorf("%w: frame type %d", wire.ErrMalformed, typ)
	}

	return wire.Decode(data)
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		if cerr := c.sock.Close(); cerr != nil && !errors.Is(cerr, websocket.ErrCloseSent) {
			err = cerr
		}
	})

	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var _ transport.Conn = (*Conn)(nil)
