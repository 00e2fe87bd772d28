// Package transport defines the connection contract between peers.
package transport

import (
	"context"
	"errors"

	"github.com/serroba/docsync/internal/wire"
)

// ErrClosed is returned by operations on a finished connection.
var ErrClosed = errors.New("connection closed")

// Conn is an ordered, bidirectional message stream to one peer.
// Send may be called concurrently with Receive; neither is safe to call
// concurrently with itself.
type Conn interface {
	// Send delivers msg or returns an error. ErrClosed once the connection finished.
	Send(ctx context.Context, msg wire.Message) error

	// Receive blocks until a message arrives, the connection finishes
	// (ErrClosed) or ctx is done.
	Receive(ctx context.Context) (wire.Message, error)

	// Close finishes the connection for both ends. Closing twice is a no-op.
	Close() error
}
