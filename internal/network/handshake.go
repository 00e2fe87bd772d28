package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/wire"
)

// ErrHandshake is returned when the remote side does not introduce itself.
var ErrHandshake = errors.New("handshake failed")

// Handshake exchanges hello messages and returns the remote peer ID.
// Both sides send first, so either may initiate.
func Handshake(ctx context.Context, conn transport.Conn, localID string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Send(ctx, wire.Hello(localID)); err != nil {
		return "", fmt.Errorf("%w: send hello: %w", ErrHandshake, err)
	}

	msg, err := conn.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if msg.Type != wire.TypeHello {
		return "", fmt.Errorf("%w: expected hello, got %s", ErrHandshake, msg.Type)
	}

	if msg.PeerID == localID {
		return "", fmt.Errorf("%w: connected to self", ErrHandshake)
	}

	return msg.PeerID, nil
}
