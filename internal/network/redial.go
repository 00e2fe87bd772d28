package network

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/transport"
)

// DialFunc opens a new connection.
type DialFunc func(ctx context.Context) (transport.Conn, error)

// ConnectFunc hands a fresh connection to the repo.
type ConnectFunc func(ctx context.Context, conn transport.Conn) (*Peer, error)

// DefaultRedialPolicy retries forever, backing off up to a minute.
func DefaultRedialPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	return b
}

// Redial keeps one connection alive to a remote, reconnecting with backoff
// whenever dialing fails or the connection finishes. It returns when ctx is
// done or the policy gives up.
func Redial(ctx context.Context, name string, dial DialFunc, connect ConnectFunc, policy func() backoff.BackOff) error {
	if policy == nil {
		policy = DefaultRedialPolicy
	}

	b := policy()

	for {
		peer, err := establish(ctx, dial, connect)
		if err == nil {
			b.Reset()
			glog.V(1).Infof("[redial] %s connected as %s", name, peer.ID)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-peer.Done():
				glog.Infof("[redial] %s finished: %v", name, peer.Err())
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			glog.Infof("[redial] %s: %v", name, err)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func establish(ctx context.Context, dial DialFunc, connect ConnectFunc) (*Peer, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	peer, err := connect(ctx, conn)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return peer, nil
}
