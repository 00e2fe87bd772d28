// Package network tracks connected peers: their send queues, receive loops
// and the documents each one is syncing.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/transport"
	"github.com/serroba/docsync/internal/wire"
)

// Reasons a connection finished, reported by Peer.Err.
var (
	ErrShutdown         = errors.New("repo shut down")
	ErrWeDisconnected   = errors.New("disconnected locally")
	ErrTheyDisconnected = errors.New("disconnected by peer")
)

// Handler consumes what a peer's receive loop reads.
type Handler interface {
	// HandleMessage is called for every well-formed message, in order.
	HandleMessage(p *Peer, msg wire.Message)

	// HandleViolation is called for frames that failed to decode.
	HandleViolation(p *Peer, err error)
}

// Peer represents a connected remote repo.
type Peer struct {
	ID   string
	conn transport.Conn
	out  chan wire.Message

	finishOnce sync.Once
	done       chan struct{}
	err        error
}

// NewPeer creates a peer whose send queue holds queueSize messages.
func NewPeer(id string, conn transport.Conn, queueSize int) *Peer {
	return &Peer{
		ID:   id,
		conn: conn,
		out:  make(chan wire.Message, queueSize),
		done: make(chan struct{}),
	}
}

// Enqueue queues msg without blocking. It returns false when the queue is
// full or the connection finished; the caller decides how to recover.
func (p *Peer) Enqueue(msg wire.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.out <- msg:
		return true
	default:
		return false
	}
}

// Run drives the connection until it finishes and returns the reason.
func (p *Peer) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		p.sendLoop(ctx)
	}()

	go func() {
		defer wg.Done()

		select {
		case <-ctx.Done():
			p.finish(ErrShutdown)
		case <-p.done:
		}
	}()

	p.receiveLoop(ctx, h)
	cancel()
	wg.Wait()

	return p.Err()
}

func (p *Peer) receiveLoop(ctx context.Context, h Handler) {
	for {
		msg, err := p.conn.Receive(ctx)

		switch {
		case err == nil:
			h.HandleMessage(p, msg)
		case errors.Is(err, wire.ErrMalformed):
			h.HandleViolation(p, err)
		case errors.Is(err, transport.ErrClosed):
			p.finish(ErrTheyDisconnected)

			return
		case ctx.Err() != nil:
			p.finish(ErrShutdown)

			return
		default:
			p.finish(fmt.Errorf("receive: %w", err))

			return
		}
	}
}

func (p *Peer) sendLoop(ctx context.Context) {
	for {
		select {
		case msg := <-p.out:
			if err := p.conn.Send(ctx, msg); err != nil {
				if ctx.Err() != nil {
					p.finish(ErrShutdown)
				} else {
					p.finish(fmt.Errorf("send: %w", err))
				}

				return
			}

			if glog.V(2) {
				glog.Infof("[peer] %s <- %s %s", p.ID, msg.Type, msg.DocumentID)
			}
		case <-p.done:
			return
		}
	}
}

// Close finishes the connection from our side.
func (p *Peer) Close() error {
	p.finish(ErrWeDisconnected)

	return nil
}

// finish records the first reason and closes the connection.
func (p *Peer) finish(reason error) {
	p.finishOnce.Do(func() {
		p.err = reason
		close(p.done)

		if err := p.conn.Close(); err != nil {
			glog.V(1).Infof("[peer] %s close: %v", p.ID, err)
		}
	})
}

// Done is closed once the connection finished.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns why the connection finished, or nil while it is running.
func (p *Peer) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
