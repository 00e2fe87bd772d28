package transport

import (
	"context"
	"sync"

	"github.com/serroba/docsync/internal/wire"
)

// DefaultPipeBuffer is the number of frames a pipe end queues before Send blocks.
const DefaultPipeBuffer = 64

type link struct {
	once sync.Once
	done chan struct{}
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

// PipeConn is one end of an in-memory connection. Frames go through the wire
// codec, so both ends never share memory.
type PipeConn struct {
	link *link
	in   <-chan []byte
	out  chan<- []byte
}

// Pipe returns two connected ends.
func Pipe() (*PipeConn, *PipeConn) {
	return PipeBuffered(DefaultPipeBuffer)
}

// PipeBuffered returns two connected ends with the given queue depth.
func PipeBuffered(size int) (*PipeConn, *PipeConn) {
	l := &link{done: make(chan struct{})}
	ab := make(chan []byte, size)
	ba := make(chan []byte, size)

	return &PipeConn{link: l, in: ba, out: ab}, &PipeConn{link: l, in: ab, out: ba}
}

// Send encodes msg and queues it for the other end.
func (p *PipeConn) Send(ctx context.Context, msg wire.Message) error {
	frame := wire.Encode(msg)

	select {
	case <-p.link.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next decoded frame.
func (p *PipeConn) Receive(ctx context.Context) (wire.Message, error) {
	select {
	case frame := <-p.in:
		return wire.Decode(frame)
	case <-p.link.done:
		return wire.Message{}, ErrClosed
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

// Close finishes the connection for both ends.
func (p *PipeConn) Close() error {
	p.link.close()

	return nil
}

var _ Conn = (*PipeConn)(nil)
