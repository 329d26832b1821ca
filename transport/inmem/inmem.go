// Package inmem implements an in-process transport.ClientTransport and
// transport.ServerTransport pair connected by buffered Go channels, with
// no serialization boundary of its own (Parts are passed by reference).
// It exists to drive the call-manager/executor end to end without a real
// network.
package inmem

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sadopc/rpccore/transport"
)

// ErrClosed is returned by Accept/OpenStream once the transport has been
// closed.
var ErrClosed = errors.New("inmem: transport closed")

// Transport is a connected client/server transport pair. Zero value is not
// usable; construct with New.
type Transport struct {
	mu      sync.Mutex
	closed  bool
	pending chan *pipeStream
}

// New returns a connected pair sharing one accept queue of the given
// depth (0 behaves as an unbuffered rendezvous between OpenStream and
// Accept).
func New(acceptQueueDepth int) *Transport {
	return &Transport{pending: make(chan *pipeStream, acceptQueueDepth)}
}

// Server returns the transport.ServerTransport side.
func (t *Transport) Server() transport.ServerTransport { return (*serverSide)(t) }

// Client returns the transport.ClientTransport side.
func (t *Transport) Client() transport.ClientTransport { return (*clientSide)(t) }

type serverSide Transport
type clientSide Transport

func (s *serverSide) Accept(ctx context.Context) (transport.Stream, error) {
	t := (*Transport)(s)
	select {
	case ps, ok := <-t.pending:
		if !ok {
			return nil, ErrClosed
		}
		return ps.serverEnd(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *serverSide) Close() error {
	t := (*Transport)(s)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.pending)
	return nil
}

func (c *clientSide) OpenStream(ctx context.Context, fullMethod string) (transport.Stream, error) {
	t := (*Transport)(c)
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ps := newPipeStream()
	select {
	case t.pending <- ps:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ps.clientEnd(), nil
}

func (c *clientSide) Close() error {
	return (*serverSide)(c).Close()
}

// pipeStream is a bidirectional channel-pair connecting one client
// OpenStream call to the Stream its matching Accept hands the server.
// Each direction is its own channel of *transport.Part buffered to
// streamWindow parts, so Send returns at once while there is room and
// blocks only once that many parts are waiting unread, a fixed stand-in
// for HTTP/2's send window. Parts a peer sent before it half-closed or
// tore down the stream are still delivered ahead of io.EOF.
//
// Each direction also carries its own half-close signal, separate from the
// full-teardown signal Close() fires: CloseSend on one end must unblock the
// peer's in-flight Recv on that direction alone, without tearing down the
// other direction, which may still have messages left to deliver (a
// client-streaming call keeps reading the single response after closing
// its request side, and a bidi call keeps both directions independently
// alive until each is closed on its own).
type pipeStream struct {
	c2s      chan *transport.Part // client writes, server reads
	s2c      chan *transport.Part // server writes, client reads
	c2sClose chan struct{}        // full teardown (Close): any read/write on c2s unblocks
	s2cClose chan struct{}        // full teardown (Close): any read/write on s2c unblocks
	c2sHalf  chan struct{}        // closed once the client calls CloseSend: no more c2s sends coming
	s2cHalf  chan struct{}        // closed once the server calls CloseSend: no more s2c sends coming

	once        sync.Once
	c2sHalfOnce sync.Once
	s2cHalfOnce sync.Once
}

const streamWindow = 64

func newPipeStream() *pipeStream {
	return &pipeStream{
		c2s:      make(chan *transport.Part, streamWindow),
		s2c:      make(chan *transport.Part, streamWindow),
		c2sClose: make(chan struct{}),
		s2cClose: make(chan struct{}),
		c2sHalf:  make(chan struct{}),
		s2cHalf:  make(chan struct{}),
	}
}

func (p *pipeStream) clientEnd() transport.Stream {
	return &halfStream{
		out: p.c2s, in: p.s2c,
		outTeardown: p.c2sClose, inTeardown: p.s2cClose,
		inHalf:    p.s2cHalf,
		closeHalf: func() { p.c2sHalfOnce.Do(func() { close(p.c2sHalf) }) },
		closeAll:  p.closeAll,
	}
}

func (p *pipeStream) serverEnd() transport.Stream {
	return &halfStream{
		out: p.s2c, in: p.c2s,
		outTeardown: p.s2cClose, inTeardown: p.c2sClose,
		inHalf:    p.c2sHalf,
		closeHalf: func() { p.s2cHalfOnce.Do(func() { close(p.s2cHalf) }) },
		closeAll:  p.closeAll,
	}
}

func (p *pipeStream) closeAll() {
	p.once.Do(func() {
		close(p.c2sClose)
		close(p.s2cClose)
	})
}

// halfStream is one endpoint's view of a pipeStream.
type halfStream struct {
	out         chan *transport.Part
	in          chan *transport.Part
	outTeardown chan struct{} // this side's own full-close signal
	inTeardown  chan struct{} // the peer's full-close signal
	inHalf      chan struct{} // closed once the peer half-closes its send side
	closeHalf   func()        // half-closes this side's send direction
	closeAll    func()        // tears down both directions entirely

	sendClosed bool
	mu         sync.Mutex
}

func (h *halfStream) Send(ctx context.Context, part *transport.Part) error {
	h.mu.Lock()
	if h.sendClosed {
		h.mu.Unlock()
		return errors.New("inmem: Send after CloseSend")
	}
	h.mu.Unlock()

	select {
	case h.out <- part:
		return nil
	case <-h.outTeardown:
		return errors.New("inmem: peer closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *halfStream) Recv(ctx context.Context) (*transport.Part, error) {
	select {
	case part, ok := <-h.in:
		if !ok {
			return nil, io.EOF
		}
		return part, nil
	case <-h.inHalf:
	case <-h.inTeardown:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case part := <-h.in:
		return part, nil
	default:
		return nil, io.EOF
	}
}

func (h *halfStream) CloseSend() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendClosed {
		return nil
	}
	h.sendClosed = true
	h.closeHalf()
	return nil
}

func (h *halfStream) Close() error {
	h.closeAll()
	return nil
}
