package rpccore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sadopc/rpccore/callstate"
	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

// serverCall is the concrete interceptor.Call the executor hands to the
// interceptor chain for one accepted stream. It multiplexes the raw
// transport.Stream through the per-direction callstate.Machine so every
// part an interceptor or handler sends is validated against the call's
// cardinality and ordering rules before it reaches the wire, and lazily
// flushes the response's leading metadata on the first outbound message
// (or the terminal status, if the handler never sends one).
type serverCall struct {
	ctx      context.Context
	desc     MethodDescriptor
	stream   transport.Stream
	inState  *callstate.Machine
	outState *callstate.Machine
	sc       *ServerContext

	// sendCompressor, when non-empty, names the algorithm negotiated for
	// this call's responses (see negotiateResponseCompressor);
	// compressionThreshold gates whether a given response message is large
	// enough to mark compressed.
	sendCompressor       string
	compressionThreshold int

	headerFlushed bool
}

func (c *serverCall) Context() context.Context        { return c.ctx }
func (c *serverCall) MethodDesc() method.Descriptor    { return c.desc }

func (c *serverCall) RecvPart() (*transport.Part, error) {
	part, err := c.stream.Recv(c.ctx)
	if err != nil {
		return nil, err
	}
	if serr := c.inState.Observe(part); serr != nil {
		return nil, serr
	}
	return part, nil
}

func (c *serverCall) SendPart(part *transport.Part) error {
	if part.Kind == transport.PartMessage {
		if err := c.flushHeader(); err != nil {
			return err
		}
		// Same request-not-transformation contract as clientCall.SendPart:
		// the payload stays decoded, the concrete transport decides how (or
		// whether) to realize compression on the wire.
		if c.sendCompressor != "" && len(part.Message) > c.compressionThreshold {
			part.Compressed = true
		}
	}
	if err := c.outState.Observe(part); err != nil {
		return err
	}
	return c.stream.Send(c.ctx, part)
}

func (c *serverCall) flushHeader() error {
	if c.headerFlushed {
		return nil
	}
	c.headerFlushed = true
	hdr := &transport.Part{Kind: transport.PartMetadata, MD: c.sc.responseHeader()}
	if err := c.outState.Observe(hdr); err != nil {
		return err
	}
	return c.stream.Send(c.ctx, hdr)
}

// finish flushes any never-sent header and writes the terminal status part,
// folding in the trailer already merged onto st by the caller.
func (c *serverCall) finish(ctx context.Context, st *status.Status) {
	c.flushHeader()
	final := &transport.Part{Kind: transport.PartStatus, Status: st}
	c.outState.Observe(final)
	c.stream.Send(ctx, final)
}

// errEndOfStream signals a clean end of the inbound message sequence to a
// ClientStream/BidiStream handler's recv closure, as opposed to an error.
var errEndOfStream = errors.New("rpccore: end of inbound stream")

// recvOneMessage reads the single request message a Unary or ServerStream
// call expects, translating any failure into a Status the caller can
// return directly as the call's terminal outcome.
func recvOneMessage(call interface {
	RecvPart() (*transport.Part, error)
}) ([]byte, *status.Status) {
	part, err := call.RecvPart()
	if err != nil {
		return nil, status.Newf(status.Internal, "reading request message: %v", err)
	}
	if part.Kind != transport.PartMessage {
		return nil, status.Newf(status.Internal, "expected exactly one request message, got a %s part", part.Kind)
	}
	return part.Message, nil
}

// sendOneMessage writes the single response message a Unary or
// ClientStream call produces.
func sendOneMessage(call interface {
	SendPart(*transport.Part) error
}, b []byte) *status.Status {
	if err := call.SendPart(&transport.Part{Kind: transport.PartMessage, Message: b}); err != nil {
		return status.Newf(status.Internal, "writing response message: %v", err)
	}
	return nil
}

// sendOneMessageRaw is sendOneMessage's plain-error form, for use inside a
// streaming handler's send closure.
func sendOneMessageRaw(call interface {
	SendPart(*transport.Part) error
}, b []byte) error {
	if err := call.SendPart(&transport.Part{Kind: transport.PartMessage, Message: b}); err != nil {
		return fmt.Errorf("writing response message: %w", err)
	}
	return nil
}

// recvOneMessageRaw reads the next inbound message for a streaming
// handler's recv closure, reporting a clean end of stream as
// errEndOfStream rather than an error.
func recvOneMessageRaw(call interface {
	RecvPart() (*transport.Part, error)
}) ([]byte, error) {
	part, err := call.RecvPart()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEndOfStream
		}
		return nil, fmt.Errorf("reading request message: %w", err)
	}
	if part.Kind != transport.PartMessage {
		return nil, errEndOfStream
	}
	return part.Message, nil
}
