package rpccore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sadopc/rpccore/callstate"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

// clientCall is the concrete interceptor.Call the call manager hands to the
// interceptor chain for one outbound call: it lazily opens the transport
// stream and writes the leading request metadata on the first outbound
// message, mirroring serverCall's lazy header flush on the other side of
// the wire.
type clientCall struct {
	ctx       context.Context
	desc      MethodDescriptor
	transport transport.ClientTransport
	leadingMD metadata.MD

	stream   transport.Stream
	inState  *callstate.Machine
	outState *callstate.Machine

	// sendCompressor, when non-empty, names the algorithm this call
	// advertised via grpc-encoding/grpc-accept-encoding; compressionThreshold
	// gates whether a given message is actually compressed with it.
	sendCompressor       string
	compressionThreshold int

	opened bool
}

func (c *clientCall) Context() context.Context     { return c.ctx }
func (c *clientCall) MethodDesc() method.Descriptor { return c.desc }

func (c *clientCall) ensureOpen() error {
	if c.opened {
		return nil
	}
	c.opened = true
	stream, err := c.transport.OpenStream(c.ctx, c.desc.FullMethod)
	if err != nil {
		return err
	}
	c.stream = stream
	hdr := &transport.Part{Kind: transport.PartMetadata, MD: c.leadingMD}
	if err := c.outState.Observe(hdr); err != nil {
		return err
	}
	return c.stream.Send(c.ctx, hdr)
}

func (c *clientCall) SendPart(part *transport.Part) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if part.Kind == transport.PartMessage && c.sendCompressor != "" && len(part.Message) > c.compressionThreshold {
		// Compressed here is a request, not a transformation: the payload
		// stays decoded (transport.Part's contract) and the concrete
		// transport decides how (or whether) to realize it on the wire,
		// using the algorithm already negotiated via c.leadingMD's
		// grpc-encoding/grpc-accept-encoding headers.
		part.Compressed = true
	}
	if err := c.outState.Observe(part); err != nil {
		return err
	}
	return c.stream.Send(c.ctx, part)
}

func (c *clientCall) RecvPart() (*transport.Part, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	part, err := c.stream.Recv(c.ctx)
	if err != nil {
		return nil, err
	}
	if serr := c.inState.Observe(part); serr != nil {
		return nil, serr
	}
	return part, nil
}

func (c *clientCall) closeSend() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := c.outState.CloseSend(); err != nil {
		return err
	}
	return c.stream.CloseSend()
}

func (c *clientCall) close() {
	if c.stream != nil {
		c.stream.Close()
	}
}

// recvResponseMessages drains inbound Message parts until the terminal
// Status part, invoking onEach for each one; it returns the terminal
// status. If the call's own context ended first, that context error's
// status (DeadlineExceeded or Cancelled) is returned; any other break
// before a terminal status is written surfaces as Unavailable, so a
// transport failure still yields a well-formed outcome to the caller.
func recvResponseMessages(call *clientCall, onEach func([]byte) error) *status.Status {
	for {
		part, err := call.RecvPart()
		if err != nil {
			if cerr := call.ctx.Err(); cerr != nil {
				return status.FromContextError(cerr)
			}
			if errors.Is(err, io.EOF) {
				return status.New(status.Unavailable, "transport closed before a terminal status was received")
			}
			return status.Newf(status.Unavailable, "reading response: %v", err)
		}
		switch part.Kind {
		case transport.PartMessage:
			if onEach != nil {
				if cerr := onEach(part.Message); cerr != nil {
					return status.Convert(fmt.Errorf("handling response message: %w", cerr))
				}
			}
		case transport.PartStatus:
			return part.Status
		default:
			return status.Newf(status.Internal, "unexpected %s part on response", part.Kind)
		}
	}
}
