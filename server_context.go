package rpccore

import (
	"context"
	"time"

	"github.com/sadopc/rpccore/cancel"
	"github.com/sadopc/rpccore/metadata"
)

// ServerContext is the per-call capability set a handler sees: metadata
// access, cancellation, and the ability to set outgoing header/trailer
// metadata. It replaces the abstract-class-hierarchy-per-call-shape
// pattern (base/streaming/unary/test-stub contexts) with a single struct
// plus a narrow function-typed handler per RPC kind. It is populated by
// the executor and is single-owner within the call.
type ServerContext struct {
	ctx      context.Context
	method   MethodDescriptor
	inbound  metadata.MD
	deadline time.Time
	hasDL    bool
	token    *cancel.Token
	peer     string

	header  metadata.MD
	trailer metadata.MD
}

func newServerContext(ctx context.Context, desc MethodDescriptor, inbound metadata.MD, token *cancel.Token) *ServerContext {
	sc := &ServerContext{
		ctx:     ctx,
		method:  desc,
		inbound: inbound,
		token:   token,
	}
	if dl, ok := ctx.Deadline(); ok {
		sc.deadline = dl
		sc.hasDL = true
	}
	return sc
}

// Context returns the call's context.Context, which ends when the call's
// deadline passes, the server stops serving, or the call finishes. The
// CancellationToken fires when this context ends or the handler returns;
// cancelling the token does not end this context.
func (c *ServerContext) Context() context.Context { return c.ctx }

// Method returns the method descriptor this call was dispatched for.
func (c *ServerContext) Method() MethodDescriptor { return c.method }

// InboundMetadata returns the leading metadata the caller sent.
func (c *ServerContext) InboundMetadata() metadata.MD { return c.inbound }

// Deadline returns the call's absolute deadline, if one applies.
func (c *ServerContext) Deadline() (time.Time, bool) { return c.deadline, c.hasDL }

// Peer returns a string identifying the calling peer, if the transport
// supplied one (e.g. a client address); empty otherwise.
func (c *ServerContext) Peer() string { return c.peer }

// SetPeer records peer identity. The executor does not call it, so Peer
// stays empty unless something else sets it.
func (c *ServerContext) SetPeer(p string) { c.peer = p }

// CancellationToken exposes the per-call cancellation token so a handler
// can register a callback or await it directly.
func (c *ServerContext) CancellationToken() *cancel.Token { return c.token }

// SetHeader merges kv (alternating key/value pairs) into the leading
// response metadata, which is flushed before any message. Calling it after
// the leading metadata has already been written has no effect; handlers
// should call it before their first Send.
func (c *ServerContext) SetHeader(kv ...string) {
	if len(kv)%2 != 0 {
		panic("rpccore: SetHeader got an odd number of arguments")
	}
	for i := 0; i < len(kv); i += 2 {
		c.header.Append(kv[i], kv[i+1])
	}
}

// SetTrailer merges kv into the trailing metadata sent with the terminal
// status.
func (c *ServerContext) SetTrailer(kv ...string) {
	if len(kv)%2 != 0 {
		panic("rpccore: SetTrailer got an odd number of arguments")
	}
	for i := 0; i < len(kv); i += 2 {
		c.trailer.Append(kv[i], kv[i+1])
	}
}

// responseHeader and responseTrailer are read by the executor when it
// writes the leading response metadata and terminal status; handlers
// mutate this state only through SetHeader/SetTrailer.
func (c *ServerContext) responseHeader() metadata.MD  { return c.header }
func (c *ServerContext) responseTrailer() metadata.MD { return c.trailer }
