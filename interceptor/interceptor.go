// Package interceptor implements the interceptor pipeline: an ordered,
// composable chain of request/response transformers whose tail is the
// handler (server) or the transport (client). Server- and client-side
// interceptors are symmetric in shape, so both sides share the Call
// interface below; only the concrete implementation handed to them by the
// executor/call manager differs in which direction is "inbound".
package interceptor

import (
	"context"

	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

// Call is what an interceptor (or, at the tail of the chain, the handler
// or the transport writer) operates on: a single RPC's part-level duplex.
type Call interface {
	Context() context.Context
	MethodDesc() method.Descriptor
	// SendPart writes the next outbound part (request parts on the client,
	// response parts on the server).
	SendPart(*transport.Part) error
	// RecvPart reads the next inbound part.
	RecvPart() (*transport.Part, error)
}

// Handler is the tail of a chain, or any stage of it: it drives the call to
// completion and returns a terminal Status. On the server it is ultimately
// the user's handler function; on the client it is ultimately the
// transport's write/read pump.
type Handler func(call Call) *status.Status

// Interceptor wraps a Handler with one stage of cross-cutting behavior. It
// may short-circuit by returning without invoking next (e.g. for auth
// denial), and may observe or mutate parts by wrapping Call.
//
// Predicate, if non-nil, scopes the interceptor to methods for which it
// returns true; when it returns false the interceptor is skipped entirely
// without observing the call.
type Interceptor struct {
	Name      string
	Intercept func(call Call, next Handler) *status.Status
	Predicate func(desc method.Descriptor) bool
}

// Chain composes interceptors around tail, in the order given: the first
// interceptor in the slice is outermost (observes the call first). Every
// stage is wrapped in Protect, so a stage that panics still terminates the
// call cleanly with Status(code=unknown). The Status a stage returns is
// passed through unchanged.
func Chain(interceptors []Interceptor, tail Handler) Handler {
	h := Protect(tail)
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		next := h
		h = Protect(func(call Call) *status.Status {
			if ic.Predicate != nil && !ic.Predicate(call.MethodDesc()) {
				return next(call)
			}
			return ic.Intercept(call, next)
		})
	}
	return h
}

// Protect wraps h so that a panic escaping it is coerced into an Unknown
// status rather than crashing the call's task tree.
func Protect(h Handler) Handler {
	return func(call Call) (st *status.Status) {
		defer func() {
			if r := recover(); r != nil {
				st = status.Newf(status.Unknown, "panic: %v", r)
			}
		}()
		return h(call)
	}
}
