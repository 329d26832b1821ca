// Package rpccore implements a gRPC-shaped core RPC runtime: a
// transport-agnostic call state machine, wire framing, interceptor
// pipeline, server dispatch executor, and client call manager for the
// four gRPC call shapes (unary, server-streaming, client-streaming,
// bidirectional-streaming).
//
// The package deliberately does not parse .proto files, speak raw HTTP/2,
// resolve names, or balance load: those are non-goals handled by
// collaborators the caller supplies (a transport.ClientTransport /
// transport.ServerTransport, and a serializer pair per method).
package rpccore

import (
	"time"

	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
)

// Re-exported for ergonomics: most callers only need method.Descriptor,
// method.Kind, and status.Code/status.Status through the root package.
type (
	MethodDescriptor = method.Descriptor
	RPCKind          = method.Kind
	Code             = status.Code
	Status           = status.Status
)

const (
	Unary           = method.Unary
	ServerStreaming = method.ServerStreaming
	ClientStreaming = method.ClientStreaming
	Bidi            = method.Bidi

	OK                 = status.OK
	Canceled           = status.Canceled
	Unknown            = status.Unknown
	InvalidArgument    = status.InvalidArgument
	DeadlineExceeded   = status.DeadlineExceeded
	NotFound           = status.NotFound
	AlreadyExists      = status.AlreadyExists
	PermissionDenied   = status.PermissionDenied
	ResourceExhausted  = status.ResourceExhausted
	FailedPrecondition = status.FailedPrecondition
	Aborted            = status.Aborted
	OutOfRange         = status.OutOfRange
	Unimplemented      = status.Unimplemented
	Internal           = status.Internal
	Unavailable        = status.Unavailable
	DataLoss           = status.DataLoss
	Unauthenticated    = status.Unauthenticated
)

// RetryPolicy is a method's automatic retry configuration, keyed off the
// status codes the attempt ended in, following the shape of upstream
// gRPC's own retry design (max attempts, exponential backoff with a cap,
// and a retryable-codes set).
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RetryableCodes    []Code
}

// DefaultRetryableCodes is the default retryable-codes set: Unavailable
// alone, the one code a client can assume means "nothing reached the
// server" without knowing the method's idempotency.
func DefaultRetryableCodes() []Code {
	return []Code{Unavailable}
}

func (p RetryPolicy) isRetryable(c Code) bool {
	for _, rc := range p.RetryableCodes {
		if rc == c {
			return true
		}
	}
	return false
}

// MethodConfig holds per-method overrides for timeout, message size caps,
// and retry behavior.
type MethodConfig struct {
	Timeout               time.Duration
	MaxReceiveMessageSize int
	MaxSendMessageSize    int
	Retry                 *RetryPolicy
}
