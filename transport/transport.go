// Package transport defines the pluggable byte-stream abstraction the core
// consumes: the core receives an already-opened bidirectional stream from
// a transport implementation and knows nothing about method descriptors,
// serializers, or interceptors — only the wire shape of a gRPC part.
package transport

import (
	"context"

	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
)

// PartKind discriminates the elements of a direction's part sequence.
type PartKind uint8

const (
	// PartMetadata is the single leading metadata block of a direction.
	PartMetadata PartKind = iota
	// PartMessage is one length-prefixed message.
	PartMessage
	// PartStatus is the terminal status on the response side only.
	PartStatus
)

func (k PartKind) String() string {
	switch k {
	case PartMetadata:
		return "metadata"
	case PartMessage:
		return "message"
	case PartStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Part is one element of a direction's part sequence. Only the fields
// relevant to Kind are populated.
type Part struct {
	Kind       PartKind
	MD         metadata.MD     // for PartMetadata
	Message    []byte          // for PartMessage: the decoded, decompressed payload
	Compressed bool            // for PartMessage: whether the wire frame was compressed
	Status     *status.Status  // for PartStatus, trailer is Status.Trailer()
}

// Stream is a single logical RPC's bidirectional part sequence, as handed
// to the core by a transport implementation. A Stream is single-producer /
// single-consumer in each direction.
type Stream interface {
	// Send writes the next outbound part. It blocks while backpressure
	// (send-window credit) is exhausted.
	Send(ctx context.Context, part *Part) error
	// Recv reads the next inbound part, blocking until one arrives, the
	// stream is closed, or ctx is done.
	Recv(ctx context.Context) (*Part, error)
	// CloseSend signals that no more outbound parts will be written,
	// without discarding inbound parts still to be read.
	CloseSend() error
	// Close tears the stream down entirely, releasing transport resources.
	Close() error
}

// ServerTransport accepts inbound streams before any method resolution has
// happened; the accepted Stream's first Recv is expected to yield the
// leading request Metadata, whose ":path" pseudo-header names the method.
type ServerTransport interface {
	// Accept blocks until a new stream arrives or the transport is closed,
	// in which case it returns (nil, io.EOF)-shaped errors per
	// implementation (see transport/inmem, transport/h2).
	Accept(ctx context.Context) (Stream, error)
	// Close stops accepting new streams. In-flight streams are unaffected.
	Close() error
}

// ClientTransport opens new outbound streams against a resolved peer.
type ClientTransport interface {
	OpenStream(ctx context.Context, fullMethod string) (Stream, error)
	Close() error
}

// Pseudo-header keys carried in leading metadata.
const (
	HeaderPath          = ":path"
	HeaderMethod        = ":method"
	HeaderContentType   = "content-type"
	HeaderTE            = "te"
	HeaderUserAgent     = "user-agent"
	HeaderGRPCEncoding  = "grpc-encoding"
	HeaderGRPCAccept    = "grpc-accept-encoding"
	HeaderGRPCTimeout   = "grpc-timeout"
	HeaderGRPCStatus    = "grpc-status"
	HeaderGRPCMessage   = "grpc-message"
	ContentTypeGRPCBase = "application/grpc"
)
