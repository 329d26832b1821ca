package metadata

import "context"

type incomingKey struct{}
type outgoingKey struct{}

// NewIncomingContext attaches md as the metadata an inbound call arrived
// with (leading request metadata on the server, leading response metadata
// on the client).
func NewIncomingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, incomingKey{}, md)
}

// FromIncomingContext retrieves metadata attached by NewIncomingContext.
func FromIncomingContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(incomingKey{}).(MD)
	return md, ok
}

// NewOutgoingContext attaches md as metadata to be sent with an outbound
// call (client request headers, or server response headers set by a
// handler before its first message).
func NewOutgoingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, outgoingKey{}, md)
}

// FromOutgoingContext retrieves metadata attached by NewOutgoingContext.
func FromOutgoingContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(outgoingKey{}).(MD)
	return md, ok
}

// AppendToOutgoingContext returns a context with kv (alternating key/value
// pairs, as in Pairs) appended to any outgoing metadata already present.
func AppendToOutgoingContext(ctx context.Context, kv ...string) context.Context {
	if len(kv)%2 != 0 {
		panic("metadata: AppendToOutgoingContext got an odd number of arguments")
	}
	existing, _ := FromOutgoingContext(ctx)
	merged := existing.Copy()
	for i := 0; i < len(kv); i += 2 {
		merged.Append(kv[i], kv[i+1])
	}
	return NewOutgoingContext(ctx, merged)
}
