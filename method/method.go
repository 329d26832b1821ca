// Package method defines the MethodDescriptor entity: an immutable,
// shared-by-reference description of one RPC method's full name and call
// shape. It has no dependencies so both the transport/interceptor layers
// and the root package can depend on it without import cycles.
package method

import "strings"

// Kind is one of the four RPC call shapes.
type Kind int

const (
	Unary Kind = iota
	ServerStreaming
	ClientStreaming
	Bidi
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ServerStreaming:
		return "server-streaming"
	case ClientStreaming:
		return "client-streaming"
	case Bidi:
		return "bidi-streaming"
	default:
		return "unknown"
	}
}

// StreamsRequests reports whether this kind permits more than one inbound
// message.
func (k Kind) StreamsRequests() bool {
	return k == ClientStreaming || k == Bidi
}

// StreamsResponses reports whether this kind permits more than one outbound
// message.
func (k Kind) StreamsResponses() bool {
	return k == ServerStreaming || k == Bidi
}

// Descriptor is the fully-qualified identity of an RPC method:
// "pkg.Service/Method". Descriptors are constructed once at server/client
// registration time and shared by reference for the method's lifetime.
type Descriptor struct {
	FullMethod string
	Kind       Kind
}

// New builds a Descriptor from a service's fully-qualified name and a bare
// method name.
func New(service, methodName string, kind Kind) Descriptor {
	return Descriptor{FullMethod: "/" + service + "/" + methodName, Kind: kind}
}

// Service returns the "pkg.Service" portion of FullMethod.
func (d Descriptor) Service() string {
	svc, _ := split(d.FullMethod)
	return svc
}

// Method returns the bare method name portion of FullMethod.
func (d Descriptor) Method() string {
	_, m := split(d.FullMethod)
	return m
}

func split(fullMethod string) (service, method string) {
	s := strings.TrimPrefix(fullMethod, "/")
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
