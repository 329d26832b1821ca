package rpccore

// UnaryHandler handles a single request, single response call.
type UnaryHandler[Req, Resp any] func(sc *ServerContext, req Req) (Resp, error)

// ServerStreamHandler handles a single request, stream-of-responses call.
// send delivers one response message; it may be called any number of
// times, including zero.
type ServerStreamHandler[Req, Resp any] func(sc *ServerContext, req Req, send func(Resp) error) error

// ClientStreamHandler handles a stream-of-requests, single-response call.
// recv yields the next request; it returns ok=false, err=nil once the
// client has sent every message and closed its send side.
type ClientStreamHandler[Req, Resp any] func(sc *ServerContext, recv func() (Req, bool, error)) (Resp, error)

// BidiStreamHandler handles a stream-of-requests, stream-of-responses call,
// with recv/send following the same conventions as the handlers above.
type BidiStreamHandler[Req, Resp any] func(sc *ServerContext, recv func() (Req, bool, error), send func(Resp) error) error
