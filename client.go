package rpccore

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sadopc/rpccore/callstate"
	"github.com/sadopc/rpccore/interceptor"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/retrythrottle"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

// userAgent identifies this call manager in the leading request metadata,
// the way a generated client stub would embed its library's version.
const userAgent = "rpccore/0.1"

// ClientConfig holds client-wide settings: the default per-method
// configuration and the shared retry throttle.
type ClientConfig struct {
	DefaultMethodConfig MethodConfig
	// RetryThrottle gates automatic retries across every call made through
	// this Client. A nil value disables automatic retries entirely,
	// regardless of any RetryPolicy a MethodConfig names.
	RetryThrottle *retrythrottle.Throttle
	// SendCompressor, if set, names a registered encoding.Compressor used
	// to compress outbound messages (grpc-encoding) and advertise on
	// grpc-accept-encoding.
	SendCompressor string
	// CompressionThreshold is the minimum serialized message size, in
	// bytes, before SendCompressor is actually applied to a message; small
	// messages are sent uncompressed even when a compressor is configured,
	// since the framing/algorithm overhead would outweigh the saving.
	// Defaults to DefaultCompressionThreshold.
	CompressionThreshold int
	// Logger receives one lifecycle line per call attempt (retries included)
	// plus the call's final outcome, the same shape the server's Logger
	// emits. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultCompressionThreshold is applied when ClientConfig/ServerConfig
// leave CompressionThreshold unset.
const DefaultCompressionThreshold = 256

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	return c
}

// Client is the client-side RPC call manager: it builds the leading
// request metadata, opens a stream for each call through the interceptor
// chain, and funnels the response back to the caller, retrying per
// MethodConfig when the throttle allows it.
type Client struct {
	transport     transport.ClientTransport
	cfg           ClientConfig
	interceptors  []interceptor.Interceptor
	methodConfigs map[string]MethodConfig
}

// NewClient constructs a Client bound to one ClientTransport. Interceptors
// are applied outermost-first, the same convention as the server.
func NewClient(t transport.ClientTransport, cfg ClientConfig, interceptors ...interceptor.Interceptor) *Client {
	return &Client{
		transport:     t,
		cfg:           cfg.withDefaults(),
		interceptors:  interceptors,
		methodConfigs: make(map[string]MethodConfig),
	}
}

// callLogger builds the per-call trace-id-tagged logger every Call* entry
// point logs its attempts and outcome through, the client-side counterpart
// of the trace id the server's handleStream generates for its own
// lifecycle lines.
func (c *Client) callLogger(desc MethodDescriptor) *slog.Logger {
	return c.cfg.Logger.With("trace_id", uuid.NewString(), "method", desc.FullMethod)
}

// SetMethodConfig installs a per-method override.
func (c *Client) SetMethodConfig(fullMethod string, cfg MethodConfig) {
	c.methodConfigs[fullMethod] = cfg
}

func (c *Client) methodConfig(fullMethod string) MethodConfig {
	if cfg, ok := c.methodConfigs[fullMethod]; ok {
		return cfg
	}
	return c.cfg.DefaultMethodConfig
}

func (c *Client) leadingMetadata(ctx context.Context, desc MethodDescriptor, cfg MethodConfig) metadata.MD {
	md := metadata.Pairs(
		transport.HeaderMethod, "POST",
		transport.HeaderPath, desc.FullMethod,
		transport.HeaderContentType, transport.ContentTypeGRPCBase+"+proto",
		transport.HeaderTE, "trailers",
		transport.HeaderUserAgent, userAgent,
	)
	if c.cfg.SendCompressor != "" {
		md.Append(transport.HeaderGRPCEncoding, c.cfg.SendCompressor)
		md.Append(transport.HeaderGRPCAccept, c.cfg.SendCompressor)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			md.Append(transport.HeaderGRPCTimeout, EncodeTimeout(d))
		}
	} else if cfg.Timeout > 0 {
		md.Append(transport.HeaderGRPCTimeout, EncodeTimeout(cfg.Timeout))
	}
	outgoing, _ := metadata.FromOutgoingContext(ctx)
	return metadata.Join(md, outgoing)
}

// newCall builds a fresh clientCall and derives a per-attempt context
// carrying cfg.Timeout when the caller hasn't already set a deadline.
func (c *Client) newCall(ctx context.Context, desc MethodDescriptor, cfg MethodConfig) (*clientCall, context.CancelFunc) {
	cancelFn := func() {}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cfg.Timeout > 0 {
		ctx, cancelFn = context.WithTimeout(ctx, cfg.Timeout)
	}
	cc := &clientCall{
		ctx:                  ctx,
		desc:                 desc,
		transport:            c.transport,
		leadingMD:            c.leadingMetadata(ctx, desc, cfg),
		inState:              callstate.New(callstate.ResponseDirection, desc.Kind),
		outState:             callstate.New(callstate.RequestDirection, desc.Kind),
		sendCompressor:       c.cfg.SendCompressor,
		compressionThreshold: c.cfg.CompressionThreshold,
	}
	return cc, cancelFn
}

// CallUnary invokes a unary method, retrying per the method's RetryPolicy
// (if any) while c.cfg.RetryThrottle allows it. Each attempt opens a fresh
// stream; a failed attempt's effects are never visible to the caller,
// since nothing is returned until one attempt succeeds or attempts are
// exhausted.
func CallUnary[Req, Resp any](ctx context.Context, c *Client, service, methodName string, codec Serializer[Req, Resp], req Req) (Resp, error) {
	desc := method.New(service, methodName, method.Unary)
	cfg := c.methodConfig(desc.FullMethod)
	log := c.callLogger(desc)

	var zero Resp
	for attempt := 1; ; attempt++ {
		resp, st := callUnaryAttempt(ctx, c, desc, cfg, codec, req)
		if st.Code() == status.OK {
			if c.cfg.RetryThrottle != nil {
				c.cfg.RetryThrottle.OnSuccess()
			}
			log.Info("call finished", "code", st.Code().String(), "attempt", attempt)
			return resp, nil
		}

		if !c.retryableAfterFailure(cfg, st.Code(), attempt) {
			log.Info("call finished", "code", st.Code().String(), "attempt", attempt)
			return zero, st.Err()
		}
		log.Warn("retrying after failure", "attempt", attempt, "code", st.Code().String())
		if err := sleepBackoff(ctx, cfg.Retry, attempt); err != nil {
			log.Info("call finished", "code", st.Code().String(), "attempt", attempt)
			return zero, st.Err()
		}
	}
}

func (c *Client) retryableAfterFailure(cfg MethodConfig, code Code, attempt int) bool {
	if cfg.Retry == nil || attempt >= cfg.Retry.MaxAttempts || !cfg.Retry.isRetryable(code) {
		return false
	}
	if c.cfg.RetryThrottle == nil {
		return false
	}
	c.cfg.RetryThrottle.OnFailure()
	return c.cfg.RetryThrottle.Allow()
}

func callUnaryAttempt[Req, Resp any](ctx context.Context, c *Client, desc MethodDescriptor, cfg MethodConfig, codec Serializer[Req, Resp], req Req) (Resp, *status.Status) {
	cc, cancelFn := c.newCall(ctx, desc, cfg)
	defer cancelFn()
	defer cc.close()

	var resp Resp
	h := interceptor.Chain(c.interceptors, func(ic interceptor.Call) *status.Status {
		cc.ctx = ic.Context()
		reqBytes, err := codec.SerializeReq(req)
		if err != nil {
			return status.Newf(status.Internal, "serializing request: %v", err)
		}
		if st := sendOneMessage(cc, reqBytes); st != nil {
			return st
		}
		if err := cc.closeSend(); err != nil {
			return status.Newf(status.Unavailable, "closing request stream: %v", err)
		}

		var respBytes []byte
		got := false
		st := recvResponseMessages(cc, func(b []byte) error {
			respBytes = b
			got = true
			return nil
		})
		if st.Code() != status.OK {
			return st
		}
		if !got {
			return status.New(status.Internal, "unary call completed without a response message")
		}
		r, derr := codec.DeserializeResp(respBytes)
		if derr != nil {
			return status.Newf(status.Internal, "deserializing response: %v", derr)
		}
		resp = r
		return status.New(status.OK, "")
	})
	st := h(cc)
	return resp, st
}

// CallServerStream invokes a server-streaming method, delivering each
// response message to onEach as it arrives, retrying the whole attempt per
// the method's RetryPolicy the same way CallUnary does. A retried attempt
// re-sends req and re-invokes onEach for every response the new attempt
// delivers; callers enabling retry on a server-streaming method are
// responsible for onEach tolerating repeated delivery the way any
// at-least-once consumer must.
func CallServerStream[Req, Resp any](ctx context.Context, c *Client, service, methodName string, codec Serializer[Req, Resp], req Req, onEach func(Resp) error) error {
	desc := method.New(service, methodName, method.ServerStreaming)
	cfg := c.methodConfig(desc.FullMethod)
	log := c.callLogger(desc)

	_, st := retryLoop(ctx, c, cfg, log, func() (struct{}, *status.Status) {
		return struct{}{}, serverStreamAttempt(ctx, c, desc, cfg, codec, req, onEach)
	})
	return st.Err()
}

func serverStreamAttempt[Req, Resp any](ctx context.Context, c *Client, desc MethodDescriptor, cfg MethodConfig, codec Serializer[Req, Resp], req Req, onEach func(Resp) error) *status.Status {
	cc, cancelFn := c.newCall(ctx, desc, cfg)
	defer cancelFn()
	defer cc.close()

	h := interceptor.Chain(c.interceptors, func(ic interceptor.Call) *status.Status {
		cc.ctx = ic.Context()
		reqBytes, err := codec.SerializeReq(req)
		if err != nil {
			return status.Newf(status.Internal, "serializing request: %v", err)
		}
		if st := sendOneMessage(cc, reqBytes); st != nil {
			return st
		}
		if err := cc.closeSend(); err != nil {
			return status.Newf(status.Unavailable, "closing request stream: %v", err)
		}
		return recvResponseMessages(cc, func(b []byte) error {
			resp, derr := codec.DeserializeResp(b)
			if derr != nil {
				return derr
			}
			return onEach(resp)
		})
	})
	return h(cc)
}

// CallClientStream invokes a client-streaming method: produce is called
// repeatedly to obtain the next request message, returning ok=false once
// the caller has nothing more to send. Retried the same way CallUnary is;
// a retried attempt calls produce again from its first message onward, so
// a caller enabling retry on a client-streaming method must supply a
// produce closure that can be replayed from the start (e.g. backed by a
// slice and an index reset per call), not one that consumes an
// unrepeatable source such as a single-use channel.
func CallClientStream[Req, Resp any](ctx context.Context, c *Client, service, methodName string, codec Serializer[Req, Resp], produce func() (Req, bool, error)) (Resp, error) {
	desc := method.New(service, methodName, method.ClientStreaming)
	cfg := c.methodConfig(desc.FullMethod)
	log := c.callLogger(desc)

	resp, st := retryLoop(ctx, c, cfg, log, func() (Resp, *status.Status) {
		return clientStreamAttempt(ctx, c, desc, cfg, codec, produce)
	})
	return resp, st.Err()
}

func clientStreamAttempt[Req, Resp any](ctx context.Context, c *Client, desc MethodDescriptor, cfg MethodConfig, codec Serializer[Req, Resp], produce func() (Req, bool, error)) (Resp, *status.Status) {
	cc, cancelFn := c.newCall(ctx, desc, cfg)
	defer cancelFn()
	defer cc.close()

	var resp Resp
	h := interceptor.Chain(c.interceptors, func(ic interceptor.Call) *status.Status {
		cc.ctx = ic.Context()
		for {
			req, ok, err := produce()
			if err != nil {
				return status.Newf(status.Internal, "producing request message: %v", err)
			}
			if !ok {
				break
			}
			b, serr := codec.SerializeReq(req)
			if serr != nil {
				return status.Newf(status.Internal, "serializing request: %v", serr)
			}
			if st := sendOneMessage(cc, b); st != nil {
				return st
			}
		}
		if err := cc.closeSend(); err != nil {
			return status.Newf(status.Unavailable, "closing request stream: %v", err)
		}

		var respBytes []byte
		got := false
		st := recvResponseMessages(cc, func(b []byte) error {
			respBytes = b
			got = true
			return nil
		})
		if st.Code() != status.OK {
			return st
		}
		if !got {
			return status.New(status.Internal, "client-streaming call completed without a response message")
		}
		r, derr := codec.DeserializeResp(respBytes)
		if derr != nil {
			return status.Newf(status.Internal, "deserializing response: %v", derr)
		}
		resp = r
		return status.New(status.OK, "")
	})
	st := h(cc)
	if st.Code() != status.OK {
		var zero Resp
		return zero, st
	}
	return resp, st
}

// CallBidiStream invokes a bidirectional-streaming method. produce and
// onEach follow the same conventions as CallClientStream and
// CallServerStream; produce is drained to completion before the response
// side is read, a half-duplex simplification of these synchronous entry
// points (a caller wanting true interleaving drives its own goroutines
// around a lower-level Call instead). Retried the same way CallUnary is,
// with the same produce-must-be-replayable and onEach-must-tolerate-
// redelivery obligations as CallClientStream/CallServerStream.
func CallBidiStream[Req, Resp any](ctx context.Context, c *Client, service, methodName string, codec Serializer[Req, Resp], produce func() (Req, bool, error), onEach func(Resp) error) error {
	desc := method.New(service, methodName, method.Bidi)
	cfg := c.methodConfig(desc.FullMethod)
	log := c.callLogger(desc)

	_, st := retryLoop(ctx, c, cfg, log, func() (struct{}, *status.Status) {
		return struct{}{}, bidiStreamAttempt(ctx, c, desc, cfg, codec, produce, onEach)
	})
	return st.Err()
}

func bidiStreamAttempt[Req, Resp any](ctx context.Context, c *Client, desc MethodDescriptor, cfg MethodConfig, codec Serializer[Req, Resp], produce func() (Req, bool, error), onEach func(Resp) error) *status.Status {
	cc, cancelFn := c.newCall(ctx, desc, cfg)
	defer cancelFn()
	defer cc.close()

	h := interceptor.Chain(c.interceptors, func(ic interceptor.Call) *status.Status {
		cc.ctx = ic.Context()
		for {
			req, ok, err := produce()
			if err != nil {
				return status.Newf(status.Internal, "producing request message: %v", err)
			}
			if !ok {
				break
			}
			b, serr := codec.SerializeReq(req)
			if serr != nil {
				return status.Newf(status.Internal, "serializing request: %v", serr)
			}
			if st := sendOneMessage(cc, b); st != nil {
				return st
			}
		}
		if err := cc.closeSend(); err != nil {
			return status.Newf(status.Unavailable, "closing request stream: %v", err)
		}
		return recvResponseMessages(cc, func(b []byte) error {
			resp, derr := codec.DeserializeResp(b)
			if derr != nil {
				return derr
			}
			return onEach(resp)
		})
	})
	return h(cc)
}

// retryLoop runs attempt, retrying per cfg.Retry/c.cfg.RetryThrottle the
// same way CallUnary's inline loop does, and logging each retry and the
// call's final outcome. It is the shared retry/log path the streaming
// Call* entry points funnel through; CallUnary runs its own loop.
func retryLoop[Resp any](ctx context.Context, c *Client, cfg MethodConfig, log *slog.Logger, attempt func() (Resp, *status.Status)) (Resp, *status.Status) {
	for n := 1; ; n++ {
		resp, st := attempt()
		if st.Code() == status.OK {
			if c.cfg.RetryThrottle != nil {
				c.cfg.RetryThrottle.OnSuccess()
			}
			log.Info("call finished", "code", st.Code().String(), "attempt", n)
			return resp, st
		}

		if !c.retryableAfterFailure(cfg, st.Code(), n) {
			log.Info("call finished", "code", st.Code().String(), "attempt", n)
			return resp, st
		}
		log.Warn("retrying after failure", "attempt", n, "code", st.Code().String())
		if err := sleepBackoff(ctx, cfg.Retry, n); err != nil {
			log.Info("call finished", "code", st.Code().String(), "attempt", n)
			return resp, st
		}
	}
}

func sleepBackoff(ctx context.Context, policy *RetryPolicy, attempt int) error {
	if policy == nil {
		return nil
	}
	backoff := policy.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
			break
		}
	}
	jittered := time.Duration(float64(backoff) * (0.5 + rand.Float64()*0.5))
	select {
	case <-time.After(jittered):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
