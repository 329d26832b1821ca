package rpccore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sadopc/rpccore/callstate"
	"github.com/sadopc/rpccore/cancel"
	"github.com/sadopc/rpccore/encoding"
	"github.com/sadopc/rpccore/interceptor"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

// methodHandler is the non-generic shape every Register* constructor
// erases a typed handler into: read inbound messages, drive the user
// handler, write outbound messages, and return the terminal status. The
// generic Register* functions below play the role codegen would otherwise
// fill for each RPC shape.
type methodHandler func(sc *ServerContext, call interceptor.Call) *status.Status

type registeredMethod struct {
	desc    MethodDescriptor
	handler methodHandler
}

// ServerConfig holds server-wide settings not tied to any one method,
// which config.ServerSettings.ToServerConfig builds from YAML settings.
type ServerConfig struct {
	MaxConcurrentStreams  int64
	MaxReceiveMessageSize int
	// CompressionThreshold is the minimum response message size, in bytes,
	// before a compression algorithm the caller advertised is actually
	// applied. Defaults to DefaultCompressionThreshold.
	CompressionThreshold int
	DefaultMethodConfig  MethodConfig
	Logger               *slog.Logger
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = 1000
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server is the server-side RPC executor: it accepts inbound streams from
// a transport.ServerTransport, resolves the method descriptor, enforces
// deadlines, runs the interceptor chain ending in the registered handler,
// and writes back status + trailers.
type Server struct {
	cfg           ServerConfig
	interceptors  []interceptor.Interceptor
	methodConfigs map[string]MethodConfig

	mu       sync.Mutex
	methods  map[string]*registeredMethod
	sem      *semaphore.Weighted
	shutdown chan struct{}
	draining bool
}

// NewServer constructs a Server. Interceptors are applied outermost-first
// in the order given.
func NewServer(cfg ServerConfig, interceptors ...interceptor.Interceptor) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:           cfg,
		interceptors:  interceptors,
		methodConfigs: make(map[string]MethodConfig),
		methods:       make(map[string]*registeredMethod),
		sem:           semaphore.NewWeighted(cfg.MaxConcurrentStreams),
		shutdown:      make(chan struct{}),
	}
}

// SetMethodConfig installs a per-method override.
func (s *Server) SetMethodConfig(fullMethod string, cfg MethodConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methodConfigs[fullMethod] = cfg
}

func (s *Server) methodConfig(fullMethod string) MethodConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.methodConfigs[fullMethod]; ok {
		return cfg
	}
	return s.cfg.DefaultMethodConfig
}

func (s *Server) register(desc MethodDescriptor, h methodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[desc.FullMethod] = &registeredMethod{desc: desc, handler: h}
}

// RegisteredMethods returns the descriptors of every method registered on
// s, in no particular order. It exists for the reflection package's
// producer-side listing and carries no other meaning in the executor.
func (s *Server) RegisteredMethods() []MethodDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MethodDescriptor, 0, len(s.methods))
	for _, rm := range s.methods {
		out = append(out, rm.desc)
	}
	return out
}

// RegisterUnary registers a unary method handler.
func RegisterUnary[Req, Resp any](s *Server, service, methodName string, codec Serializer[Req, Resp], h UnaryHandler[Req, Resp]) {
	desc := method.New(service, methodName, method.Unary)
	s.register(desc, func(sc *ServerContext, call interceptor.Call) *status.Status {
		reqBytes, err := recvOneMessage(call)
		if err != nil {
			return err
		}
		req, derr := codec.DeserializeReq(reqBytes)
		if derr != nil {
			return status.Newf(status.Internal, "deserializing request: %v", derr)
		}
		resp, herr := h(sc, req)
		if herr != nil {
			return coerceHandlerError(herr)
		}
		respBytes, serr := codec.SerializeResp(resp)
		if serr != nil {
			return status.Newf(status.Internal, "serializing response: %v", serr)
		}
		if err := sendOneMessage(call, respBytes); err != nil {
			return err
		}
		return status.New(status.OK, "")
	})
}

// RegisterServerStream registers a server-streaming method handler.
func RegisterServerStream[Req, Resp any](s *Server, service, methodName string, codec Serializer[Req, Resp], h ServerStreamHandler[Req, Resp]) {
	desc := method.New(service, methodName, method.ServerStreaming)
	s.register(desc, func(sc *ServerContext, call interceptor.Call) *status.Status {
		reqBytes, err := recvOneMessage(call)
		if err != nil {
			return err
		}
		req, derr := codec.DeserializeReq(reqBytes)
		if derr != nil {
			return status.Newf(status.Internal, "deserializing request: %v", derr)
		}

		send := func(resp Resp) error {
			b, serr := codec.SerializeResp(resp)
			if serr != nil {
				return fmt.Errorf("serializing response: %w", serr)
			}
			return sendOneMessageRaw(call, b)
		}
		if herr := h(sc, req, send); herr != nil {
			return coerceHandlerError(herr)
		}
		return status.New(status.OK, "")
	})
}

// RegisterClientStream registers a client-streaming method handler.
func RegisterClientStream[Req, Resp any](s *Server, service, methodName string, codec Serializer[Req, Resp], h ClientStreamHandler[Req, Resp]) {
	desc := method.New(service, methodName, method.ClientStreaming)
	s.register(desc, func(sc *ServerContext, call interceptor.Call) *status.Status {
		recv := func() (Req, bool, error) {
			var zero Req
			b, err := recvOneMessageRaw(call)
			if err == errEndOfStream {
				return zero, false, nil
			}
			if err != nil {
				return zero, false, err
			}
			req, derr := codec.DeserializeReq(b)
			if derr != nil {
				return zero, false, fmt.Errorf("deserializing request: %w", derr)
			}
			return req, true, nil
		}

		resp, herr := h(sc, recv)
		if herr != nil {
			return coerceHandlerError(herr)
		}
		respBytes, serr := codec.SerializeResp(resp)
		if serr != nil {
			return status.Newf(status.Internal, "serializing response: %v", serr)
		}
		if err := sendOneMessage(call, respBytes); err != nil {
			return err
		}
		return status.New(status.OK, "")
	})
}

// RegisterBidiStream registers a bidirectional-streaming method handler.
func RegisterBidiStream[Req, Resp any](s *Server, service, methodName string, codec Serializer[Req, Resp], h BidiStreamHandler[Req, Resp]) {
	desc := method.New(service, methodName, method.Bidi)
	s.register(desc, func(sc *ServerContext, call interceptor.Call) *status.Status {
		recv := func() (Req, bool, error) {
			var zero Req
			b, err := recvOneMessageRaw(call)
			if err == errEndOfStream {
				return zero, false, nil
			}
			if err != nil {
				return zero, false, err
			}
			req, derr := codec.DeserializeReq(b)
			if derr != nil {
				return zero, false, fmt.Errorf("deserializing request: %w", derr)
			}
			return req, true, nil
		}
		send := func(resp Resp) error {
			b, serr := codec.SerializeResp(resp)
			if serr != nil {
				return fmt.Errorf("serializing response: %w", serr)
			}
			return sendOneMessageRaw(call, b)
		}

		if herr := h(sc, recv, send); herr != nil {
			return coerceHandlerError(herr)
		}
		return status.New(status.OK, "")
	})
}

func coerceHandlerError(err error) *status.Status {
	return status.Convert(err)
}

// negotiateResponseCompressor picks the algorithm a server response may be
// compressed with, given the leading request metadata: the caller's own
// grpc-encoding choice, as long as it also names an algorithm the caller
// declared it can accept back and one this process has registered.
// Returns "" when no such algorithm exists, meaning responses go out
// uncompressed.
func negotiateResponseCompressor(leading metadata.MD) string {
	sent := leading.Get(transport.HeaderGRPCEncoding)
	if len(sent) != 1 {
		return ""
	}
	accepted := leading.Get(transport.HeaderGRPCAccept)
	name, ok := encoding.Negotiate(sent, accepted)
	if !ok {
		return ""
	}
	if _, ok := encoding.GetCompressor(name); !ok {
		return ""
	}
	return name
}

// Serve accepts streams from st until ctx is done or BeginGracefulShutdown
// completes draining. It blocks until then.
func (s *Server) Serve(ctx context.Context, st transport.ServerTransport) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-s.shutdown:
				return st.Close()
			default:
			}

			stream, err := st.Accept(gctx)
			if err != nil {
				return err
			}

			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				stream.Close()
				continue
			}

			if err := s.sem.Acquire(gctx, 1); err != nil {
				stream.Close()
				return err
			}
			g.Go(func() error {
				defer s.sem.Release(1)
				s.handleStream(gctx, stream)
				return nil
			})
		}
	})

	return g.Wait()
}

// BeginGracefulShutdown stops accepting new streams and waits for
// in-flight ones to finish, or for ctx to be cancelled.
func (s *Server) BeginGracefulShutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		// Acquiring the full weight blocks until every in-flight stream
		// has released its slot.
		s.sem.Acquire(context.Background(), s.cfg.MaxConcurrentStreams)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleStream drives one accepted stream through method resolution,
// deadline setup, and the interceptor chain. It never lets an error escape
// to its caller; every outcome, including a malformed inbound stream,
// terminates the stream with a written Status.
func (s *Server) handleStream(parentCtx context.Context, stream transport.Stream) {
	traceID := uuid.NewString()
	log := s.cfg.Logger.With("trace_id", traceID)
	defer stream.Close()

	// Step 1: await exactly one leading Metadata part.
	first, err := stream.Recv(parentCtx)
	if err != nil {
		log.Warn("stream closed before leading metadata", "error", err)
		st := status.Newf(status.Unknown, "reading leading metadata: %v", err)
		if errors.Is(err, io.EOF) {
			st = status.New(status.Internal, "Invalid inbound server stream; no leading metadata received.")
		}
		s.writeStatusOnly(parentCtx, stream, st)
		return
	}
	if first.Kind != transport.PartMetadata {
		s.writeStatusOnly(parentCtx, stream, status.New(status.Internal,
			"Invalid inbound server stream; received message bytes at start of stream."))
		return
	}

	fullMethod := first.MD.Get(transport.HeaderPath)
	if len(fullMethod) != 1 {
		s.writeStatusOnly(parentCtx, stream, status.New(status.Internal, "missing :path header"))
		return
	}

	s.mu.Lock()
	rm, ok := s.methods[fullMethod[0]]
	s.mu.Unlock()
	if !ok {
		s.writeStatusOnly(parentCtx, stream, status.New(status.Unimplemented, fmt.Sprintf("unknown method %s", fullMethod[0])))
		return
	}

	// Step 2: derive the deadline, minimum of grpc-timeout and any
	// already-present context deadline (transport-imposed).
	ctx := parentCtx
	cancelFn := func() {}
	if timeouts := first.MD.Get(transport.HeaderGRPCTimeout); len(timeouts) == 1 {
		d, derr := DecodeTimeout(timeouts[0])
		if derr != nil {
			s.writeStatusOnly(parentCtx, stream, status.Newf(status.Internal, "invalid grpc-timeout: %v", derr))
			return
		}
		ctx, cancelFn = context.WithTimeout(ctx, d)
	}
	defer cancelFn()

	token := cancel.NewToken()
	ctx, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()
	ctx = metadata.NewIncomingContext(ctx, first.MD)

	sc := newServerContext(ctx, rm.desc, first.MD, token)

	// Negotiate a response compressor: the algorithm the caller used for its
	// own request, provided it also appears in the caller's
	// grpc-accept-encoding candidates (so it can decode a response compressed
	// the same way) and names a locally registered encoding.Compressor.
	negotiatedEncoding := negotiateResponseCompressor(first.MD)
	if negotiatedEncoding != "" {
		sc.SetHeader(transport.HeaderGRPCEncoding, negotiatedEncoding)
	}

	inState := callstate.New(callstate.RequestDirection, rm.desc.Kind)
	outState := callstate.New(callstate.ResponseDirection, rm.desc.Kind)
	// The leading request metadata was already observed by reading `first`;
	// fold that into inState so later Recv calls enforce cardinality.
	inState.Observe(&transport.Part{Kind: transport.PartMetadata})

	call := &serverCall{
		ctx: ctx, desc: rm.desc, stream: stream,
		inState: inState, outState: outState,
		sc:                   sc,
		sendCompressor:       negotiatedEncoding,
		compressionThreshold: s.cfg.CompressionThreshold,
	}

	// errgroup ties the handler task and the deadline-watch task together:
	// whichever finishes/cancels first tears down the other.
	g, gctx := errgroup.WithContext(ctx)
	var finalStatus *status.Status

	g.Go(func() error {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				token.Cancel(cancelSourceFor(ctx))
			}
		case <-token.Done():
		}
		return nil
	})
	g.Go(func() error {
		defer token.Cancel(cancel.SourceCaller)
		h := interceptor.Chain(s.interceptors, func(c interceptor.Call) *status.Status {
			return rm.handler(sc, c)
		})
		finalStatus = h(call)
		return nil
	})
	g.Wait()

	if ctx.Err() != nil && finalStatus.Code() == status.OK {
		finalStatus = status.FromContextError(ctx.Err())
	}

	// OK is only a valid outcome if the handler produced the message count
	// its RPC kind requires on both directions.
	if finalStatus.Code() == status.OK && (!inState.Satisfied() || !outState.Satisfied()) {
		finalStatus = status.New(status.Internal, "handler violated message cardinality for its RPC kind")
	}

	finalStatus = finalStatus.WithTrailer(metadata.Join(finalStatus.Trailer(), sc.responseTrailer()))
	call.finish(ctx, finalStatus)

	log.Info("rpc finished",
		"method", rm.desc.FullMethod,
		"code", finalStatus.Code().String(),
		"received", humanize.Bytes(uint64(inState.BytesSeen())),
		"sent", humanize.Bytes(uint64(outState.BytesSeen())),
	)
}

func cancelSourceFor(ctx context.Context) cancel.Source {
	if ctx.Err() == context.DeadlineExceeded {
		return cancel.SourceDeadline
	}
	return cancel.SourceCaller
}

// writeStatusOnly handles the trailers-only failure path for framing
// violations discovered before any response metadata or messages were
// ever sent.
func (s *Server) writeStatusOnly(ctx context.Context, stream transport.Stream, st *status.Status) {
	stream.Send(ctx, &transport.Part{Kind: transport.PartStatus, Status: st})
}
