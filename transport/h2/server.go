// Package h2 is the one concrete transport.ServerTransport/
// transport.ClientTransport pair this module ships, carrying the
// transport/framing wire format over cleartext HTTP/2 (h2c) via
// golang.org/x/net/http2 — the pack's own indirect net/http2 dependency,
// used the way it is meant to be rather than reimplementing frame
// multiplexing by hand. A pluggable transport is explicitly a non-goal of
// the core call machinery itself, but a complete module still ships a
// reference implementation of the plug.
package h2

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sadopc/rpccore/encoding"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/transport"
	"github.com/sadopc/rpccore/transport/framing"
)

// Server listens for cleartext HTTP/2 connections and turns each inbound
// request into one transport.Stream. One HTTP/2 stream (one POST request)
// is one RPC, matching upstream gRPC's own mapping.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	accepted   chan *serverStream
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewServer starts listening on addr and returns immediately; Accept
// drains requests as they arrive on a background goroutine running the
// h2c handler.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("h2: listening on %s: %w", addr, err)
	}

	s := &Server{
		listener: ln,
		accepted: make(chan *serverStream),
		closed:   make(chan struct{}),
	}
	h2s := &http2.Server{}
	s.httpServer = &http.Server{Handler: h2c.NewHandler(http.HandlerFunc(s.serveHTTP), h2s)}

	go s.httpServer.Serve(ln)
	return s, nil
}

// Addr returns the listener's bound address, useful when addr was given
// as ":0" to pick an ephemeral port.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "h2: response writer does not support flushing", http.StatusInternalServerError)
		return
	}

	leading := metadata.MD{}
	leading.Set(transport.HeaderPath, r.URL.Path)
	leading.Set(transport.HeaderMethod, r.Method)
	for k, vals := range r.Header {
		leading.Append(strings.ToLower(k), vals...)
	}

	// The compressor this stream's messages (both directions) are framed
	// with, if the caller named a registered algorithm via grpc-encoding;
	// a nil compressor makes framing.Encode/Decompress fall back to
	// uncompressed frames.
	var comp encoding.Compressor
	if names := leading.Get(transport.HeaderGRPCEncoding); len(names) == 1 {
		comp, _ = encoding.GetCompressor(names[0])
	}

	ss := &serverStream{
		w:       w,
		flusher: flusher,
		body:    r.Body,
		dec:     framing.NewDecoder(r.Body, 0),
		comp:    comp,
		done:    make(chan struct{}),
		inbox:   make(chan *transport.Part, 1),
	}
	ss.inbox <- &transport.Part{Kind: transport.PartMetadata, MD: leading}

	select {
	case s.accepted <- ss:
	case <-r.Context().Done():
		return
	case <-s.closed:
		return
	}

	<-ss.done
}

// Accept blocks until a request arrives, the server is closed, or ctx is
// done.
func (s *Server) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case ss, ok := <-s.accepted:
		if !ok {
			return nil, fmt.Errorf("h2: server closed")
		}
		return ss, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, fmt.Errorf("h2: server closed")
	}
}

// Close stops the listener; in-flight streams finish on their own.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.httpServer.Close()
	})
	return nil
}

// serverStream is one accepted HTTP/2 request/response pair viewed as a
// transport.Stream. The first Recv always yields the leading request
// Metadata synthesized from the HTTP headers (already available by the
// time the handler runs); subsequent Recvs decode message frames from the
// request body.
type serverStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	body    interface{ Close() error }
	dec     *framing.Decoder
	comp    encoding.Compressor
	inbox   chan *transport.Part

	mu   sync.Mutex
	done chan struct{}
}

func (ss *serverStream) Recv(ctx context.Context) (*transport.Part, error) {
	select {
	case p := <-ss.inbox:
		return p, nil
	default:
	}

	compressed, payload, err := ss.dec.Next()
	if err != nil {
		return nil, err
	}
	if compressed {
		payload, err = framing.Decompress(payload, ss.comp)
		if err != nil {
			return nil, fmt.Errorf("h2: decompressing request message: %w", err)
		}
	}
	return &transport.Part{Kind: transport.PartMessage, Message: payload, Compressed: compressed}, nil
}

// Send expects the part sequence the executor's lazy-header-flush always
// produces: exactly one PartMetadata first, then zero or more
// PartMessage, then exactly one terminal PartStatus. It does not defend
// against a caller sending messages before metadata; that ordering is
// callstate.Machine's job one layer up.
func (ss *serverStream) Send(ctx context.Context, part *transport.Part) error {
	switch part.Kind {
	case transport.PartMetadata:
		part.MD.Range(func(k string, vals []string) bool {
			for _, v := range vals {
				ss.w.Header().Add(k, v)
			}
			return true
		})
		ss.w.WriteHeader(http.StatusOK)
		ss.flusher.Flush()
		return nil
	case transport.PartMessage:
		frame, err := framing.Encode(part.Message, part.Compressed, ss.comp)
		if err != nil {
			return err
		}
		if _, err := ss.w.Write(frame); err != nil {
			return err
		}
		ss.flusher.Flush()
		return nil
	case transport.PartStatus:
		ss.w.Header().Set(http.TrailerPrefix+transport.HeaderGRPCStatus, fmt.Sprintf("%d", part.Status.Code()))
		if msg := part.Status.Message(); msg != "" {
			ss.w.Header().Set(http.TrailerPrefix+transport.HeaderGRPCMessage, msg)
		}
		part.Status.Trailer().Range(func(k string, vals []string) bool {
			for _, v := range vals {
				ss.w.Header().Add(http.TrailerPrefix+k, v)
			}
			return true
		})
		ss.flusher.Flush()
		return nil
	default:
		return fmt.Errorf("h2: unknown part kind %v", part.Kind)
	}
}

func (ss *serverStream) CloseSend() error { return nil }

func (ss *serverStream) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	select {
	case <-ss.done:
	default:
		close(ss.done)
	}
	return ss.body.Close()
}
