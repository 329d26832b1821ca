package h2

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/http2"

	"github.com/sadopc/rpccore/encoding"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
	"github.com/sadopc/rpccore/transport/framing"
)

// Client is a transport.ClientTransport dialing a cleartext HTTP/2 (h2c)
// peer. One OpenStream call is one HTTP/2 request/response pair.
type Client struct {
	addr string
	rt   *http2.Transport
}

// NewClient builds a Client that will dial addr (host:port, no scheme)
// over h2c on every OpenStream.
func NewClient(addr string) *Client {
	return &Client{
		addr: addr,
		rt: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func (c *Client) OpenStream(ctx context.Context, fullMethod string) (transport.Stream, error) {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.addr+fullMethod, pr)
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("h2: building request for %s: %w", fullMethod, err)
	}

	cs := &clientStream{req: req, rt: c.rt, bodyWriter: pw, respCh: make(chan clientResp, 1)}
	return cs, nil
}

func (c *Client) Close() error { c.rt.CloseIdleConnections(); return nil }

type clientResp struct {
	resp *http.Response
	err  error
}

// clientStream drives one HTTP/2 request/response pair. Send writes the
// leading Metadata as request headers and only then starts the round trip,
// so the headers are in place before the request goes out; subsequent
// messages are written as framed bytes into the request body pipe. Recv
// reads the response the same way the server writes it.
type clientStream struct {
	req        *http.Request
	rt         *http2.Transport
	bodyWriter *io.PipeWriter

	headersSet bool
	comp       encoding.Compressor

	respCh  chan clientResp
	resp    *http.Response
	dec     *framing.Decoder
	started bool
}

func (cs *clientStream) run(rt *http2.Transport) {
	resp, err := rt.RoundTrip(cs.req)
	cs.respCh <- clientResp{resp: resp, err: err}
}

func (cs *clientStream) Send(ctx context.Context, part *transport.Part) error {
	switch part.Kind {
	case transport.PartMetadata:
		if cs.headersSet {
			return fmt.Errorf("h2: leading metadata already sent")
		}
		cs.headersSet = true
		part.MD.Range(func(k string, vals []string) bool {
			switch strings.ToLower(k) {
			case transport.HeaderPath, transport.HeaderMethod:
				// carried by the HTTP request line itself, not a header.
			default:
				for _, v := range vals {
					cs.req.Header.Add(k, v)
				}
			}
			return true
		})
		if name := cs.req.Header.Get(transport.HeaderGRPCEncoding); name != "" {
			cs.comp, _ = encoding.GetCompressor(name)
		}
		go cs.run(cs.rt)
		return nil
	case transport.PartMessage:
		frame, err := framing.Encode(part.Message, part.Compressed, cs.comp)
		if err != nil {
			return err
		}
		_, err = cs.bodyWriter.Write(frame)
		return err
	default:
		return fmt.Errorf("h2: client cannot send a %s part", part.Kind)
	}
}

func (cs *clientStream) CloseSend() error {
	return cs.bodyWriter.Close()
}

// Recv yields the response's leading Metadata once the server's response
// headers arrive, then decodes message frames, then synthesizes the
// terminal PartStatus from the response trailers once the body reaches
// EOF.
func (cs *clientStream) Recv(ctx context.Context) (*transport.Part, error) {
	if cs.resp == nil {
		select {
		case r := <-cs.respCh:
			if r.err != nil {
				return nil, fmt.Errorf("h2: round trip: %w", r.err)
			}
			cs.resp = r.resp
			cs.dec = framing.NewDecoder(cs.resp.Body, 0)
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		md := metadata.MD{}
		for k, vals := range cs.resp.Header {
			md.Append(strings.ToLower(k), vals...)
		}
		return &transport.Part{Kind: transport.PartMetadata, MD: md}, nil
	}

	compressed, payload, err := cs.dec.Next()
	if err == io.EOF {
		return cs.terminalStatus(), nil
	}
	if err != nil {
		return nil, err
	}
	if compressed {
		payload, err = framing.Decompress(payload, cs.comp)
		if err != nil {
			return nil, fmt.Errorf("h2: decompressing response message: %w", err)
		}
	}
	return &transport.Part{Kind: transport.PartMessage, Message: payload, Compressed: compressed}, nil
}

func (cs *clientStream) terminalStatus() *transport.Part {
	codeStr := cs.resp.Trailer.Get(transport.HeaderGRPCStatus)
	code, _ := parseCode(codeStr)
	st := status.New(code, cs.resp.Trailer.Get(transport.HeaderGRPCMessage))

	trailer := metadata.MD{}
	for k, vals := range cs.resp.Trailer {
		lk := strings.ToLower(k)
		if lk == transport.HeaderGRPCStatus || lk == transport.HeaderGRPCMessage {
			continue
		}
		trailer.Append(lk, vals...)
	}
	st = st.WithTrailer(trailer)

	return &transport.Part{Kind: transport.PartStatus, Status: st}
}

func parseCode(s string) (status.Code, error) {
	if s == "" {
		return status.OK, nil
	}
	var n uint32
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return status.Unknown, err
	}
	return status.Code(n), nil
}

func (cs *clientStream) Close() error {
	cs.bodyWriter.Close()
	if cs.resp != nil {
		return cs.resp.Body.Close()
	}
	return nil
}
