package rpccore_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sadopc/rpccore"
	"github.com/sadopc/rpccore/encoding/gzipcodec"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
	"github.com/sadopc/rpccore/transport/inmem"
)

func init() {
	gzipcodec.Register(0)
}

// textMsg mirrors the {text:"..."} wire shape used throughout these
// scenarios, as opposed to rpccore_test.go's bare-string stringCodec.
type textMsg struct {
	Text string `json:"text"`
}

type textCodec struct{}

func (textCodec) SerializeReq(m textMsg) ([]byte, error)    { return json.Marshal(m) }
func (textCodec) DeserializeReq(b []byte) (textMsg, error)  { var m textMsg; err := json.Unmarshal(b, &m); return m, err }
func (textCodec) SerializeResp(m textMsg) ([]byte, error)   { return json.Marshal(m) }
func (textCodec) DeserializeResp(b []byte) (textMsg, error) { var m textMsg; err := json.Unmarshal(b, &m); return m, err }

// newScenarioServer wires up the handlers scenario.U/D/S/C drive through
// the high-level Client, sharing one /echo.Echo/Get handler between U and
// D the way the two scenarios share a method in practice: it sleeps,
// observing cancellation, long enough that only a tight deadline notices.
func newScenarioServer(t *testing.T, cfg rpccore.ServerConfig) (*inmem.Transport, func()) {
	t.Helper()
	srv := rpccore.NewServer(cfg)

	rpccore.RegisterUnary(srv, "echo.Echo", "Get", textCodec{}, func(sc *rpccore.ServerContext, req textMsg) (textMsg, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-sc.Context().Done():
			return textMsg{}, sc.Context().Err()
		}
		return req, nil
	})

	rpccore.RegisterServerStream(srv, "echo.Echo", "Expand", textCodec{}, func(sc *rpccore.ServerContext, req textMsg, send func(textMsg) error) error {
		for _, word := range strings.Fields(req.Text) {
			if err := send(textMsg{Text: word}); err != nil {
				return err
			}
		}
		return nil
	})

	rpccore.RegisterClientStream(srv, "echo.Echo", "Collect", textCodec{}, func(sc *rpccore.ServerContext, recv func() (textMsg, bool, error)) (textMsg, error) {
		var words []string
		for {
			msg, ok, err := recv()
			if err != nil {
				return textMsg{}, err
			}
			if !ok {
				break
			}
			words = append(words, msg.Text)
		}
		return textMsg{Text: strings.Join(words, " ")}, nil
	})

	rpccore.RegisterBidiStream(srv, "echo.Echo", "Update", textCodec{}, func(sc *rpccore.ServerContext, recv func() (textMsg, bool, error), send func(textMsg) error) error {
		for {
			msg, ok, err := recv()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := send(msg); err != nil {
				return err
			}
		}
	})

	tr := inmem.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Serve(ctx, tr.Server())
	}()
	cleanup := func() {
		cancel()
		wg.Wait()
	}
	return tr, cleanup
}

// Scenario U: unary echo, no timeout, no TLS — status OK, response echoes
// the request unchanged.
func TestScenarioU(t *testing.T) {
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{})
	defer cleanup()
	client := rpccore.NewClient(tr.Client(), rpccore.ClientConfig{})

	resp, err := rpccore.CallUnary(context.Background(), client, "echo.Echo", "Get", textCodec{}, textMsg{Text: "hi"})
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Text != "hi" {
		t.Fatalf("got %q, want %q", resp.Text, "hi")
	}
}

// Scenario D: grpc-timeout=100ms against a handler that sleeps 500ms —
// the client observes DeadlineExceeded; the handler's own context is
// cancelled rather than running to completion.
func TestScenarioD(t *testing.T) {
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{})
	defer cleanup()
	client := rpccore.NewClient(tr.Client(), rpccore.ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := rpccore.CallUnary(ctx, client, "echo.Echo", "Get", textCodec{}, textMsg{Text: "hi"})
	if err == nil {
		t.Fatal("expected a deadline error, got nil")
	}
	if st := status.Convert(err); st.Code() != status.DeadlineExceeded {
		t.Fatalf("got code %v, want DeadlineExceeded", st.Code())
	}
}

// Scenario S: server streaming splits "a b c" into three messages
// delivered in order, followed by status OK.
func TestScenarioS(t *testing.T) {
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{})
	defer cleanup()
	client := rpccore.NewClient(tr.Client(), rpccore.ClientConfig{})

	var got []string
	err := rpccore.CallServerStream(context.Background(), client, "echo.Echo", "Expand", textCodec{}, textMsg{Text: "a b c"},
		func(resp textMsg) error {
			got = append(got, resp.Text)
			return nil
		})
	if err != nil {
		t.Fatalf("CallServerStream: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// Scenario C: client streaming collects "a", "b", "c" into one response
// "a b c", followed by status OK.
func TestScenarioC(t *testing.T) {
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{})
	defer cleanup()
	client := rpccore.NewClient(tr.Client(), rpccore.ClientConfig{})

	words := []string{"a", "b", "c"}
	i := 0
	resp, err := rpccore.CallClientStream(context.Background(), client, "echo.Echo", "Collect", textCodec{},
		func() (textMsg, bool, error) {
			if i >= len(words) {
				return textMsg{}, false, nil
			}
			w := words[i]
			i++
			return textMsg{Text: w}, true, nil
		})
	if err != nil {
		t.Fatalf("CallClientStream: %v", err)
	}
	if resp.Text != "a b c" {
		t.Fatalf("got %q, want %q", resp.Text, "a b c")
	}
}

// Scenario B: bidi streaming with grpc-encoding=gzip, three requests of
// varying size, expecting three responses in order, status OK, and each
// response's Compressed flag set exactly when its payload exceeds the
// server's compression threshold. The high-level Client shares one
// SendCompressor/threshold across every call it makes, so this scenario
// drives the raw transport.Stream directly to control the negotiation
// headers and inspect transport.Part.Compressed, which rpccore.Client's
// Call* entry points never expose to callers.
func TestScenarioB(t *testing.T) {
	const threshold = 20
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{CompressionThreshold: threshold})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tr.Client().OpenStream(ctx, "/echo.Echo/Update")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	leading := metadata.Pairs(
		transport.HeaderMethod, "POST",
		transport.HeaderPath, "/echo.Echo/Update",
		transport.HeaderGRPCEncoding, "gzip",
		transport.HeaderGRPCAccept, "gzip",
	)
	if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMetadata, MD: leading}); err != nil {
		t.Fatalf("sending leading metadata: %v", err)
	}

	texts := []string{
		"hi",
		"this is definitely long enough to exceed the threshold",
		"and another padded message well past the threshold too",
	}
	for _, text := range texts {
		b, err := json.Marshal(textMsg{Text: text})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMessage, Message: b}); err != nil {
			t.Fatalf("sending message: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	part, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv leading metadata: %v", err)
	}
	if part.Kind != transport.PartMetadata {
		t.Fatalf("got %s, want leading metadata", part.Kind)
	}

	var gotTexts []string
	var gotCompressed []bool
	for {
		part, err = stream.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if part.Kind == transport.PartStatus {
			if part.Status.Code() != status.OK {
				t.Fatalf("got status %v, want OK", part.Status.Code())
			}
			break
		}
		if part.Kind != transport.PartMessage {
			t.Fatalf("got %s, want message or status", part.Kind)
		}
		var m textMsg
		if err := json.Unmarshal(part.Message, &m); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		gotTexts = append(gotTexts, m.Text)
		gotCompressed = append(gotCompressed, part.Compressed)
	}

	if len(gotTexts) != len(texts) {
		t.Fatalf("got %d responses, want %d", len(gotTexts), len(texts))
	}
	for i, text := range texts {
		if gotTexts[i] != text {
			t.Fatalf("response %d: got %q, want %q", i, gotTexts[i], text)
		}
		b, _ := json.Marshal(textMsg{Text: text})
		wantCompressed := len(b) > threshold
		if gotCompressed[i] != wantCompressed {
			t.Fatalf("response %d (%d bytes, threshold %d): got Compressed=%v, want %v", i, len(b), threshold, gotCompressed[i], wantCompressed)
		}
	}
}

// Scenario F: a server receiving a Message frame before any Metadata
// closes the stream with status Internal and a fixed diagnostic message.
func TestScenarioF(t *testing.T) {
	tr, cleanup := newScenarioServer(t, rpccore.ServerConfig{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tr.Client().OpenStream(ctx, "/echo.Echo/Get")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMessage, Message: []byte("too early")}); err != nil {
		t.Fatalf("sending message: %v", err)
	}

	part, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if part.Kind != transport.PartStatus {
		t.Fatalf("got %s, want status", part.Kind)
	}
	if part.Status.Code() != status.Internal {
		t.Fatalf("got code %v, want Internal", part.Status.Code())
	}
	want := "Invalid inbound server stream; received message bytes at start of stream."
	if part.Status.Message() != want {
		t.Fatalf("got message %q, want %q", part.Status.Message(), want)
	}
}
