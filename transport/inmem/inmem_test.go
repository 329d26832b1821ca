package inmem

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

func TestOpenStreamDeliversToAccept(t *testing.T) {
	tr := New(0)
	defer tr.Server().Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	var serverStream transport.Stream
	go func() {
		var err error
		serverStream, err = tr.Server().Accept(ctx)
		errc <- err
	}()

	clientStream, err := tr.Client().OpenStream(ctx, "/pkg.Service/Method")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if serverStream == nil {
		t.Fatal("Accept returned nil stream with nil error")
	}

	leading := &transport.Part{Kind: transport.PartMetadata, MD: metadata.Pairs(":path", "/pkg.Service/Method")}
	go func() {
		if err := clientStream.Send(ctx, leading); err != nil {
			t.Errorf("client Send: %v", err)
		}
	}()

	got, err := serverStream.Recv(ctx)
	if err != nil {
		t.Fatalf("server Recv: %v", err)
	}
	if got.Kind != transport.PartMetadata || got.MD.Get(":path")[0] != "/pkg.Service/Method" {
		t.Fatalf("unexpected leading part: %+v", got)
	}
}

func TestCloseSendLeavesInboundReadable(t *testing.T) {
	tr := New(1)
	defer tr.Server().Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientStream, err := tr.Client().OpenStream(ctx, "/pkg.Service/Method")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	serverStream, err := tr.Server().Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	req := &transport.Part{Kind: transport.PartMessage, Message: []byte("ping")}
	done := make(chan struct{})
	go func() {
		clientStream.Send(ctx, req)
		clientStream.CloseSend()
		close(done)
	}()

	if _, err := serverStream.Recv(ctx); err != nil {
		t.Fatalf("server Recv request: %v", err)
	}
	<-done

	resp := &transport.Part{Kind: transport.PartStatus, Status: status.New(status.OK, "")}
	if err := serverStream.Send(ctx, resp); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	got, err := clientStream.Recv(ctx)
	if err != nil {
		t.Fatalf("client Recv after CloseSend: %v", err)
	}
	if got.Kind != transport.PartStatus || got.Status.Code() != status.OK {
		t.Fatalf("unexpected response part: %+v", got)
	}
}

func TestAcceptAfterCloseReturnsErrClosed(t *testing.T) {
	tr := New(0)
	tr.Server().Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := tr.Server().Accept(ctx); err != ErrClosed {
		t.Fatalf("Accept after Close: got %v, want ErrClosed", err)
	}
	if _, err := tr.Client().OpenStream(ctx, "/pkg.Service/Method"); err != ErrClosed {
		t.Fatalf("OpenStream after Close: got %v, want ErrClosed", err)
	}
}

func TestClientCloseSendUnblocksServerRecvWithoutTearingDownResponseSide(t *testing.T) {
	tr := New(1)
	defer tr.Server().Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientStream, err := tr.Client().OpenStream(ctx, "/pkg.Service/Method")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	serverStream, err := tr.Server().Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	req := &transport.Part{Kind: transport.PartMessage, Message: []byte("ping")}
	if err := clientStream.Send(ctx, req); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if err := clientStream.CloseSend(); err != nil {
		t.Fatalf("client CloseSend: %v", err)
	}

	if _, err := serverStream.Recv(ctx); err != nil {
		t.Fatalf("server Recv request: %v", err)
	}
	if _, err := serverStream.Recv(ctx); err != io.EOF {
		t.Fatalf("server Recv after client CloseSend: got %v, want io.EOF", err)
	}

	resp := &transport.Part{Kind: transport.PartMessage, Message: []byte("pong")}
	if err := serverStream.Send(ctx, resp); err != nil {
		t.Fatalf("server Send after client half-close: %v", err)
	}
	got, err := clientStream.Recv(ctx)
	if err != nil {
		t.Fatalf("client Recv after own CloseSend: %v", err)
	}
	if got.Kind != transport.PartMessage || string(got.Message) != "pong" {
		t.Fatalf("unexpected response part: %+v", got)
	}
}

func TestServerCloseEndsClientRecvWithEOF(t *testing.T) {
	tr := New(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	clientStream, err := tr.Client().OpenStream(ctx, "/pkg.Service/Method")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	serverStream, err := tr.Server().Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	serverStream.Close()

	if _, err := clientStream.Recv(ctx); err != io.EOF {
		t.Fatalf("client Recv after server stream Close: got %v, want io.EOF", err)
	}
}
