package h2_test

import (
	"context"
	"testing"
	"time"

	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
	"github.com/sadopc/rpccore/transport/h2"
)

// TestRoundTripEchoesOneMessage drives one full request/response/trailer
// cycle through a real h2c listener on loopback, confirming the Part <->
// HTTP/2 header/body/trailer mapping on both sides of the wire.
func TestRoundTripEchoesOneMessage(t *testing.T) {
	srv, err := h2.NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stream, err := srv.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer stream.Close()

		first, err := stream.Recv(ctx)
		if err != nil || first.Kind != transport.PartMetadata {
			t.Errorf("first part: %+v, %v", first, err)
			return
		}
		if got := first.MD.Get(transport.HeaderPath); len(got) != 1 || got[0] != "/svc/Method" {
			t.Errorf("path header = %v", got)
		}

		msg, err := stream.Recv(ctx)
		if err != nil || msg.Kind != transport.PartMessage {
			t.Errorf("message part: %+v, %v", msg, err)
			return
		}
		if string(msg.Message) != "ping" {
			t.Errorf("payload = %q, want ping", msg.Message)
		}

		respMD := metadata.MD{}
		respMD.Set("x-reply", "yes")
		if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMetadata, MD: respMD}); err != nil {
			t.Errorf("send metadata: %v", err)
		}
		if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMessage, Message: []byte("pong")}); err != nil {
			t.Errorf("send message: %v", err)
		}
		if err := stream.Send(ctx, &transport.Part{Kind: transport.PartStatus, Status: status.New(status.OK, "")}); err != nil {
			t.Errorf("send status: %v", err)
		}
	}()

	client := h2.NewClient(srv.Addr().String())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx, "/svc/Method")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	reqMD := metadata.Pairs(transport.HeaderMethod, "POST", transport.HeaderPath, "/svc/Method")
	if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMetadata, MD: reqMD}); err != nil {
		t.Fatalf("send leading metadata: %v", err)
	}
	if err := stream.Send(ctx, &transport.Part{Kind: transport.PartMessage, Message: []byte("ping")}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	leading, err := stream.Recv(ctx)
	if err != nil || leading.Kind != transport.PartMetadata {
		t.Fatalf("leading response part: %+v, %v", leading, err)
	}

	msg, err := stream.Recv(ctx)
	if err != nil || msg.Kind != transport.PartMessage {
		t.Fatalf("response message part: %+v, %v", msg, err)
	}
	if string(msg.Message) != "pong" {
		t.Fatalf("payload = %q, want pong", msg.Message)
	}

	final, err := stream.Recv(ctx)
	if err != nil || final.Kind != transport.PartStatus {
		t.Fatalf("terminal part: %+v, %v", final, err)
	}
	if final.Status.Code() != status.OK {
		t.Fatalf("code = %v, want OK", final.Status.Code())
	}

	<-serverDone
}
