package scripted

import (
	"context"
	"testing"

	"github.com/sadopc/rpccore/interceptor"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/status"
	"github.com/sadopc/rpccore/transport"
)

type fakeCall struct {
	ctx context.Context
}

func (c *fakeCall) Context() context.Context     { return c.ctx }
func (c *fakeCall) MethodDesc() method.Descriptor { return method.New("echo.Echo", "Get", method.Unary) }
func (c *fakeCall) SendPart(*transport.Part) error     { return nil }
func (c *fakeCall) RecvPart() (*transport.Part, error) { return nil, nil }

func TestScriptSetsHeaderVisibleToNext(t *testing.T) {
	eng := New(0)
	var seenHeader []string

	tail := func(call interceptor.Call) *status.Status {
		md, _ := metadata.FromOutgoingContext(call.Context())
		seenHeader = md.Get("x-added")
		return status.New(status.OK, "")
	}

	ic := eng.Interceptor("adder", `rpc.setHeader("x-added", "yes")`)
	h := interceptor.Chain([]interceptor.Interceptor{ic}, tail)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.MD{})
	st := h(&fakeCall{ctx: ctx})

	if st.Code() != status.OK {
		t.Fatalf("Code() = %v, want OK", st.Code())
	}
	if len(seenHeader) != 1 || seenHeader[0] != "yes" {
		t.Errorf("x-added header = %v, want [yes]", seenHeader)
	}
}

func TestScriptRejectsShortCircuits(t *testing.T) {
	eng := New(0)
	tailRan := false
	tail := func(call interceptor.Call) *status.Status {
		tailRan = true
		return status.New(status.OK, "")
	}

	ic := eng.Interceptor("denier", `rpc.reject(7, "no auth")`) // 7 = PermissionDenied
	h := interceptor.Chain([]interceptor.Interceptor{ic}, tail)

	st := h(&fakeCall{ctx: context.Background()})

	if tailRan {
		t.Error("tail ran despite script rejection")
	}
	if st.Code() != status.PermissionDenied {
		t.Errorf("Code() = %v, want PermissionDenied", st.Code())
	}
}

func TestScriptErrorBecomesInternal(t *testing.T) {
	eng := New(0)
	tail := func(call interceptor.Call) *status.Status { return status.New(status.OK, "") }

	ic := eng.Interceptor("broken", `this is not valid javascript !!!`)
	h := interceptor.Chain([]interceptor.Interceptor{ic}, tail)

	st := h(&fakeCall{ctx: context.Background()})
	if st.Code() != status.Internal {
		t.Errorf("Code() = %v, want Internal", st.Code())
	}
}

func TestGetHeaderReadsExistingMetadata(t *testing.T) {
	eng := New(0)
	var gotInScript string
	tail := func(call interceptor.Call) *status.Status {
		md, _ := metadata.FromOutgoingContext(call.Context())
		gotInScript = md.Get("echo-me")[0]
		return status.New(status.OK, "")
	}

	ic := eng.Interceptor("echoer", `rpc.setHeader("echo-me", rpc.getHeader("incoming"))`)
	h := interceptor.Chain([]interceptor.Interceptor{ic}, tail)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("incoming", "hello"))
	h(&fakeCall{ctx: ctx})

	if gotInScript != "hello" {
		t.Errorf("echo-me = %q, want hello", gotInScript)
	}
}
