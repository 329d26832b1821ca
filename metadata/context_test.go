package metadata

import (
	"context"
	"testing"
)

func TestIncomingContextRoundTrip(t *testing.T) {
	ctx := NewIncomingContext(context.Background(), Pairs("x-trace", "abc"))

	md, ok := FromIncomingContext(ctx)
	if !ok {
		t.Fatal("FromIncomingContext ok = false")
	}
	if got := md.Get("x-trace"); len(got) != 1 || got[0] != "abc" {
		t.Errorf("Get(x-trace) = %v, want [abc]", got)
	}
}

func TestFromIncomingContextMissing(t *testing.T) {
	_, ok := FromIncomingContext(context.Background())
	if ok {
		t.Error("ok = true for a context with no incoming metadata")
	}
}

func TestAppendToOutgoingContextMerges(t *testing.T) {
	ctx := NewOutgoingContext(context.Background(), Pairs("a", "1"))
	ctx = AppendToOutgoingContext(ctx, "b", "2")

	md, ok := FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("FromOutgoingContext ok = false")
	}
	if md.Len() != 2 {
		t.Errorf("Len() = %d, want 2", md.Len())
	}
}

func TestAppendToOutgoingContextOddArgsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for odd argument count")
		}
	}()
	AppendToOutgoingContext(context.Background(), "only-key")
}
