package protocodec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	var codec Codec[*wrapperspb.StringValue]

	original := wrapperspb.String("hi")
	data, err := codec.Serialize(original)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got := &wrapperspb.StringValue{}
	if err := codec.Deserialize(data, got); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !proto.Equal(original, got) {
		t.Errorf("round trip = %v, want %v", got, original)
	}
}

func TestLegacySerializeDeserializeRoundTrip(t *testing.T) {
	original := wrapperspb.String("legacy hi")
	data, err := LegacySerialize(original)
	if err != nil {
		t.Fatalf("LegacySerialize: %v", err)
	}

	got := &wrapperspb.StringValue{}
	if err := LegacyDeserialize(data, got); err != nil {
		t.Fatalf("LegacyDeserialize: %v", err)
	}
	if !proto.Equal(original, got) {
		t.Errorf("round trip = %v, want %v", got, original)
	}
}
