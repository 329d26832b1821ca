package rpccore

import (
	"testing"
	"time"
)

func TestDecodeTimeoutScenarioD(t *testing.T) {
	d, err := DecodeTimeout("100m")
	if err != nil {
		t.Fatalf("DecodeTimeout: %v", err)
	}
	if d != 100*time.Millisecond {
		t.Errorf("d = %v, want 100ms", d)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []time.Duration{
		5 * time.Second,
		250 * time.Millisecond,
		2 * time.Hour,
		1 * time.Nanosecond,
	}
	for _, want := range cases {
		encoded := EncodeTimeout(want)
		got, err := DecodeTimeout(encoded)
		if err != nil {
			t.Fatalf("DecodeTimeout(%q): %v", encoded, err)
		}
		if got != want {
			t.Errorf("round trip %v -> %q -> %v", want, encoded, got)
		}
	}
}

func TestDecodeTimeoutRejectsMalformed(t *testing.T) {
	cases := []string{"", "x", "10X", "-5S"}
	for _, c := range cases {
		if _, err := DecodeTimeout(c); err == nil {
			t.Errorf("DecodeTimeout(%q) = nil error, want error", c)
		}
	}
}
