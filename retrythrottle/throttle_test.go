package retrythrottle

import "testing"

func TestStartsFullAndAllowsRetries(t *testing.T) {
	th := New(10, 0.1)
	if !th.Allow() {
		t.Error("Allow() = false for a fresh throttle, want true")
	}
}

func TestConsecutiveFailuresEventuallyBlock(t *testing.T) {
	th := New(10, 0.1)

	// maxTokens/2 = 5; after 5 failures tokens = 5, Allow() requires > 5.
	for i := 0; i < 5; i++ {
		if !th.Allow() {
			t.Fatalf("Allow() = false after %d failures, want true", i)
		}
		th.OnFailure()
	}
	if th.Allow() {
		t.Error("Allow() = true after 5 consecutive failures (tokens == maxTokens/2), want false")
	}
}

func TestSuccessRefillsSaturatingAtMax(t *testing.T) {
	th := New(10, 1.0)
	for i := 0; i < 20; i++ {
		th.OnFailure()
	}
	if th.Tokens() != 0 {
		t.Fatalf("Tokens() = %v, want 0 after draining", th.Tokens())
	}

	for i := 0; i < 20; i++ {
		th.OnSuccess()
	}
	if th.Tokens() != 10 {
		t.Errorf("Tokens() = %v, want 10 (saturated at maxTokens)", th.Tokens())
	}
}

func TestOnFailureSaturatesAtZero(t *testing.T) {
	th := New(5, 0.5)
	for i := 0; i < 100; i++ {
		th.OnFailure()
	}
	if th.Tokens() != 0 {
		t.Errorf("Tokens() = %v, want 0", th.Tokens())
	}
}

func TestNewPanicsOnInvalidTokenRatio(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for tokenRatio out of (0, 1]")
		}
	}()
	New(10, 1.5)
}

func TestNewPanicsOnNonPositiveMaxTokens(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive maxTokens")
		}
	}()
	New(0, 0.5)
}
