// Package retrythrottle implements a leaky token bucket that rate-limits
// automatic retries, shared across calls on one transport and safe for
// concurrent use.
package retrythrottle

import "sync"

// scale avoids float drift by tracking tokens as integers scaled by this
// constant. 1000 gives tokenRatio three decimal digits of precision,
// matching upstream gRPC's own retry-throttling design.
const scale = 1000

// Throttle is a per-transport token bucket gating automatic retries.
type Throttle struct {
	mu         sync.Mutex
	maxTokens  int64 // scaled by `scale`
	tokenRatio int64 // scaled by `scale`, added on each success
	tokens     int64 // scaled by `scale`, current balance
}

// New builds a Throttle. maxTokens must be > 0; tokenRatio must be in
// (0, 1]. The bucket starts full, matching upstream gRPC's
// ReplaceRetryThrottling default of a healthy transport.
func New(maxTokens float64, tokenRatio float64) *Throttle {
	if maxTokens <= 0 {
		panic("retrythrottle: maxTokens must be positive")
	}
	if tokenRatio <= 0 || tokenRatio > 1 {
		panic("retrythrottle: tokenRatio must be in (0, 1]")
	}
	scaledMax := int64(maxTokens * scale)
	return &Throttle{
		maxTokens:  scaledMax,
		tokenRatio: int64(tokenRatio * scale),
		tokens:     scaledMax,
	}
}

// OnFailure subtracts one scaled unit, saturating at 0, on a call ending in
// a retryable failure.
func (t *Throttle) OnFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens -= scale
	if t.tokens < 0 {
		t.tokens = 0
	}
}

// OnSuccess adds tokenRatio scaled units, saturating at maxTokens.
func (t *Throttle) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += t.tokenRatio
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
}

// Allow reports whether a retry is currently permitted: tokens > maxTokens/2.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens > t.maxTokens/2
}

// Tokens returns the current unscaled token balance, for diagnostics.
func (t *Throttle) Tokens() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.tokens) / scale
}
