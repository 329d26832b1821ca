package rpccore

import (
	"fmt"
	"strconv"
	"time"
)

// timeoutUnits maps the single-character grpc-timeout unit suffixes
// (integer plus one of H|M|S|m|u|n) to their duration.
var timeoutUnits = map[byte]time.Duration{
	'H': time.Hour,
	'M': time.Minute,
	'S': time.Second,
	'm': time.Millisecond,
	'u': time.Microsecond,
	'n': time.Nanosecond,
}

var timeoutUnitOrder = []byte{'n', 'u', 'm', 'S', 'M', 'H'}

// maxTimeoutDigits bounds the integer component so EncodeTimeout never
// emits a value grpc-go's own implementation would reject as malformed;
// upstream gRPC caps it at 8 digits.
const maxTimeoutDigits = 8

// EncodeTimeout renders d as a grpc-timeout header value, trying units
// from nanoseconds up to hours and picking the finest one whose integer
// component fits within maxTimeoutDigits digits.
func EncodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "0n"
	}
	for _, u := range timeoutUnitOrder {
		unit := timeoutUnits[u]
		v := d / unit
		if v > 0 && len(strconv.FormatInt(int64(v), 10)) <= maxTimeoutDigits {
			return fmt.Sprintf("%d%c", v, u)
		}
	}
	// Duration too large even in hours; clamp to the largest representable
	// value rather than failing the call.
	return fmt.Sprintf("%d%c", int64(99999999), 'H')
}

// DecodeTimeout parses a grpc-timeout header value into a duration. An
// empty or malformed value is reported as an error; callers treat that as
// a protocol violation.
func DecodeTimeout(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("rpccore: grpc-timeout %q too short", s)
	}
	unitByte := s[len(s)-1]
	unit, ok := timeoutUnits[unitByte]
	if !ok {
		return 0, fmt.Errorf("rpccore: grpc-timeout %q has unknown unit %q", s, string(unitByte))
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rpccore: grpc-timeout %q has a non-integer magnitude: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("rpccore: grpc-timeout %q has a negative magnitude", s)
	}
	return time.Duration(n) * unit, nil
}
