// Package status implements the gRPC Status entity: a numeric code, a
// human message, and trailing metadata, with an optional set of structured
// details (google.golang.org/genproto's "richer error model").
package status

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/sadopc/rpccore/metadata"
)

// Status is both a value type and an error. Zero value is invalid; build
// one with New/Newf/FromError.
type Status struct {
	code    Code
	message string
	trailer metadata.MD
	details []*anypb.Any
}

// New builds a Status with the given code and message.
func New(code Code, message string) *Status {
	return &Status{code: code, message: message}
}

// Newf builds a Status with a formatted message.
func Newf(code Code, format string, a ...any) *Status {
	return New(code, fmt.Sprintf(format, a...))
}

// Code returns the status code, OK for a nil Status.
func (s *Status) Code() Code {
	if s == nil {
		return OK
	}
	return s.code
}

// Message returns the human-readable message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Trailer returns the trailing metadata attached to this status, if any.
func (s *Status) Trailer() metadata.MD {
	if s == nil {
		return metadata.MD{}
	}
	return s.trailer
}

// WithTrailer returns a copy of s carrying the given trailing metadata.
func (s *Status) WithTrailer(md metadata.MD) *Status {
	cp := s.clone()
	cp.trailer = md
	return cp
}

// WithDetails packs each detail message into the status's detail list,
// mirroring upstream gRPC's richer error model (google.golang.org/genproto's
// errdetails messages travel this way).
func (s *Status) WithDetails(details ...proto.Message) (*Status, error) {
	cp := s.clone()
	for _, d := range details {
		any, err := anypb.New(d)
		if err != nil {
			return nil, fmt.Errorf("status: packing detail %T: %w", d, err)
		}
		cp.details = append(cp.details, any)
	}
	return cp, nil
}

// Details returns the detail messages still packed as anypb.Any values;
// callers unpack the ones whose type they know.
func (s *Status) Details() []*anypb.Any {
	if s == nil {
		return nil
	}
	return s.details
}

func (s *Status) clone() *Status {
	if s == nil {
		return &Status{}
	}
	return &Status{
		code:    s.code,
		message: s.message,
		trailer: s.trailer.Copy(),
		details: append([]*anypb.Any(nil), s.details...),
	}
}

// Err returns s as an error, or nil if s is nil or its code is OK.
func (s *Status) Err() error {
	if s == nil || s.code == OK {
		return nil
	}
	return s
}

// Error implements the error interface.
func (s *Status) Error() string {
	if s == nil {
		return "rpc error: code = OK"
	}
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.code, s.message)
}

// Is allows errors.Is(err, target) to compare by code.
func (s *Status) Is(target error) bool {
	var other *Status
	if !errors.As(target, &other) {
		return false
	}
	return s.Code() == other.Code()
}

// FromError extracts a *Status from err. If err is nil, it returns an OK
// status and true. If err does not carry a Status, it returns an Unknown
// status wrapping err's message and false: any other error escaping a
// handler or interceptor is opaque to its caller.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return New(OK, ""), true
	}
	var s *Status
	if errors.As(err, &s) {
		return s, true
	}
	return New(Unknown, err.Error()), false
}

// Convert is FromError without the ok flag, for callers that always want a
// Status back regardless of whether err already carried one.
func Convert(err error) *Status {
	s, _ := FromError(err)
	return s
}

// FromContextError maps a context error (ctx.Err()) to the status code a
// deadline or cancellation should surface as.
func FromContextError(err error) *Status {
	switch {
	case err == nil:
		return New(OK, "")
	case errors.Is(err, context.DeadlineExceeded):
		return New(DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return New(Canceled, err.Error())
	default:
		return New(Unknown, err.Error())
	}
}
