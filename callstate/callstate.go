// Package callstate implements the per-direction call state machine and
// message-cardinality enforcement: Idle -> Open -> HalfClosed -> Closed,
// plus the expected-request/response counts per RPC kind.
package callstate

import (
	"fmt"

	"github.com/sadopc/rpccore/method"
	"github.com/sadopc/rpccore/transport"
)

// State is one of the four per-direction states.
type State int

const (
	Idle State = iota
	Open
	HalfClosed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case HalfClosed:
		return "half-closed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction distinguishes the request side from the response side, since
// they have different legal PartKind vocabularies (requests never carry
// PartStatus).
type Direction int

const (
	RequestDirection Direction = iota
	ResponseDirection
)

// Machine tracks one direction of one call: its Idle/Open/HalfClosed/Closed
// state and the message count observed so far, validating both transition
// legality and the per-kind cardinality table.
type Machine struct {
	dir        Direction
	kind       method.Kind
	state      State
	leadingSet bool
	msgCount   int
	bytesSeen  int64
}

// New builds a Machine for one direction of a call of the given kind.
func New(dir Direction, kind method.Kind) *Machine {
	return &Machine{dir: dir, kind: kind}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Observe validates part against the current state and cardinality rules,
// advancing the state machine. It returns a plain protocol-violation error
// (carrying no status code) when part is illegal; each caller chooses the
// status it surfaces for that error.
func (m *Machine) Observe(part *transport.Part) error {
	switch part.Kind {
	case transport.PartMetadata:
		return m.observeMetadata()
	case transport.PartMessage:
		if err := m.observeMessage(); err != nil {
			return err
		}
		m.bytesSeen += int64(len(part.Message))
		return nil
	case transport.PartStatus:
		return m.observeStatus()
	default:
		return fmt.Errorf("callstate: unknown part kind %v", part.Kind)
	}
}

// BytesSeen returns the total message payload bytes observed on this
// direction so far, for diagnostic logging.
func (m *Machine) BytesSeen() int64 {
	return m.bytesSeen
}

func (m *Machine) observeMetadata() error {
	if m.leadingSet {
		return fmt.Errorf("callstate: metadata received after the leading metadata; at most one leading Metadata is permitted")
	}
	if m.state != Idle {
		return fmt.Errorf("callstate: metadata received in state %v, want idle", m.state)
	}
	m.leadingSet = true
	m.state = Open
	return nil
}

func (m *Machine) observeMessage() error {
	if !m.leadingSet {
		return fmt.Errorf("callstate: message received before leading metadata")
	}
	if m.state != Open {
		return fmt.Errorf("callstate: message received in state %v, want open", m.state)
	}

	maxAllowed, unlimited := m.maxMessages()
	if !unlimited && m.msgCount >= maxAllowed {
		return fmt.Errorf("callstate: %s kind permits at most %d message(s) on this direction, got another", m.kind, maxAllowed)
	}
	m.msgCount++
	return nil
}

func (m *Machine) observeStatus() error {
	if m.dir == RequestDirection {
		return fmt.Errorf("callstate: a request direction never carries a terminal Status")
	}
	// A response may end trailers-only: a Status with no leading metadata.
	if m.state == Closed {
		return fmt.Errorf("callstate: status received in state %v", m.state)
	}
	m.state = Closed
	return nil
}

// CloseSend marks this direction HalfClosed: the sender is done, though the
// receiver may still be draining already-sent parts.
func (m *Machine) CloseSend() error {
	if m.state != Open {
		return fmt.Errorf("callstate: CloseSend in state %v, want open", m.state)
	}
	m.state = HalfClosed
	return nil
}

// maxMessages returns the cardinality cap for this direction/kind, and
// whether it is unbounded.
func (m *Machine) maxMessages() (max int, unlimited bool) {
	streams := m.kind.StreamsRequests()
	if m.dir == ResponseDirection {
		streams = m.kind.StreamsResponses()
	}
	if streams {
		return 0, true
	}
	return 1, false
}

// Satisfied reports whether the cardinality observed so far would be valid
// for a successful call to end right now: the "exactly 1" cases require
// exactly one message, the "0+" cases accept any count including zero.
func (m *Machine) Satisfied() bool {
	_, unlimited := m.maxMessages()
	if unlimited {
		return true
	}
	return m.msgCount == 1
}
