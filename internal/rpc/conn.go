package rpc

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle position of a transport connection.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the capability the dispatcher holds on a connection. Send must
// be safe for concurrent use and must drop frames once the connection is
// no longer ready.
type Conn interface {
	ID() string
	ClientID() string
	Send(Response)
	Close(code int, message string)
}

// Lifecycle is the state machine embedded by both transports. Forward
// transitions are Connecting -> Handshaking -> Ready; Closed is reachable
// from anywhere and is terminal.
type Lifecycle struct {
	state atomic.Int32
}

func (l *Lifecycle) State() State { return State(l.state.Load()) }

// Advance moves from the state preceding to into to. It fails when the
// connection is elsewhere, including when it has already closed.
func (l *Lifecycle) Advance(to State) bool {
	if to == StateClosed || to == StateConnecting {
		return false
	}
	return l.state.CompareAndSwap(int32(to-1), int32(to))
}

// Close moves to Closed and returns the state it left. A return of
// StateClosed means an earlier call already closed the connection.
func (l *Lifecycle) Close() State {
	return State(l.state.Swap(int32(StateClosed)))
}

// NewConnID returns a fresh socket identifier.
func NewConnID() string {
	return uuid.NewString()
}
