package signalr

import (
	"fmt"

	"github.com/nullisha/signalr/internal/wireproto"
)

// HubConnectionError is raised when invoke/send is called while the
// connection is not running.
type HubConnectionError struct {
	Reason string
}

func (e *HubConnectionError) Error() string {
	return fmt.Sprintf("signalr: hub connection error: %s", e.Reason)
}

// HandshakeError is raised when the server's handshake response carries a
// non-empty error.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("signalr: handshake failed: %s", e.Reason)
}

// TimeoutError is raised by WaitForState when the deadline elapses before
// the requested state is reached.
type TimeoutError struct {
	WantState State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("signalr: timed out waiting for state %s", e.WantState)
}

// ArgumentError is raised when Invoke/Send is called with arguments of an
// unsupported shape (spec §9: "invoke accepts an ordered sequence OR a
// client-stream source; reject other shapes at call time").
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("signalr: invalid arguments: %s", e.Reason)
}

// ErrorEvent is the single funnel the hub engine uses for every non-fatal,
// message-level error: a binding failure, a Completion carrying an error,
// or a handshake rejection. Modeled as a tagged union (resolving the open
// question in spec §9 about on_error's two incompatible shapes in the
// source) rather than overloading one field for two meanings.
type ErrorEvent struct {
	// Err is set for transport/protocol-level failures (binding failures,
	// handshake rejection, transport errors).
	Err error

	// Completion is set when a Completion message carried a non-empty
	// error field; Err is nil in that case.
	Completion *wireproto.Message
}

func errorEventFromErr(err error) ErrorEvent { return ErrorEvent{Err: err} }

func errorEventFromCompletion(m wireproto.Message) ErrorEvent {
	cp := m
	return ErrorEvent{Completion: &cp}
}
