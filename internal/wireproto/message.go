// Package wireproto implements the SignalR hub message schema and its two
// wire encodings (JSON + record separator, and MessagePack).
package wireproto

import "encoding/json"

const (
	// Invocation is a request to invoke a method (the Target) with the
	// provided Arguments on the remote endpoint.
	Invocation = iota + 1

	// StreamItem carries one item of a streamed response previously
	// started by a StreamInvocation.
	StreamItem

	// Completion indicates a previous Invocation or StreamInvocation has
	// finished. Carries Error or Result, never both; both absent means a
	// void success.
	Completion

	// StreamInvocation is a request to invoke a streaming method.
	StreamInvocation

	// CancelInvocation is sent by the client to cancel a streaming
	// invocation on the server.
	CancelInvocation

	// Ping is sent by either party as a keep-alive.
	Ping

	// Close is sent by the server when the connection is torn down.
	Close

	// HandshakeRequest agrees on protocol and version. Only used as a
	// local tag; handshake frames are encoded separately (see handshake.go).
	HandshakeRequest

	// HandshakeResponse acknowledges a HandshakeRequest.
	HandshakeResponse

	// Ack reports the highest receiveSequenceId processed so far.
	Ack

	// Sequence declares the highest receiveSequenceId known, sent once on
	// reconnect before replay.
	Sequence
)

// BindingFailure is a local-only tag: it never appears on the wire. The
// decoder produces it when a record's fields are present but ill-typed.
const BindingFailure = -1

// Message is the union of every hub message shape the codecs can produce.
// Only the fields relevant to Type are populated; callers switch on Type.
type Message struct {
	Type int `json:"type"`

	Headers map[string]string `json:"headers,omitempty"`

	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	StreamIDs    []string          `json:"streamIds,omitempty"`

	Item json.RawMessage `json:"item,omitempty"`

	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	hasError bool

	AllowReconnect bool `json:"allowReconnect,omitempty"`

	SequenceID uint64 `json:"sequenceId,omitempty"`

	// BindingError carries the local diagnostic for a BindingFailure
	// message; never serialized.
	BindingError error `json:"-"`
}

// HasError reports whether a Completion message carried a non-empty error
// field, distinguishing it from a void success with an empty string.
func (m *Message) HasError() bool {
	return m.hasError && m.Error != ""
}

// SetError marks a Completion message as carrying an error.
func (m *Message) SetError(msg string) {
	m.Error = msg
	m.hasError = true
}

// NewAck builds an Ack message for the given sequence id.
func NewAck(seq uint64) Message {
	return Message{Type: Ack, SequenceID: seq}
}

// NewSequence builds a Sequence message declaring the given id.
func NewSequence(seq uint64) Message {
	return Message{Type: Sequence, SequenceID: seq}
}

// NewPing builds a Ping message.
func NewPing() Message {
	return Message{Type: Ping}
}

// NewInvocation builds an Invocation message. invocationID may be empty for
// a non-blocking call.
func NewInvocation(invocationID, target string, args []json.RawMessage, streamIDs []string) Message {
	return Message{
		Type:         Invocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    args,
		StreamIDs:    streamIDs,
	}
}

// NewStreamInvocation builds a StreamInvocation message.
func NewStreamInvocation(invocationID, target string, args []json.RawMessage, streamIDs []string) Message {
	return Message{
		Type:         StreamInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    args,
		StreamIDs:    streamIDs,
	}
}

// NewStreamItem builds a StreamItem message.
func NewStreamItem(invocationID string, item json.RawMessage) Message {
	return Message{Type: StreamItem, InvocationID: invocationID, Item: item}
}

// NewCompletion builds a Completion message carrying a result (possibly nil
// for a void success).
func NewCompletion(invocationID string, result json.RawMessage) Message {
	return Message{Type: Completion, InvocationID: invocationID, Result: result}
}

// NewCompletionError builds a Completion message carrying an error.
func NewCompletionError(invocationID, errMsg string) Message {
	m := Message{Type: Completion, InvocationID: invocationID}
	m.SetError(errMsg)
	return m
}

// NewCancelInvocation builds a CancelInvocation message.
func NewCancelInvocation(invocationID string) Message {
	return Message{Type: CancelInvocation, InvocationID: invocationID}
}

// NewBindingFailure builds a local-only diagnostic message.
func NewBindingFailure(err error) Message {
	return Message{Type: BindingFailure, BindingError: err}
}
