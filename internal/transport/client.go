// Package transport implements the three interchangeable SignalR transports
// (WebSocket, Server-Sent Events, long polling) behind one uniform client
// contract, plus the adapter that turns any of them into a managed
// connection with state tracking, keep-alive, and reconnection.
package transport

import "context"

// Callbacks are the four events a Client reports to its owner. OnMessage
// delivers one already-framed payload per call; OnOpen/OnClose/OnError fire
// at most once per connection attempt except OnError, which may repeat for
// non-fatal conditions the client surfaces without tearing itself down.
type Callbacks struct {
	OnOpen    func()
	OnMessage func([]byte)
	OnError   func(error)
	OnClose   func()
}

// Client is the common capability every transport implements: connect,
// close, send, and a liveness check. A background receive loop runs for
// the lifetime of the connection and reports through Callbacks.
type Client interface {
	// Connect opens the transport and starts its receive loop. It blocks
	// until the transport is open (or the attempt fails); OnOpen fires
	// before Connect returns successfully.
	Connect(ctx context.Context) error

	// Close tears the transport down. It is safe to call more than once.
	Close() error

	// Send writes one complete hub payload as a single atomic frame.
	Send(data []byte) error

	// IsConnectionClosed reports whether the transport has observed its
	// connection end (either via Close or a peer-initiated close).
	IsConnectionClosed() bool
}

// BinaryMode selects the wire representation a transport uses for frames
// it does not otherwise interpret. Only the WebSocket client uses it (text
// or binary opcode); the SSE and long-polling clients do not.
type BinaryMode bool

const (
	TextMode   BinaryMode = false
	BinaryWire BinaryMode = true
)
