package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nullisha/signalr/internal/reconnect"
	"github.com/nullisha/signalr/internal/wireproto"
)

// State is the adapter's connection state (spec §4.3).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Codec is the subset of wireproto.JSONCodec/MessagePackCodec the adapter
// needs; it lets the adapter stay agnostic of which wire encoding was
// negotiated.
type Codec interface {
	Encode(wireproto.Message) ([]byte, error)
	Decode([]byte) ([]wireproto.Message, []byte, error)
}

// ClientBuilder constructs (but does not connect) a fresh transport Client
// bound to the given callbacks. HubConnection supplies one closure per
// negotiated transport/URL.
type ClientBuilder func(ctx context.Context, cb Callbacks) (Client, error)

// NegotiateFunc performs (or skips) negotiation for one connection attempt
// and returns the ClientBuilder to use for it.
type NegotiateFunc func(ctx context.Context) (ClientBuilder, error)

// AdapterCallbacks are the events the adapter reports to its owner (the hub
// engine), already filtered through the state-transition table of spec
// §4.3 and the handshake/message split of §4.3's "Message ingress" rule.
type AdapterCallbacks struct {
	OnOpen          func()
	OnReconnect     func()
	OnClose         func()
	OnHandshakeFail func(reason string)
	OnHubMessages   func([]wireproto.Message)
	OnError         func(error)
}

// Adapter is the uniform transport state machine of spec §4.3: it owns a
// replaceable Client, the handshake driver, a keep-alive checker, and the
// reconnect supervisor, presenting one stable surface regardless of which
// of the three transports is underneath.
//
// The handshake driver is implemented here rather than in the hub-engine
// layer: the adapter is already the component buffering raw transport
// bytes and deciding handshake-vs-hub-message framing (§4.3's "Message
// ingress" rule), so splitting handshake encode/decode into a separate
// component would mean duplicating that buffering logic. The hub engine
// only sees already-decoded Message values via OnHubMessages.
type Adapter struct {
	Negotiate         NegotiateFunc
	Codec             Codec
	ProtocolName      string
	KeepAliveInterval time.Duration
	ReconnectPolicy   reconnect.Policy
	Logger            *slog.Logger
	Callbacks         AdapterCallbacks

	mu                sync.Mutex
	state             State
	client            Client
	tail              []byte
	handshakeReceived bool
	manuallyClosing   bool
	lastMessage       time.Time
	checkerStop       chan struct{}
	checkerRunning    bool
}

// NewAdapter builds an Adapter. Codec, Negotiate and ProtocolName are
// required; ReconnectPolicy and KeepAliveInterval are optional (a zero
// KeepAliveInterval disables the keep-alive checker).
func NewAdapter(negotiate NegotiateFunc, codec Codec, protocolName string, cb AdapterCallbacks) *Adapter {
	return &Adapter{
		Negotiate:    negotiate,
		Codec:        codec,
		ProtocolName: protocolName,
		Logger:       slog.Default(),
		Callbacks:    cb,
		state:        Disconnected,
	}
}

// State reports the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsRunning reports whether the adapter is anything other than
// disconnected.
func (a *Adapter) IsRunning() bool {
	return a.State() != Disconnected
}

// setState applies the strict old->new callback table of spec §4.3.
// Same-state transitions are no-ops; callbacks fire with the lock released.
func (a *Adapter) setState(newState State) {
	a.mu.Lock()
	old := a.state
	if old == newState {
		a.mu.Unlock()
		return
	}
	a.state = newState
	a.mu.Unlock()

	a.Logger.Debug("transport state changed", "old", old.String(), "new", newState.String())

	switch {
	case old == Connecting && newState == Connected:
		if a.Callbacks.OnOpen != nil {
			a.Callbacks.OnOpen()
		}
	case (old == Connected || old == Reconnecting) && newState == Disconnected:
		if a.Callbacks.OnClose != nil {
			a.Callbacks.OnClose()
		}
	case old == Reconnecting && newState == Connected:
		if a.Callbacks.OnReconnect != nil {
			a.Callbacks.OnReconnect()
		}
	}
}

// Start performs negotiation (direct or re-negotiation), sets the
// appropriate transitional state, and instructs a freshly built client to
// connect.
func (a *Adapter) Start(ctx context.Context, reconnection bool) error {
	a.mu.Lock()
	a.manuallyClosing = false
	a.mu.Unlock()

	builder, err := a.Negotiate(ctx)
	if err != nil {
		return fmt.Errorf("transport: negotiate: %w", err)
	}

	if reconnection {
		a.setState(Reconnecting)
	} else {
		a.setState(Connecting)
	}

	cb := Callbacks{
		OnOpen:    a.handleTransportOpen,
		OnMessage: a.handleTransportMessage,
		OnError:   a.handleTransportError,
		OnClose:   a.handleTransportClose,
	}

	client, err := builder(ctx, cb)
	if err != nil {
		return fmt.Errorf("transport: build client: %w", err)
	}

	a.mu.Lock()
	previous := a.client
	a.client = client
	a.handshakeReceived = false
	a.tail = nil
	a.mu.Unlock()

	// Dispose of the client being replaced (spec §4.3: reconnect "disposes
	// the current client" before starting the new one) rather than leaking
	// its socket/goroutines.
	if previous != nil {
		_ = previous.Close()
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	return nil
}

// handleTransportOpen fires when the underlying socket/stream opens. It
// sends the handshake request; the user-visible OnOpen fires later, once
// the handshake response confirms the connection (see handleTransportMessage).
func (a *Adapter) handleTransportOpen() {
	frame, err := wireproto.EncodeHandshake(a.ProtocolName)
	if err != nil {
		if a.Callbacks.OnError != nil {
			a.Callbacks.OnError(fmt.Errorf("transport: encode handshake: %w", err))
		}
		return
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Send(frame); err != nil && a.Callbacks.OnError != nil {
		a.Callbacks.OnError(fmt.Errorf("transport: send handshake: %w", err))
	}
}

// handleTransportMessage implements the "Message ingress" rule of §4.3:
// until the handshake response is seen, incoming bytes are parsed as a
// handshake frame (which may carry coalesced hub messages); afterward each
// chunk is parsed as a batch of hub messages.
func (a *Adapter) handleTransportMessage(data []byte) {
	a.mu.Lock()
	a.lastMessage = time.Now()
	handshakeDone := a.handshakeReceived
	a.tail = append(a.tail, data...)
	buf := a.tail
	a.mu.Unlock()

	if !handshakeDone {
		if bytes.IndexByte(buf, wireproto.RecordSeparator) < 0 {
			// incomplete frame so far; wait for more bytes.
			return
		}

		resp, coalesced, tail, err := wireproto.DecodeHandshake(buf, a.Codec)
		if err != nil {
			if a.Callbacks.OnHandshakeFail != nil {
				a.Callbacks.OnHandshakeFail(err.Error())
			}
			return
		}

		a.mu.Lock()
		a.tail = tail
		a.mu.Unlock()

		if resp.Error != "" {
			if a.Callbacks.OnHandshakeFail != nil {
				a.Callbacks.OnHandshakeFail(resp.Error)
			}
			return
		}

		a.mu.Lock()
		a.handshakeReceived = true
		wasReconnecting := a.state == Reconnecting
		a.mu.Unlock()

		if wasReconnecting && a.ReconnectPolicy != nil {
			a.ReconnectPolicy.Reset()
			a.ReconnectPolicy.SetReconnecting(false)
		}
		a.setState(Connected)
		a.startKeepAlive()

		if len(coalesced) > 0 && a.Callbacks.OnHubMessages != nil {
			a.Callbacks.OnHubMessages(coalesced)
		}
		return
	}

	messages, tail, err := a.Codec.Decode(buf)
	a.mu.Lock()
	a.tail = tail
	a.mu.Unlock()
	if err != nil {
		if a.Callbacks.OnError != nil {
			a.Callbacks.OnError(fmt.Errorf("transport: decode: %w", err))
		}
		return
	}
	if len(messages) > 0 && a.Callbacks.OnHubMessages != nil {
		a.Callbacks.OnHubMessages(messages)
	}
}

func (a *Adapter) handleTransportError(err error) {
	if a.Callbacks.OnError != nil {
		a.Callbacks.OnError(err)
	}
}

// handleTransportClose drives the reconnect decision of spec §4.3's
// "HandleReconnect" rule whenever the underlying client ends its receive
// loop without the user having called Stop.
func (a *Adapter) handleTransportClose() {
	a.mu.Lock()
	manuallyClosing := a.manuallyClosing
	a.stopKeepAliveLocked()
	a.mu.Unlock()

	if manuallyClosing {
		a.setState(Disconnected)
		return
	}

	if a.handleReconnect() {
		return
	}

	a.setState(Disconnected)
}

// handleReconnect applies the guards of spec §4.3: no-op if already
// reconnecting or manually closing or no policy is configured; otherwise it
// disposes the current client, marks the adapter reconnecting, and retries
// start(reconnection=true) with the policy's backoff schedule on failure.
func (a *Adapter) handleReconnect() bool {
	a.mu.Lock()
	manuallyClosing := a.manuallyClosing
	policy := a.ReconnectPolicy
	alreadyReconnecting := policy != nil && policy.Reconnecting()
	a.mu.Unlock()

	if manuallyClosing || policy == nil || alreadyReconnecting {
		return false
	}

	policy.SetReconnecting(true)
	go a.reconnectLoop(context.Background())
	return true
}

func (a *Adapter) reconnectLoop(ctx context.Context) {
	if err := a.Start(ctx, true); err == nil {
		return
	} else {
		a.Logger.Error("reconnect attempt failed", "error", err)
	}

	delay, err := a.ReconnectPolicy.Next()
	if err != nil {
		a.ReconnectPolicy.SetReconnecting(false)
		if a.Callbacks.OnError != nil {
			a.Callbacks.OnError(fmt.Errorf("transport: reconnect: %w", err))
		}
		a.setState(Disconnected)
		return
	}

	time.AfterFunc(delay, func() { a.reconnectLoop(ctx) })
}

// Send encodes and writes one hub message. A closed-socket send error
// clears handshake state and either triggers a reconnect (if a policy is
// configured) or transitions the adapter to disconnected and surfaces the
// error, per spec §4.3's "Send under failure" rule.
func (a *Adapter) Send(m wireproto.Message) error {
	frame, err := a.Codec.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return fmt.Errorf("transport: send: no active client")
	}

	if err := client.Send(frame); err != nil {
		a.mu.Lock()
		a.handshakeReceived = false
		a.mu.Unlock()

		if a.ReconnectPolicy != nil {
			a.handleReconnect()
			return nil
		}
		a.setState(Disconnected)
		return fmt.Errorf("transport: send: %w", err)
	}

	a.mu.Lock()
	a.lastMessage = time.Now()
	a.mu.Unlock()
	return nil
}

// startKeepAlive launches the ConnectionChecker goroutine of spec §4.3 if
// KeepAliveInterval is set and it is not already running.
func (a *Adapter) startKeepAlive() {
	if a.KeepAliveInterval <= 0 {
		return
	}
	a.mu.Lock()
	if a.checkerRunning {
		a.mu.Unlock()
		return
	}
	a.checkerRunning = true
	a.checkerStop = make(chan struct{})
	stop := a.checkerStop
	a.lastMessage = time.Now()
	a.mu.Unlock()

	go a.keepAliveLoop(stop)
}

func (a *Adapter) keepAliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.KeepAliveInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			elapsed := time.Since(a.lastMessage)
			a.mu.Unlock()
			if elapsed < a.KeepAliveInterval {
				continue
			}
			if err := a.Send(wireproto.NewPing()); err != nil {
				a.Logger.Debug("keep-alive ping failed", "error", err)
			}
		}
	}
}

func (a *Adapter) stopKeepAliveLocked() {
	if !a.checkerRunning {
		return
	}
	close(a.checkerStop)
	a.checkerRunning = false
}

// Stop cooperatively tears the connection down: it marks the adapter as
// manually closing, disposes the current client, and transitions to
// disconnected.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	a.manuallyClosing = true
	client := a.client
	a.stopKeepAliveLocked()
	a.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	a.setState(Disconnected)
	return err
}
