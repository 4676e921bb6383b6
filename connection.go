// Package signalr implements a client for the SignalR Core hub protocol:
// negotiation, the WebSocket/SSE/long-polling transports, and the hub
// message engine (invocations, streams, acks, and automatic reconnection)
// on top of them.
package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nullisha/signalr/internal/negotiate"
	"github.com/nullisha/signalr/internal/transport"
	"github.com/nullisha/signalr/internal/wireproto"
)

// State mirrors the transport adapter's connection state machine (spec
// §4.3): disconnected, connecting, connected, reconnecting.
type State = transport.State

const (
	Disconnected = transport.Disconnected
	Connecting   = transport.Connecting
	Connected    = transport.Connected
	Reconnecting = transport.Reconnecting
)

const protocolJSON = "json"
const protocolMessagePack = "messagepack"

const invokeTimeout = 30 * time.Second

// HubConnection is the public entry point: one negotiated connection to a
// SignalR hub, with handler registration, invocation, and streaming built
// on top of the transport adapter and hub message codec.
type HubConnection struct {
	url string
	cfg Config

	adapter  *transport.Adapter
	handlers *handlerRegistry

	mu          sync.Mutex
	receiveSeq  uint64
	negotiated  negotiate.Response

	onConnect    func()
	onDisconnect func()
	onReconnect  func()
	onError      func(ErrorEvent)
}

// NewHubConnection builds a HubConnection for hubURL. It does not connect;
// call Start for that. hubURL must be non-empty (spec §7's
// NegotiateValidation class covers malformed/empty URLs at Start time).
func NewHubConnection(hubURL string, cfg Config) (*HubConnection, error) {
	if hubURL == "" {
		return nil, &HubConnectionError{Reason: "hub url must not be empty"}
	}

	c := &HubConnection{
		url:      hubURL,
		cfg:      cfg,
		handlers: newHandlerRegistry(),
	}

	c.adapter = transport.NewAdapter(c.negotiateAndBuild, nil, protocolJSON, transport.AdapterCallbacks{
		OnOpen:          c.handleOpen,
		OnReconnect:     c.handleReconnect,
		OnClose:         c.handleClose,
		OnHandshakeFail: c.handleHandshakeFail,
		OnHubMessages:   c.handleHubMessages,
		OnError:         c.handleTransportError,
	})
	c.adapter.Logger = cfg.logger()
	c.adapter.KeepAliveInterval = cfg.keepAliveInterval()
	c.adapter.ReconnectPolicy = cfg.buildReconnectPolicy()

	return c, nil
}

// OnConnect registers the callback fired once the handshake succeeds on a
// fresh (non-reconnect) Start.
func (c *HubConnection) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers the callback fired when the connection ends,
// whether by Stop or by exhausting the reconnect policy.
func (c *HubConnection) OnDisconnect(fn func()) { c.onDisconnect = fn }

// OnReconnect registers the callback fired once a reconnect attempt's
// handshake succeeds, after the client has replayed its Sequence.
func (c *HubConnection) OnReconnect(fn func()) { c.onReconnect = fn }

// OnError registers the single funnel for non-fatal message-level errors:
// binding failures, Completion errors without a waiting invoker, and
// transport-level errors (spec §9's "shared error sink" note).
func (c *HubConnection) OnError(fn func(ErrorEvent)) { c.onError = fn }

// On registers a handler for server-to-client invocations targeting name.
// Multiple handlers for the same target all run.
func (c *HubConnection) On(target string, cb func(args []json.RawMessage)) {
	c.handlers.on(target, cb)
}

// State reports the connection's current state.
func (c *HubConnection) State() State { return c.adapter.State() }

// Start negotiates (unless SkipNegotiation) and connects.
func (c *HubConnection) Start(ctx context.Context) error {
	return c.adapter.Start(ctx, false)
}

// Stop tears the connection down and disables automatic reconnection.
func (c *HubConnection) Stop() error {
	return c.adapter.Stop()
}

// WaitForState blocks, polling every 100ms (spec §5), until the connection
// reaches want or the context is done / timeout elapses. timeout <= 0 means
// wait until ctx is done.
func (c *HubConnection) WaitForState(ctx context.Context, want State, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.State() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &TimeoutError{WantState: want}
		case <-ticker.C:
		}
	}
}

// Send fires a non-blocking invocation: it is delivered to the server but
// the caller does not wait for (or learn of) its completion, matching the
// original client's send() semantics.
func (c *HubConnection) Send(target string, args ...interface{}) error {
	return c.invoke(target, args, nil)
}

// Invoke performs a blocking invocation and returns the server's result (or
// the error carried by its Completion message).
func (c *HubConnection) Invoke(ctx context.Context, target string, args ...interface{}) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	if err := c.invoke(target, args, func(result json.RawMessage, err error) {
		done <- outcome{result, err}
	}); err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(invokeTimeout):
		return nil, fmt.Errorf("signalr: invoke %q: no completion within %s", target, invokeTimeout)
	}
}

func (c *HubConnection) invoke(target string, args []interface{}, onInvocation InvocationHandler) error {
	if c.State() != Connected {
		return &HubConnectionError{Reason: "not connected"}
	}

	rawArgs, err := marshalArgs(args)
	if err != nil {
		return err
	}

	invocationID := uuid.NewString()
	if onInvocation != nil {
		c.handlers.registerInvocation(invocationID, onInvocation)
	}

	msg := wireproto.NewInvocation(invocationID, target, rawArgs, nil)
	if err := c.adapter.Send(msg); err != nil {
		if onInvocation != nil {
			c.handlers.unregisterInvocation(invocationID)
		}
		return err
	}
	return nil
}

// Stream starts a server-to-client stream and returns the handler its
// events are delivered through.
func (c *HubConnection) Stream(target string, args ...interface{}) (*StreamHandler, error) {
	if c.State() != Connected {
		return nil, &HubConnectionError{Reason: "not connected"}
	}

	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	invocationID := uuid.NewString()
	handler := &StreamHandler{}
	c.handlers.registerStream(invocationID, handler)

	msg := wireproto.NewStreamInvocation(invocationID, target, rawArgs, nil)
	if err := c.adapter.Send(msg); err != nil {
		c.handlers.unregisterStream(invocationID)
		return nil, err
	}
	return handler, nil
}

// CancelStream cancels a previously started server-to-client stream.
func (c *HubConnection) CancelStream(invocationID string) error {
	return c.adapter.Send(wireproto.NewCancelInvocation(invocationID))
}

// UploadStream begins a client-to-server stream invocation: target is
// invoked with the given plain args plus one streamed argument sourced from
// the returned Subject.
func (c *HubConnection) UploadStream(target string, args ...interface{}) (*Subject, error) {
	if c.State() != Connected {
		return nil, &HubConnectionError{Reason: "not connected"}
	}

	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	subject := NewSubject()
	subject.attach(c, target)

	msg := wireproto.NewInvocation("", target, rawArgs, []string{subject.invocationID})
	if err := c.adapter.Send(msg); err != nil {
		return nil, err
	}
	if err := subject.start(); err != nil {
		return nil, err
	}
	return subject, nil
}

func (c *HubConnection) sendStreamItem(invocationID string, item json.RawMessage) error {
	return c.adapter.Send(wireproto.NewStreamItem(invocationID, item))
}

func (c *HubConnection) sendStreamCompletion(invocationID string) error {
	return c.adapter.Send(wireproto.NewCompletion(invocationID, nil))
}

func marshalArgs(args []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, &ArgumentError{Reason: fmt.Sprintf("marshal argument: %v", err)}
		}
		out = append(out, raw)
	}
	return out, nil
}

// --- adapter callback handlers -------------------------------------------------

func (c *HubConnection) handleOpen() {
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *HubConnection) handleReconnect() {
	c.mu.Lock()
	seq := c.receiveSeq
	c.mu.Unlock()

	if err := c.adapter.Send(wireproto.NewSequence(seq)); err != nil {
		c.reportError(ErrorEvent{Err: fmt.Errorf("signalr: send sequence on reconnect: %w", err)})
	}
	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *HubConnection) handleClose() {
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *HubConnection) handleHandshakeFail(reason string) {
	c.reportError(ErrorEvent{Err: &HandshakeError{Reason: reason}})
	_ = c.adapter.Stop()
}

func (c *HubConnection) handleTransportError(err error) {
	c.reportError(ErrorEvent{Err: err})
}

func (c *HubConnection) reportError(ev ErrorEvent) {
	if c.onError != nil {
		c.onError(ev)
	} else {
		c.cfg.logger().Error("signalr error", "error", ev.Err)
	}
}

const (
	tagTrackableMin = wireproto.Invocation
	tagTrackableMax = wireproto.CancelInvocation
)

func isTrackable(tag int) bool {
	return tag >= tagTrackableMin && tag <= tagTrackableMax
}

// handleHubMessages is the hub engine's routing table (spec §4.6, grounded
// on the original's on_message dispatch): each message is acknowledged if
// trackable, then routed by tag.
func (c *HubConnection) handleHubMessages(messages []wireproto.Message) {
	for _, m := range messages {
		if isTrackable(m.Type) {
			c.mu.Lock()
			c.receiveSeq++
			seq := c.receiveSeq
			c.mu.Unlock()
			if err := c.adapter.Send(wireproto.NewAck(seq)); err != nil {
				c.cfg.logger().Debug("ack send failed", "error", err)
			}
		}

		switch m.Type {
		case wireproto.BindingFailure:
			c.reportError(ErrorEvent{Err: fmt.Errorf("signalr: binding failure: %w", m.BindingError)})

		case wireproto.Ping:
			// keep-alive, no action required.

		case wireproto.Close:
			if m.HasError() {
				c.reportError(ErrorEvent{Err: errors.New("signalr: server closed connection: " + m.Error)})
			}
			_ = c.adapter.Stop()
			return

		case wireproto.Invocation:
			cbs := c.handlers.callbacksFor(m.Target)
			if len(cbs) == 0 {
				c.cfg.logger().Warn("no handler registered for target", "target", m.Target)
				continue
			}
			for _, cb := range cbs {
				cb(m.Arguments)
			}

		case wireproto.Completion:
			mc := m
			handled := false
			if h, ok := c.handlers.invocation(m.InvocationID); ok {
				handled = true
				c.handlers.unregisterInvocation(m.InvocationID)
				if mc.HasError() {
					h(nil, errors.New(mc.Error))
				} else {
					h(mc.Result, nil)
				}
			}
			if h, ok := c.handlers.stream(m.InvocationID); ok {
				handled = true
				c.handlers.unregisterStream(m.InvocationID)
				if mc.HasError() {
					if h.Error != nil {
						h.Error(errors.New(mc.Error))
					}
					c.reportError(errorEventFromCompletion(mc))
				} else if h.Complete != nil {
					h.Complete()
				}
			}
			if !handled && mc.HasError() {
				c.reportError(errorEventFromCompletion(mc))
			}

		case wireproto.StreamItem:
			h, ok := c.handlers.stream(m.InvocationID)
			if !ok {
				c.cfg.logger().Warn("no stream handler registered", "invocationId", m.InvocationID)
				continue
			}
			if h.Next != nil {
				h.Next(m.Item)
			}

		case wireproto.StreamInvocation:
			// server-to-client direction only issues StreamItem/Completion
			// for a client-initiated StreamInvocation; receiving one back
			// is not meaningful and is ignored, matching the original.

		case wireproto.CancelInvocation:
			h, ok := c.handlers.stream(m.InvocationID)
			if ok {
				c.handlers.unregisterStream(m.InvocationID)
				if h.Error != nil {
					h.Error(errors.New("signalr: invocation canceled"))
				}
			}

		case wireproto.Ack, wireproto.Sequence:
			c.cfg.logger().Debug("received sequencing message", "type", m.Type, "sequenceId", m.SequenceID)
		}
	}
}

// --- negotiation / client construction ----------------------------------------

func (c *HubConnection) negotiateAndBuild(ctx context.Context) (transport.ClientBuilder, error) {
	headers := c.cfg.headers()
	if c.cfg.AccessTokenFactory != nil {
		token, err := c.cfg.AccessTokenFactory()
		if err != nil {
			return nil, fmt.Errorf("signalr: access token factory: %w", err)
		}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}

	if c.cfg.SkipNegotiation {
		wsURL := negotiate.TransportURL(c.url, negotiate.TransportWebSockets)
		return c.clientBuilderFor(negotiate.TransportWebSockets, negotiate.EncodingText, wsURL, headers), nil
	}

	negotiator := negotiate.NewNegotiator(c.cfg.httpClient())
	result, err := negotiator.Negotiate(ctx, c.url, headers)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.negotiated = result.Response
	c.mu.Unlock()

	transportName, encoding, err := negotiate.SelectTransport(result.Response, c.cfg.PreferredTransport, c.cfg.PreferredEncoding)
	if err != nil {
		return nil, err
	}

	// result.URL is always http(s) at this point; only the WebSockets
	// transport needs it rewritten to ws/wss, so SSE and LongPolling keep
	// a URL net/http can actually dial.
	transportURL := negotiate.TransportURL(result.URL, transportName)
	return c.clientBuilderFor(transportName, encoding, transportURL, result.Headers), nil
}

func (c *HubConnection) clientBuilderFor(transportName, encoding, url string, headers http.Header) transport.ClientBuilder {
	binary := encoding == negotiate.EncodingBinary
	if binary {
		c.adapter.Codec = wireproto.MessagePackCodec{}
		c.adapter.ProtocolName = protocolMessagePack
	} else {
		c.adapter.Codec = wireproto.JSONCodec{}
		c.adapter.ProtocolName = protocolJSON
	}

	logger := c.cfg.logger()
	trace := c.cfg.EnableTrace

	return func(ctx context.Context, cb transport.Callbacks) (transport.Client, error) {
		switch transportName {
		case negotiate.TransportWebSockets:
			return transport.NewWebSocketClient(transport.WebSocketConfig{
				URL:     url,
				Headers: headers,
				Proxy:   c.cfg.Proxy,
				Binary:  transport.BinaryMode(binary),
				Logger:  logger,
				Trace:   trace,
			}, cb), nil
		case negotiate.TransportServerSentEvents:
			return transport.NewSSEClient(transport.SSEConfig{
				URL:     url,
				Headers: headers,
				Proxy:   c.cfg.Proxy,
				Logger:  logger,
				Trace:   trace,
			}, cb), nil
		case negotiate.TransportLongPolling:
			return transport.NewLongPollingClient(transport.LongPollingConfig{
				URL:     url,
				Headers: headers,
				Proxy:   c.cfg.Proxy,
				Logger:  logger,
				Trace:   trace,
			}, cb), nil
		default:
			return nil, fmt.Errorf("signalr: unsupported transport %q", transportName)
		}
	}
}
