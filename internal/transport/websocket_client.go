package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocketClient implements Client over github.com/gorilla/websocket.
// Frame-level concerns (masking, fragmentation, control-frame handling,
// close codes) are gorilla/websocket's responsibility; this type owns only
// the SignalR-specific framing choice (binary vs text opcode) and the
// keep-alive ping/pong loop.
type WebSocketClient struct {
	url     string
	headers http.Header
	dialer  *websocket.Dialer
	binary  BinaryMode
	logger  *slog.Logger
	trace   bool

	cb Callbacks

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// WebSocketConfig configures a WebSocketClient.
type WebSocketConfig struct {
	URL     string
	Headers http.Header
	Proxy   func(*http.Request) (*url.URL, error)
	Binary  BinaryMode
	Logger  *slog.Logger
	Trace   bool
}

// NewWebSocketClient builds a WebSocket transport client. Connect must be
// called before Send.
func NewWebSocketClient(cfg WebSocketConfig, cb Callbacks) *WebSocketClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            cfg.Proxy,
	}
	return &WebSocketClient{
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer:  dialer,
		binary:  cfg.Binary,
		logger:  logger,
		trace:   cfg.Trace,
		cb:      cb,
	}
}

// Connect dials the server, requires the RFC 6455 upgrade to succeed, and
// starts the receive and keep-alive-ping loops.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return fmt.Errorf("transport: websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	conn.SetReadLimit(0)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	go c.pingLoop()
	go c.readLoop()

	return nil
}

func (c *WebSocketClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.closed = true
			c.mu.Unlock()

			if c.cb.OnClose != nil {
				c.cb.OnClose()
			}
			if !alreadyClosed && c.cb.OnError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.cb.OnError(fmt.Errorf("transport: websocket read: %w", err))
			}
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		if c.trace {
			c.logger.Debug("websocket frame received", "bytes", len(data))
		}

		if c.cb.OnMessage != nil {
			c.cb.OnMessage(data)
		}
	}
}

func (c *WebSocketClient) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if conn == nil || closed {
			return
		}
		// WriteControl (unlike WriteMessage) is safe to call concurrently
		// with Send's data-frame writes, so the ping needs no c.mu here.
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
			return
		}
	}
}

// Send writes one hub payload as a single WebSocket frame, binary or text
// depending on the negotiated hub protocol encoding.
func (c *WebSocketClient) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if conn == nil || closed {
		return fmt.Errorf("transport: websocket send: connection closed")
	}

	opcode := websocket.TextMessage
	if c.binary {
		opcode = websocket.BinaryMessage
	}

	if c.trace {
		c.logger.Debug("websocket frame sent", "bytes", len(data))
	}

	// gorilla/websocket does not guarantee WriteMessage is safe for
	// concurrent use with other data-frame writers, so Send calls are
	// serialized on c.mu; pingLoop uses WriteControl instead, which is
	// safe alongside this lock being held.
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(opcode, data); err != nil {
		return fmt.Errorf("transport: websocket send: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if conn == nil || alreadyClosed {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	return conn.Close()
}

// IsConnectionClosed reports whether Close or a peer close has been
// observed.
func (c *WebSocketClient) IsConnectionClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
