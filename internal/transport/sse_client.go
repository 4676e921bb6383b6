package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// SSEClient implements Client over a plain net/http GET with
// Accept: text/event-stream for the downstream half, and HTTP POST for the
// upstream half (SSE has no client-to-server direction of its own).
// Chunked transfer reassembly is handled by net/http's transport before
// the body reader ever sees a byte, so only SSE event framing is
// hand-rolled here.
type SSEClient struct {
	url     string
	headers http.Header
	client  *http.Client
	logger  *slog.Logger
	trace   bool

	cb Callbacks

	mu       sync.Mutex
	resp     *http.Response
	cancel   context.CancelFunc
	closed   bool
	closing  bool
}

// SSEConfig configures an SSEClient.
type SSEConfig struct {
	URL     string
	Headers http.Header
	Proxy   func(*http.Request) (*url.URL, error)
	Logger  *slog.Logger
	Trace   bool
}

// NewSSEClient builds an SSE transport client.
func NewSSEClient(cfg SSEConfig, cb Callbacks) *SSEClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEClient{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Transport: &http.Transport{Proxy: cfg.Proxy}},
		logger:  logger,
		trace:   cfg.Trace,
		cb:      cb,
	}
}

// Connect issues the SSE GET request, requires HTTP 200, and starts the
// event-framing receive loop.
func (c *SSEClient) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("transport: sse request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("transport: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("transport: sse connect: unexpected status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.resp = resp
	c.cancel = cancel
	c.closed = false
	c.mu.Unlock()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	go c.readLoop(resp)

	return nil
}

// readLoop parses `data:` lines until a blank line terminates an event,
// concatenating multiple data lines with '\n' per the SSE spec, and
// stripping one trailing record separator if the server included it.
func (c *SSEClient) readLoop(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var data bytes.Buffer
	haveData := false

	flush := func() {
		if !haveData {
			return
		}
		payload := data.Bytes()
		if len(payload) > 0 && payload[len(payload)-1] == 0x1e {
			payload = payload[:len(payload)-1]
		}
		out := make([]byte, len(payload))
		copy(out, payload)

		if c.trace {
			c.logger.Debug("sse event received", "bytes", len(out))
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(out)
		}
		data.Reset()
		haveData = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			field := line[len("data:"):]
			if len(field) > 0 && field[0] == ' ' {
				field = field[1:]
			}
			if haveData {
				data.WriteByte('\n')
			}
			data.WriteString(field)
			haveData = true
		default:
			// event:, id:, retry: and comment lines are not meaningful to
			// the SignalR hub protocol; ignore them.
		}
	}
	flush()

	c.mu.Lock()
	wasClosing := c.closing
	c.closed = true
	c.mu.Unlock()

	if c.cb.OnClose != nil {
		c.cb.OnClose()
	}
	if err := scanner.Err(); err != nil && !wasClosing && c.cb.OnError != nil {
		c.cb.OnError(fmt.Errorf("transport: sse read: %w", err))
	}
}

// Send posts one hub payload upstream; SSE itself is download-only.
func (c *SSEClient) Send(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("transport: sse send: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: sse send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: sse send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close cancels the in-flight GET, ending the receive loop.
func (c *SSEClient) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.closing = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// IsConnectionClosed reports whether the receive loop has ended.
func (c *SSEClient) IsConnectionClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
