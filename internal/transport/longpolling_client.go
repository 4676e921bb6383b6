package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// LongPollingClient implements Client over repeated HTTP GET for the
// download direction and HTTP POST for upload, closing the logical
// connection with an HTTP DELETE. Grounded on the accumulate-then-split
// buffering of the original Python long-polling reader: downstream bytes
// across polls are appended to a running buffer and split on the record
// separator before a complete message is delivered.
type LongPollingClient struct {
	url     string
	headers http.Header
	client  *http.Client
	logger  *slog.Logger
	trace   bool

	cb Callbacks

	mu      sync.Mutex
	buf     []byte
	cancel  context.CancelFunc
	closed  bool
	closing bool
}

// LongPollingConfig configures a LongPollingClient.
type LongPollingConfig struct {
	URL     string
	Headers http.Header
	Proxy   func(*http.Request) (*url.URL, error)
	Logger  *slog.Logger
	Trace   bool
}

// NewLongPollingClient builds a long-polling transport client.
func NewLongPollingClient(cfg LongPollingConfig, cb Callbacks) *LongPollingClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LongPollingClient{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Transport: &http.Transport{Proxy: cfg.Proxy}},
		logger:  logger,
		trace:   cfg.Trace,
		cb:      cb,
	}
}

// Connect fires OnOpen and starts the poll loop as a background goroutine.
// It sends no request of its own, so an unreachable or rejected session is
// reported only later, by the poll loop through OnClose/OnError.
func (c *LongPollingClient) Connect(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.closed = false
	c.mu.Unlock()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	go c.pollLoop(pollCtx)
	return nil
}

func (c *LongPollingClient) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.finish(nil)
			return
		default:
		}

		status, body, err := c.poll(ctx)
		if err != nil {
			c.finish(fmt.Errorf("transport: long-polling poll: %w", err))
			return
		}

		switch {
		case status == http.StatusNoContent:
			// Another client took over this connection id.
			c.finish(nil)
			return
		case status == http.StatusNotFound || status == http.StatusBadRequest:
			c.finish(fmt.Errorf("transport: long-polling poll: fatal status %d", status))
			return
		case status == http.StatusOK:
			c.deliver(body)
		default:
			// Timeouts and other transient statuses: just poll again.
		}
	}
}

func (c *LongPollingClient) poll(ctx context.Context) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// deliver accumulates body into the running buffer and emits every
// complete record-separated message it contains, in order.
func (c *LongPollingClient) deliver(body []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, body...)
	var messages [][]byte
	for {
		idx := bytes.IndexByte(c.buf, 0x1e)
		if idx < 0 {
			break
		}
		if idx > 0 {
			msg := make([]byte, idx)
			copy(msg, c.buf[:idx])
			messages = append(messages, msg)
		}
		c.buf = c.buf[idx+1:]
	}
	c.mu.Unlock()

	for _, m := range messages {
		if c.trace {
			c.logger.Debug("long-polling message received", "bytes", len(m))
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(m)
		}
	}
}

func (c *LongPollingClient) finish(err error) {
	c.mu.Lock()
	wasClosing := c.closing
	c.closed = true
	c.mu.Unlock()

	if c.cb.OnClose != nil {
		c.cb.OnClose()
	}
	if err != nil && !wasClosing && c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

// Send POSTs one hub payload upstream.
func (c *LongPollingClient) Send(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("transport: long-polling send: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: long-polling send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: long-polling send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close DELETEs the long-polling session and stops the poll loop. Both 200
// and 202 are treated as success; 404 is tolerated since the session may
// already be gone.
func (c *LongPollingClient) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.closing = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNotFound {
		c.logger.Debug("long-polling close: unexpected status", "status", resp.StatusCode)
	}
	return nil
}

// IsConnectionClosed reports whether the poll loop has ended.
func (c *LongPollingClient) IsConnectionClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
