package signalr

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nullisha/signalr/internal/reconnect"
)

// ReconnectKind selects which reconnect.Policy implementation Config builds
// (spec §6's reconnect.type option).
type ReconnectKind int

const (
	// NoReconnect disables automatic reconnection entirely.
	NoReconnect ReconnectKind = iota
	// RawReconnect retries at a fixed interval, up to MaxAttempts times
	// (0 = unlimited).
	RawReconnect
	// IntervalReconnect retries using the explicit Intervals schedule.
	IntervalReconnect
)

// Config collects every connection-level option of spec §6.
type Config struct {
	// AccessTokenFactory is called before each negotiate/connect attempt to
	// obtain a bearer token; nil means no token is attached.
	AccessTokenFactory func() (string, error)

	// SkipNegotiation bypasses POST /negotiate entirely; PreferredTransport
	// must be TransportWebSockets in that case (spec §4.4).
	SkipNegotiation bool

	// PreferredTransport and PreferredEncoding steer negotiate's transport
	// selection; empty means "auto" (fallback order WebSockets -> SSE ->
	// LongPolling, first advertised encoding).
	PreferredTransport string
	PreferredEncoding  string

	// Headers are attached to every negotiate/transport request.
	Headers http.Header

	// Proxy overrides the HTTP client's proxy selection; nil means
	// http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)

	// TLSConfig is used by the HTTP client built for the negotiate request
	// when HTTPClient is nil; a nil value uses Go's default verification.
	// The WebSocket, SSE and long-polling transport clients do not use it.
	TLSConfig *tls.Config

	// ReconnectKind selects the policy; Raw/Interval fields below are only
	// consulted for the matching kind.
	ReconnectKind  ReconnectKind
	MaxAttempts    int
	RawInterval    time.Duration
	Intervals      []time.Duration
	KeepAliveInterval time.Duration

	// EnableTrace turns on verbose per-frame logging on the transport
	// clients.
	EnableTrace bool

	// Logger receives structured log output; nil defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient overrides the client used for the negotiate request; nil
	// builds one from Proxy/TLSConfig. The SSE and long-polling transport
	// clients build their own http.Client from Proxy and do not use it.
	HTTPClient *http.Client
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) keepAliveInterval() time.Duration {
	if c.KeepAliveInterval > 0 {
		return c.KeepAliveInterval
	}
	return 15 * time.Second
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	transport := &http.Transport{
		Proxy:           c.Proxy,
		TLSClientConfig: c.TLSConfig,
	}
	if transport.Proxy == nil {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: transport}
}

func (c Config) buildReconnectPolicy() reconnect.Policy {
	switch c.ReconnectKind {
	case RawReconnect:
		interval := c.RawInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		return &reconnect.Raw{SleepTime: interval, MaxAttempts: c.MaxAttempts}
	case IntervalReconnect:
		intervals := c.Intervals
		if len(intervals) == 0 {
			intervals = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}
		}
		return &reconnect.Interval{Intervals: intervals}
	default:
		return nil
	}
}

func (c Config) headers() http.Header {
	if c.Headers == nil {
		return http.Header{}
	}
	return c.Headers.Clone()
}
