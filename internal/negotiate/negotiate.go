package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Transport names as they appear in a NegotiateResponse's
// availableTransports list.
const (
	TransportWebSockets       = "WebSockets"
	TransportServerSentEvents = "ServerSentEvents"
	TransportLongPolling      = "LongPolling"
)

// Encoding names as they appear in an AvailableTransport's transferFormats
// list.
const (
	EncodingText   = "Text"
	EncodingBinary = "Binary"
)

// AvailableTransport is one entry of a NegotiateResponse's
// availableTransports list.
type AvailableTransport struct {
	Transport        string   `json:"transport"`
	TransferFormats  []string `json:"transferFormats"`
}

// Response is the parsed body of a successful negotiate call (spec §3).
type Response struct {
	NegotiateVersion    int                  `json:"negotiateVersion"`
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`
	URL                 string               `json:"url"`
	AccessToken         string               `json:"accessToken"`
}

// ID returns the connection identity to thread through subsequent URLs:
// connectionToken when negotiateVersion==1, else connectionId.
func (r Response) ID() string {
	if r.NegotiateVersion == 1 {
		return r.ConnectionToken
	}
	return r.ConnectionID
}

// ValidationError is returned when the negotiate response body is
// malformed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("negotiate: invalid response: %s", e.Reason)
}

// UnauthorizedError is returned when negotiate responds 401.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "negotiate: unauthorized" }

// HubError is returned when negotiate responds with any other non-2xx
// status.
type HubError struct {
	StatusCode int
}

func (e *HubError) Error() string {
	return fmt.Sprintf("negotiate: hub error, status %d", e.StatusCode)
}

// Result is the outcome of a successful negotiate call: the (possibly
// rewritten) URL and headers to use for the chosen transport, plus the
// parsed response.
type Result struct {
	URL      string
	Headers  http.Header
	Response Response
}

// Negotiator performs POST /negotiate and applies the connection-identity
// and Azure-redirect rules of spec §4.4.
type Negotiator struct {
	HTTPClient *http.Client
}

// NewNegotiator builds a Negotiator. A nil HTTPClient defaults to
// http.DefaultClient.
func NewNegotiator(client *http.Client) *Negotiator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Negotiator{HTTPClient: client}
}

// Negotiate performs the negotiate POST against hubURL with the given
// headers, validates and parses the response, and returns the URL/headers
// to use for the next step (connect or, for WebSocket, dial).
func (n *Negotiator) Negotiate(ctx context.Context, hubURL string, headers http.Header) (*Result, error) {
	negotiateURL, err := NegotiateURL(hubURL)
	if err != nil {
		return nil, fmt.Errorf("negotiate: build negotiate url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("negotiate: build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("negotiate: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("negotiate: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &UnauthorizedError{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HubError{StatusCode: resp.StatusCode}
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if parsed.ConnectionID == "" && parsed.ConnectionToken == "" {
		return nil, &ValidationError{Reason: "missing connectionId/connectionToken"}
	}
	if len(parsed.AvailableTransports) == 0 && parsed.URL == "" {
		return nil, &ValidationError{Reason: "availableTransports must be a non-empty list"}
	}

	outURL := hubURL
	outHeaders := headers.Clone()
	if outHeaders == nil {
		outHeaders = http.Header{}
	}

	if parsed.ConnectionID != "" {
		rewritten, err := EncodeConnectionID(hubURL, parsed.ID())
		if err != nil {
			return nil, fmt.Errorf("negotiate: encode connection id: %w", err)
		}
		outURL = rewritten
	}

	// Azure SignalR Service redirect: url + accessToken take precedence
	// over the plain connectionId rewrite above.
	if parsed.URL != "" && parsed.AccessToken != "" {
		outURL = parsed.URL
		outHeaders = http.Header{}
		outHeaders.Set("Authorization", "Bearer "+parsed.AccessToken)
	}

	// Result.URL is always kept in http(s) form here; TransportURL converts
	// it to ws/wss only once the caller has picked a transport, since SSE
	// and LongPolling both need a plain http(s) URL to dial (spec §4.4).
	outURL = WebSocketToHTTP(outURL)

	return &Result{URL: outURL, Headers: outHeaders, Response: parsed}, nil
}

// SelectTransport picks a transport from the negotiate response: the
// preferred transport if supplied and available, else falls back in the
// order WebSockets -> ServerSentEvents -> LongPolling. It also picks the
// preferred encoding if advertised for that transport, else the first
// advertised encoding.
func SelectTransport(resp Response, preferredTransport, preferredEncoding string) (transport, encoding string, err error) {
	byName := make(map[string]AvailableTransport, len(resp.AvailableTransports))
	for _, t := range resp.AvailableTransports {
		byName[t.Transport] = t
	}

	pick := func(name string) (AvailableTransport, bool) {
		t, ok := byName[name]
		return t, ok
	}

	var chosen AvailableTransport
	var ok bool

	if preferredTransport != "" {
		chosen, ok = pick(preferredTransport)
	}
	if !ok {
		for _, name := range []string{TransportWebSockets, TransportServerSentEvents, TransportLongPolling} {
			if chosen, ok = pick(name); ok {
				break
			}
		}
	}
	if !ok {
		return "", "", fmt.Errorf("negotiate: no supported transport available")
	}

	enc := chosen.TransferFormats[0]
	if preferredEncoding != "" {
		for _, f := range chosen.TransferFormats {
			if f == preferredEncoding {
				enc = f
				break
			}
		}
	}

	return chosen.Transport, enc, nil
}
