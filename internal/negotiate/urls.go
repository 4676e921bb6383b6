// Package negotiate performs the SignalR negotiate handshake: POST
// /negotiate, parse the response, and pick a transport/encoding pair.
package negotiate

import "net/url"

// WebSocketToHTTP rewrites a ws/wss URL to its http/https equivalent,
// leaving any other scheme untouched.
func WebSocketToHTTP(raw string) string {
	return replaceScheme(raw, "ws", "wss", "http", "https")
}

// HTTPToWebSocket rewrites an http/https URL to its ws/wss equivalent,
// leaving any other scheme untouched.
func HTTPToWebSocket(raw string) string {
	return replaceScheme(raw, "http", "https", "ws", "wss")
}

func replaceScheme(raw, source, secureSource, dest, secureDest string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case secureSource:
		u.Scheme = secureDest
	case source:
		u.Scheme = dest
	}
	return u.String()
}

// NegotiateURL appends the /negotiate path segment to a hub URL, preserving
// any existing query string, per spec §4.4: strip to HTTP(S), append
// "/negotiate" (or "negotiate" if the path already ends in "/"), then
// re-attach the query.
func NegotiateURL(raw string) (string, error) {
	u, err := url.Parse(WebSocketToHTTP(raw))
	if err != nil {
		return "", err
	}
	if len(u.Path) > 0 && u.Path[len(u.Path)-1] == '/' {
		u.Path += "negotiate"
	} else {
		u.Path += "/negotiate"
	}
	return u.String(), nil
}

// EncodeConnectionID sets the "id" query parameter on a hub URL to the
// given connection identity, preserving whatever scheme raw already has.
// Negotiate keeps this in http(s) form; the ws/wss rewrite only applies
// once a transport is chosen (see TransportURL) since SSE and LongPolling
// both need a plain http(s) URL to dial.
func EncodeConnectionID(raw, id string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TransportURL rewrites a negotiated connection URL to the scheme the
// chosen transport needs: ws/wss for WebSockets, left as http(s) for
// ServerSentEvents and LongPolling (spec §4.4: "re-emit as WebSocket/HTTP
// as appropriate for the chosen transport").
func TransportURL(raw, transportName string) string {
	if transportName == TransportWebSockets {
		return HTTPToWebSocket(raw)
	}
	return WebSocketToHTTP(raw)
}
