package negotiate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNegotiateURLAppendsPathPreservesQuery(t *testing.T) {
	got, err := NegotiateURL("ws://example.com/hub?foo=bar")
	if err != nil {
		t.Fatalf("NegotiateURL: %v", err)
	}
	want := "http://example.com/hub/negotiate?foo=bar"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestNegotiateURLTrailingSlashPath(t *testing.T) {
	got, err := NegotiateURL("https://example.com/hub/")
	if err != nil {
		t.Fatalf("NegotiateURL: %v", err)
	}
	want := "https://example.com/hub/negotiate"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestEncodeConnectionIDPreservesScheme(t *testing.T) {
	got, err := EncodeConnectionID("https://example.com/hub", "abc123")
	if err != nil {
		t.Fatalf("EncodeConnectionID: %v", err)
	}
	want := "https://example.com/hub?id=abc123"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestTransportURLWebSocketsRewritesToWS(t *testing.T) {
	got := TransportURL("https://example.com/hub?id=abc123", TransportWebSockets)
	want := "wss://example.com/hub?id=abc123"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestTransportURLSSEAndLongPollingStayHTTP(t *testing.T) {
	for _, name := range []string{TransportServerSentEvents, TransportLongPolling} {
		got := TransportURL("https://example.com/hub?id=abc123", name)
		want := "https://example.com/hub?id=abc123"
		if got != want {
			t.Fatalf("%s: want %q, got %q", name, want, got)
		}
	}
}

func TestNegotiateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("want POST, got %s", r.Method)
		}
		if r.URL.Path != "/hub/negotiate" {
			t.Fatalf("want /hub/negotiate, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"negotiateVersion": 1,
			"connectionId": "conn-1",
			"connectionToken": "token-1",
			"availableTransports": [
				{"transport": "WebSockets", "transferFormats": ["Text", "Binary"]}
			]
		}`))
	}))
	defer srv.Close()

	n := NewNegotiator(srv.Client())
	result, err := n.Negotiate(context.Background(), srv.URL+"/hub", http.Header{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if result.Response.ID() != "token-1" {
		t.Fatalf("want connectionToken as id for negotiateVersion 1, got %q", result.Response.ID())
	}

	transport, encoding, err := SelectTransport(result.Response, "", "")
	if err != nil {
		t.Fatalf("SelectTransport: %v", err)
	}
	if transport != TransportWebSockets || encoding != EncodingText {
		t.Fatalf("want WebSockets/Text, got %s/%s", transport, encoding)
	}
}

func TestNegotiateUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewNegotiator(srv.Client())
	_, err := n.Negotiate(context.Background(), srv.URL+"/hub", http.Header{})
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("want UnauthorizedError, got %v", err)
	}
}

func TestNegotiateAzureRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"negotiateVersion": 0,
			"connectionId": "conn-1",
			"url": "https://azure.example.com/hub",
			"accessToken": "azure-token",
			"availableTransports": [
				{"transport": "WebSockets", "transferFormats": ["Text"]}
			]
		}`))
	}))
	defer srv.Close()

	n := NewNegotiator(srv.Client())
	result, err := n.Negotiate(context.Background(), srv.URL+"/hub", http.Header{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if result.URL != "https://azure.example.com/hub" {
		t.Fatalf("want azure redirect url kept as http(s), got %q", result.URL)
	}
	if result.Headers.Get("Authorization") != "Bearer azure-token" {
		t.Fatalf("want bearer header installed, got %q", result.Headers.Get("Authorization"))
	}
}

func TestNegotiateHubError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNegotiator(srv.Client())
	_, err := n.Negotiate(context.Background(), srv.URL+"/hub", http.Header{})
	var hubErr *HubError
	if !errors.As(err, &hubErr) || hubErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("want HubError(500), got %v", err)
	}
}
