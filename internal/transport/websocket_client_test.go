package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newWSEchoServer starts an httptest server that upgrades to WebSocket and
// echoes every text frame it receives back to the client.
func newWSEchoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestWebSocketClientSendReceive(t *testing.T) {
	srv, wsURL := newWSEchoServer(t)
	defer srv.Close()

	opened := make(chan struct{}, 1)
	received := make(chan []byte, 1)
	closed := make(chan struct{}, 1)

	client := NewWebSocketClient(WebSocketConfig{URL: wsURL}, Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(data []byte) { received <- data },
		OnClose:   func() { closed <- struct{}{} },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatal("timed out waiting for OnOpen")
	}

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Fatalf("want echoed %q, got %q", "hello", data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for echoed message")
	}

	if client.IsConnectionClosed() {
		t.Fatal("want not closed before Close")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	if !client.IsConnectionClosed() {
		t.Fatal("want closed after Close")
	}
}

func TestWebSocketClientConcurrentSendAndPingDoNotRace(t *testing.T) {
	srv, wsURL := newWSEchoServer(t)
	defer srv.Close()

	client := NewWebSocketClient(WebSocketConfig{URL: wsURL}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// Drive many concurrent Send calls while the ping loop runs in the
	// background; run with -race to catch the unsynchronized write this
	// guards against.
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			done <- client.Send([]byte("x"))
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
}
