package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLongPollingClientDeliversRecordSeparatedMessages(t *testing.T) {
	var pollCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("want GET, got %s", r.Method)
			return
		}
		n := atomic.AddInt32(&pollCount, 1)
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{\"type\":6}\x1e"))
			return
		}
		// subsequent polls: end the logical connection.
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	received := make(chan []byte, 1)
	closed := make(chan struct{}, 1)

	client := NewLongPollingClient(LongPollingConfig{URL: srv.URL}, Callbacks{
		OnMessage: func(data []byte) { received <- data },
		OnClose:   func() { closed <- struct{}{} },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":6}` {
			t.Fatalf("want decoded record, got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for long-polling message")
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnClose after 204")
	}
}

func TestLongPollingClientSendPosts(t *testing.T) {
	gotBody := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			gotBody <- body
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewLongPollingClient(LongPollingConfig{URL: srv.URL}, Callbacks{})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("upstream")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case body := <-gotBody:
		if string(body) != "upstream" {
			t.Fatalf("want %q, got %q", "upstream", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream POST")
	}
}

func TestLongPollingClientCloseSendsDelete(t *testing.T) {
	gotDelete := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			gotDelete <- struct{}{}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewLongPollingClient(LongPollingConfig{URL: srv.URL}, Callbacks{})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-gotDelete:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for DELETE on Close")
	}

	if !client.IsConnectionClosed() {
		t.Fatal("want closed after poll loop ends")
	}
}
