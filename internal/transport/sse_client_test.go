package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSEClientReceivesFramedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("want GET, got %s", r.Method)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		io.WriteString(w, "data: {\"type\":6}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	received := make(chan []byte, 1)
	opened := make(chan struct{}, 1)

	client := NewSSEClient(SSEConfig{URL: srv.URL}, Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(data []byte) { received <- data },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatal("timed out waiting for OnOpen")
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, []byte(`{"type":6}`)) {
			t.Fatalf("want parsed data payload, got %q", data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for SSE event")
	}
}

func TestSSEClientSendPostsUpstream(t *testing.T) {
	gotBody := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			gotBody <- body
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewSSEClient(SSEConfig{URL: srv.URL}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("payload")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case body := <-gotBody:
		if string(body) != "payload" {
			t.Fatalf("want %q, got %q", "payload", body)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for upstream POST")
	}
}

func TestSSEClientRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewSSEClient(SSEConfig{URL: srv.URL}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err == nil {
		t.Fatal("want error for non-200 SSE connect")
	}
}
