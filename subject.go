package signalr

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Subject is a client-to-server stream source: HubConnection.UploadStream
// announces it to the server as the stream argument of an Invocation and
// then starts it, Next sends one item,
// Complete ends it. Grounded on the original's Subject (subject.py): one
// invocation id for the stream's lifetime, every send serialized under a
// lock so Next/Complete calls from multiple goroutines cannot interleave
// their frames.
type Subject struct {
	mu           sync.Mutex
	conn         *HubConnection
	target       string
	invocationID string
	started      bool
	completed    bool
}

// NewSubject builds a Subject bound to no connection yet;
// HubConnection.UploadStream creates its own Subject and attaches it to the
// live connection. A Subject passed to Send is marshaled like any other
// argument and is not attached.
func NewSubject() *Subject {
	return &Subject{invocationID: uuid.NewString()}
}

func (s *Subject) attach(conn *HubConnection, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.target = target
}

func (s *Subject) check() error {
	if s.conn == nil || s.target == "" {
		return &ArgumentError{Reason: "stream subject is not attached to an invocation"}
	}
	if s.completed {
		return &ArgumentError{Reason: "stream subject already completed"}
	}
	return nil
}

// start marks the stream as announced, which Next requires; it sends
// nothing itself. UploadStream calls it once, right after sending the
// Invocation that references the stream.
func (s *Subject) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Next sends one item on the stream.
func (s *Subject) Next(item interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if !s.started {
		return &ArgumentError{Reason: "stream subject not yet started"}
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("signalr: marshal stream item: %w", err)
	}
	return s.conn.sendStreamItem(s.invocationID, raw)
}

// Complete ends the stream.
func (s *Subject) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.completed = true
	return s.conn.sendStreamCompletion(s.invocationID)
}
