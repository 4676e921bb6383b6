package signalr

import "testing"

func TestSubjectRejectsNextBeforeAttached(t *testing.T) {
	s := NewSubject()
	if err := s.Next("item"); err == nil {
		t.Fatalf("want error calling Next before attach/start")
	}
}

func TestSubjectRejectsNextBeforeStart(t *testing.T) {
	s := NewSubject()
	s.attach(&HubConnection{}, "upload")
	if err := s.Next("item"); err == nil {
		t.Fatalf("want error calling Next before start")
	}
}

func TestSubjectRejectsOperationsAfterComplete(t *testing.T) {
	s := NewSubject()
	s.attach(&HubConnection{}, "upload")
	if err := s.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.completed = true

	if err := s.Next("item"); err == nil {
		t.Fatalf("want error calling Next after complete")
	}
	if err := s.Complete(); err == nil {
		t.Fatalf("want error calling Complete twice")
	}
}

func TestSubjectInvocationIDIsStable(t *testing.T) {
	s := NewSubject()
	id := s.invocationID
	if id == "" {
		t.Fatalf("want a non-empty invocation id at construction")
	}
	s.attach(&HubConnection{}, "upload")
	if s.invocationID != id {
		t.Fatalf("want invocation id unchanged by attach")
	}
}
