package reconnect

import (
	"errors"
	"testing"
	"time"
)

func TestRawPolicyCapsAttempts(t *testing.T) {
	p := NewRaw(2*time.Second, 3)

	for i := 0; i < 3; i++ {
		d, err := p.Next()
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if d != 2*time.Second {
			t.Fatalf("attempt %d: want 2s, got %v", i, d)
		}
	}

	if _, err := p.Next(); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("want ErrAttemptsExhausted after cap, got %v", err)
	}
}

func TestRawPolicyResetReturnsFirstDelay(t *testing.T) {
	p := NewRaw(time.Second, 1)
	if _, err := p.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if _, err := p.Next(); err == nil {
		t.Fatalf("want exhaustion before reset")
	}
	p.Reset()
	d, err := p.Next()
	if err != nil {
		t.Fatalf("Next after Reset: %v", err)
	}
	if d != time.Second {
		t.Fatalf("want first delay again, got %v", d)
	}
}

func TestRawPolicyUnlimited(t *testing.T) {
	p := NewRaw(time.Millisecond, 0)
	for i := 0; i < 1000; i++ {
		if _, err := p.Next(); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
	}
}

func TestIntervalPolicySequence(t *testing.T) {
	intervals := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	p := NewInterval(intervals)

	for i, want := range intervals {
		got, err := p.Next()
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Fatalf("attempt %d: want %v, got %v", i, want, got)
		}
	}

	if _, err := p.Next(); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("want ErrAttemptsExhausted after sequence, got %v", err)
	}
}

func TestIntervalPolicyResetReturnsFirstDelay(t *testing.T) {
	p := NewInterval([]time.Duration{time.Second, 2 * time.Second})
	_, _ = p.Next()
	_, _ = p.Next()
	p.Reset()
	got, err := p.Next()
	if err != nil {
		t.Fatalf("Next after Reset: %v", err)
	}
	if got != time.Second {
		t.Fatalf("want first delay again, got %v", got)
	}
}

func TestReconnectingFlag(t *testing.T) {
	p := NewRaw(time.Second, 0)
	if p.Reconnecting() {
		t.Fatalf("want false initially")
	}
	p.SetReconnecting(true)
	if !p.Reconnecting() {
		t.Fatalf("want true after SetReconnecting(true)")
	}
}
