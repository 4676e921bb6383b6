// Package reconnect implements the two SignalR automatic-reconnect
// schedules: a fixed-delay "raw" policy and an explicit-interval-list
// policy. Both compose with github.com/cenkalti/backoff/v4's BackOff
// interface so the adapter can drive either one through the same retry
// loop shape the ecosystem already provides.
package reconnect

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAttemptsExhausted is returned by Next once a policy has no further
// delay to offer.
var ErrAttemptsExhausted = errors.New("reconnect: attempts exhausted")

// Policy is the contract the transport adapter drives on every failed
// connection: Next returns how long to wait before the next attempt (or
// ErrAttemptsExhausted), Reset zeroes the attempt counter after a
// successful reconnect, and Reconnecting reports whether a retry is
// currently pending.
type Policy interface {
	backoff.BackOff
	Next() (time.Duration, error)
	Reset()
	SetReconnecting(bool)
	Reconnecting() bool
}

// Raw is a fixed-delay policy capped at MaxAttempts retries (MaxAttempts
// == 0 means unlimited).
type Raw struct {
	SleepTime   time.Duration
	MaxAttempts int

	mu            sync.Mutex
	attemptNumber int
	reconnecting  bool
}

// NewRaw builds a Raw policy. maxAttempts == 0 means retry forever.
func NewRaw(sleepTime time.Duration, maxAttempts int) *Raw {
	return &Raw{SleepTime: sleepTime, MaxAttempts: maxAttempts}
}

// Next returns SleepTime and advances the attempt counter, or
// ErrAttemptsExhausted once MaxAttempts is exceeded.
func (r *Raw) Next() (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MaxAttempts > 0 && r.attemptNumber >= r.MaxAttempts {
		return 0, ErrAttemptsExhausted
	}
	r.attemptNumber++
	return r.SleepTime, nil
}

// Reset zeroes the attempt counter.
func (r *Raw) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attemptNumber = 0
}

// SetReconnecting sets the reconnecting flag the adapter consults while a
// retry is pending.
func (r *Raw) SetReconnecting(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnecting = v
}

// Reconnecting reports whether a retry is currently pending.
func (r *Raw) Reconnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnecting
}

// NextBackOff implements backoff.BackOff, translating ErrAttemptsExhausted
// into backoff.Stop.
func (r *Raw) NextBackOff() time.Duration {
	d, err := r.Next()
	if err != nil {
		return backoff.Stop
	}
	return d
}

// Reset also satisfies backoff.BackOff (same signature as our own Reset).

// Interval is a finite sequence of delays; Next raises
// ErrAttemptsExhausted once exhausted.
type Interval struct {
	Intervals []time.Duration

	mu            sync.Mutex
	attemptNumber int
	reconnecting  bool
}

// NewInterval builds an Interval policy over the given delay sequence.
func NewInterval(intervals []time.Duration) *Interval {
	return &Interval{Intervals: intervals}
}

// Next returns the next delay in the sequence, or ErrAttemptsExhausted
// once the sequence is exhausted.
func (i *Interval) Next() (time.Duration, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.attemptNumber >= len(i.Intervals) {
		return 0, ErrAttemptsExhausted
	}
	d := i.Intervals[i.attemptNumber]
	i.attemptNumber++
	return d, nil
}

// Reset zeroes the attempt counter so Next after Reset returns the first
// delay again.
func (i *Interval) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.attemptNumber = 0
}

// SetReconnecting sets the reconnecting flag.
func (i *Interval) SetReconnecting(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reconnecting = v
}

// Reconnecting reports whether a retry is currently pending.
func (i *Interval) Reconnecting() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reconnecting
}

// NextBackOff implements backoff.BackOff.
func (i *Interval) NextBackOff() time.Duration {
	d, err := i.Next()
	if err != nil {
		return backoff.Stop
	}
	return d
}
