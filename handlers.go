package signalr

import (
	"encoding/json"
	"sync"
)

// InvocationHandler receives the outcome of a blocking Invoke call: either a
// decoded result or an error reported via a Completion message.
type InvocationHandler func(result json.RawMessage, err error)

// StreamHandler receives the events of a server-to-client stream started by
// Stream: Next for each StreamItem, Complete once on a successful
// Completion, Error once if the Completion carried an error or a
// CancelInvocation arrived for the stream.
type StreamHandler struct {
	Next     func(item json.RawMessage)
	Complete func()
	Error    func(err error)
}

// handlerRegistry holds the correlation tables of spec §3's Handlers
// type: target -> []callback for plain invocations, invocationId ->
// StreamHandler for in-flight streams, and invocationId ->
// InvocationHandler for pending Invoke calls. Every mutating and
// lookup operation takes the lock only long enough to read or copy state;
// user callbacks are always invoked after releasing it (spec §5: "never
// hold lock while invoking user callback").
type handlerRegistry struct {
	mu           sync.Mutex
	handlers     map[string][]func([]json.RawMessage)
	streams      map[string]*StreamHandler
	invocations  map[string]InvocationHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers:    make(map[string][]func([]json.RawMessage)),
		streams:     make(map[string]*StreamHandler),
		invocations: make(map[string]InvocationHandler),
	}
}

func (r *handlerRegistry) on(target string, cb func([]json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = append(r.handlers[target], cb)
}

func (r *handlerRegistry) callbacksFor(target string) []func([]json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cbs := r.handlers[target]
	out := make([]func([]json.RawMessage), len(cbs))
	copy(out, cbs)
	return out
}

func (r *handlerRegistry) registerStream(invocationID string, h *StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[invocationID] = h
}

func (r *handlerRegistry) stream(invocationID string) (*StreamHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.streams[invocationID]
	return h, ok
}

func (r *handlerRegistry) unregisterStream(invocationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, invocationID)
}

func (r *handlerRegistry) registerInvocation(invocationID string, h InvocationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations[invocationID] = h
}

func (r *handlerRegistry) invocation(invocationID string) (InvocationHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.invocations[invocationID]
	return h, ok
}

func (r *handlerRegistry) unregisterInvocation(invocationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.invocations, invocationID)
}
