package subs

import (
	"sync"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Router demultiplexes inbound frames to each subscription's sink.
// Frames for unknown subscription ids (late frames of a just-retired
// subscription) are discarded without error.
type Router struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{sinks: make(map[string]Sink)}
}

// Bind registers the sink for a subscription id.
func (r *Router) Bind(id string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = sink
}

// Unbind removes a subscription id. Subsequent frames for it are
// dropped.
func (r *Router) Unbind(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

// DispatchEvent delivers an event to the sink bound to st.ID,
// reporting whether a sink was found. Delivery is synchronous so the
// caller's per-subscription arrival order is preserved end to end.
func (r *Router) DispatchEvent(st State, ev *wire.RecordedEvent) bool {
	r.mu.RLock()
	sink, ok := r.sinks[st.ID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	sink.OnEvent(st, ev)
	return true
}

// DispatchState delivers a subscription state update.
func (r *Router) DispatchState(st State) bool {
	r.mu.RLock()
	sink, ok := r.sinks[st.ID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	sink.OnSubscriptionState(st)
	return true
}
