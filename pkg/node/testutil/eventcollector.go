// Package testutil provides deterministic test helpers for asserting on
// a Node's asynchronous event stream: a buffering subscriber with a
// WaitFor predicate loop instead of fixed sleeps.
package testutil

import (
	"sync"
	"time"

	"github.com/juanpablocruz/actionsync/pkg/node"
)

// EventCollector subscribes to a Node's event stream and buffers events
// for deterministic assertions in tests without racing on emission order.
type EventCollector struct {
	notify chan struct{}

	mu     sync.Mutex
	buf    []node.Event
	unbind func()
}

// NewEventCollector creates an unattached collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{notify: make(chan struct{}, 1)}
}

// Attach starts buffering n's events.
func (ec *EventCollector) Attach(n *node.Node) {
	ec.unbind = n.On(func(e node.Event) {
		ec.mu.Lock()
		ec.buf = append(ec.buf, e)
		select {
		case ec.notify <- struct{}{}:
		default:
		}
		ec.mu.Unlock()
	})
}

// Detach stops buffering.
func (ec *EventCollector) Detach() {
	if ec.unbind != nil {
		ec.unbind()
	}
}

// Snapshot returns a copy of buffered events.
func (ec *EventCollector) Snapshot() []node.Event {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]node.Event, len(ec.buf))
	copy(out, ec.buf)
	return out
}

// WaitFor blocks until pred holds over the buffered events or timeout
// elapses, returning whether pred was satisfied.
func (ec *EventCollector) WaitFor(timeout time.Duration, pred func([]node.Event) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if pred(ec.Snapshot()) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-ec.notify:
		case <-time.After(remaining):
			return false
		}
	}
}
