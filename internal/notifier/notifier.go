// Package notifier demultiplexes inbound push events by kind. It holds no
// business logic: each kind has at most one subscriber and Dispatch just
// routes the event there.
package notifier

import (
	"fmt"
	"log"
	"sync"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// Handler consumes one event kind.
type Handler func(protocol.Event)

// Notifier routes events to their kind's subscriber. Safe for concurrent
// use; handlers run on the dispatching goroutine, outside the lock.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[protocol.EventKind]Handler
	dropped  map[protocol.EventKind]int
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{
		handlers: make(map[protocol.EventKind]Handler),
		dropped:  make(map[protocol.EventKind]int),
	}
}

// Subscribe sets the handler for kind. A kind already subscribed is an
// error: every event goes to exactly one component.
func (n *Notifier) Subscribe(kind protocol.EventKind, h Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.handlers[kind]; ok {
		return fmt.Errorf("event kind %q already has a subscriber", kind)
	}
	n.handlers[kind] = h
	return nil
}

// Unsubscribe removes the handler for kind.
func (n *Notifier) Unsubscribe(kind protocol.EventKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, kind)
}

// UnsubscribeAll removes every handler. Events dispatched afterwards are
// dropped.
func (n *Notifier) UnsubscribeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = make(map[protocol.EventKind]Handler)
}

// Dispatch delivers e to its kind's subscriber. It reports whether a
// subscriber received it.
func (n *Notifier) Dispatch(e protocol.Event) bool {
	n.mu.RLock()
	h, ok := n.handlers[e.Kind]
	n.mu.RUnlock()

	if !ok {
		n.mu.Lock()
		n.dropped[e.Kind]++
		count := n.dropped[e.Kind]
		n.mu.Unlock()
		if count == 1 {
			log.Printf("WARNING: no subscriber for push event %q, dropping", e.Kind)
		}
		return false
	}
	h(e)
	return true
}

// Dropped returns how many events of kind arrived with no subscriber.
func (n *Notifier) Dropped(kind protocol.EventKind) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dropped[kind]
}
