package events

import (
	"sync"

	"github.com/google/uuid"
)

// Emitter is the per-container listener registry. Registration and emission
// are thread-safe; emission snapshots the handler set so a handler may
// cancel its own subscription while running.
type Emitter struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	// handlers is kept alongside subs because subscriptions only carry
	// bookkeeping; the emitter owns the handler functions.
	handlers map[string]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{
		subs:     make(map[string]*subscription),
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers a handler and returns its cancellation handle.
func (e *Emitter) Subscribe(h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	s := &subscription{id: id, active: true}
	s.cancel = func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
		delete(e.handlers, id)
	}
	e.subs[id] = s
	e.handlers[id] = h
	return s
}

// Emit delivers a change to every active subscriber, synchronously, in
// unspecified order. Callers must not hold the container lock.
func (e *Emitter) Emit(c Change) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers))
	for id, h := range e.handlers {
		if s := e.subs[id]; s != nil && s.active {
			handlers = append(handlers, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}

// Len returns the number of active subscriptions.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
