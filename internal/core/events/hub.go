package events

import (
	"sync"

	"github.com/google/uuid"
)

// Feed is the subset of the container contract the hub consumes.
type Feed interface {
	ID() uuid.UUID
	OnChange(Handler) Subscription
}

// Metrics counts hub activity. Snapshot semantics; read with Metrics().
type Metrics struct {
	Published   uint64
	Delivered   uint64
	Watched     uint64
	Subscribers uint64
}

// Hub multiplexes many containers' change feeds into one subscribable
// stream. Transport consumers subscribe per container id or to everything;
// they never touch container internals.
type Hub struct {
	mu sync.RWMutex
	// byContainer: container id -> sub id -> handler
	byContainer map[uuid.UUID]map[string]Handler
	all         map[string]Handler
	subs        map[string]*subscription
	watches     map[uuid.UUID]Subscription
	metrics     Metrics
}

func NewHub() *Hub {
	return &Hub{
		byContainer: make(map[uuid.UUID]map[string]Handler),
		all:         make(map[string]Handler),
		subs:        make(map[string]*subscription),
		watches:     make(map[uuid.UUID]Subscription),
	}
}

// Watch connects a container feed to the hub. Watching the same container
// twice is a no-op.
func (h *Hub) Watch(f Feed) {
	h.mu.Lock()
	if _, exists := h.watches[f.ID()]; exists {
		h.mu.Unlock()
		return
	}
	// Reserve the entry before subscribing so a concurrent Watch backs off.
	h.watches[f.ID()] = nil
	h.metrics.Watched++
	h.mu.Unlock()

	sub := f.OnChange(func(c Change) { h.publish(c) })

	h.mu.Lock()
	h.watches[f.ID()] = sub
	h.mu.Unlock()
}

// Unwatch disconnects a container feed.
func (h *Hub) Unwatch(id uuid.UUID) {
	h.mu.Lock()
	sub := h.watches[id]
	delete(h.watches, id)
	if h.metrics.Watched > 0 {
		h.metrics.Watched--
	}
	h.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Subscribe delivers changes from one container.
func (h *Hub) Subscribe(container uuid.UUID, handler Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	if h.byContainer[container] == nil {
		h.byContainer[container] = make(map[string]Handler)
	}
	h.byContainer[container][id] = handler
	s := &subscription{id: id, active: true}
	s.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m := h.byContainer[container]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(h.byContainer, container)
			}
		}
		delete(h.subs, id)
	}
	h.subs[id] = s
	return s
}

// SubscribeAll delivers changes from every watched container.
func (h *Hub) SubscribeAll(handler Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	h.all[id] = handler
	s := &subscription{id: id, active: true}
	s.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.all, id)
		delete(h.subs, id)
	}
	h.subs[id] = s
	return s
}

// Metrics returns a snapshot of hub counters.
func (h *Hub) Metrics() Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.metrics
	m.Subscribers = uint64(len(h.subs))
	return m
}

// Close cancels every watch and drops all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	watches := make([]Subscription, 0, len(h.watches))
	for _, sub := range h.watches {
		if sub != nil {
			watches = append(watches, sub)
		}
	}
	h.watches = make(map[uuid.UUID]Subscription)
	h.byContainer = make(map[uuid.UUID]map[string]Handler)
	h.all = make(map[string]Handler)
	h.subs = make(map[string]*subscription)
	h.metrics = Metrics{}
	h.mu.Unlock()

	for _, sub := range watches {
		sub.Cancel()
	}
}

func (h *Hub) publish(c Change) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.all)+4)
	for _, handler := range h.byContainer[c.Container] {
		handlers = append(handlers, handler)
	}
	for _, handler := range h.all {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(c)
	}

	h.mu.Lock()
	h.metrics.Published++
	h.metrics.Delivered += uint64(len(handlers))
	h.mu.Unlock()
}
