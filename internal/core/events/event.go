// Package events carries the change feed emitted by containers: one Change
// per committed transaction, delivered synchronously after the container's
// lock is released.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/item"
)

// SlotChange records one slot's before/after state within a committed
// transaction.
type SlotChange struct {
	Slot   int
	Before item.Stack
	After  item.Stack
}

// Change is an immutable snapshot of one committed transaction. The network
// layer serializes it into client-sync packets; this package does not own
// any wire format.
type Change struct {
	ID        uuid.UUID
	Container uuid.UUID
	Version   uint64
	Time      time.Time
	Slots     []SlotChange
}

// Handler consumes change events. Handlers run on the mutating goroutine
// with no container lock held; they may touch the source container but must
// not block indefinitely.
type Handler func(Change)

// Subscription is a cancellable registration handle.
type Subscription interface {
	ID() string
	IsActive() bool
	Cancel()
}

type subscription struct {
	id     string
	active bool
	cancel func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) IsActive() bool { return s.active }
func (s *subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
	s.active = false
}
