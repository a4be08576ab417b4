package container

import (
	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// Empty is the zero-capacity null container: every add reports the full
// quantity as remainder, every removal removes nothing, and no operation
// errors except those that address slots. It is safe to share; all values
// are interchangeable.
type Empty struct{}

// emptyEmitter backs OnChange subscriptions on Empty. They are real,
// cancellable handles that never fire.
var emptyEmitter = events.NewEmitter()

func (Empty) ID() uuid.UUID { return uuid.Nil }
func (Empty) Capacity() int { return 0 }

func (Empty) StackAt(slot int) item.Stack {
	panic("container: empty container has no slots")
}

func (Empty) ForEach(func(slot int, s item.Stack) bool) error { return nil }

func (Empty) WireSnapshot() []item.Stack { return []item.Stack{} }

func (Empty) Policy() filter.Policy         { return filter.DenyAll }
func (Empty) SetPolicy(filter.Policy) error { return ErrUnsupported }

func (Empty) Add(s item.Stack, _ AddOptions) (StackTransaction, error) {
	if s.IsEmpty() {
		panic("container: add of empty stack")
	}
	return failedStack(s.Qty), nil
}

func (Empty) SetSlot(int, item.Stack) (SlotTransaction, error) {
	return SlotTransaction{}, ErrUnsupported
}

func (Empty) RemoveFromSlot(int, int, bool) (SlotTransaction, error) {
	return SlotTransaction{}, ErrUnsupported
}

func (Empty) RemoveMaterial(q material.Quantity, _ bool) (MaterialTransaction, error) {
	return failedMaterial(q), nil
}

func (Empty) TestRemoveMaterial(q material.Quantity) (int, error) { return q.Amount(), nil }

func (Empty) CountMaterial(material.Quantity) (int, error) { return 0, nil }

func (Empty) Move(int, int, Container, int) (MoveTransaction, error) {
	return MoveTransaction{}, ErrUnsupported
}

func (Empty) Clear() (ClearTransaction, error) {
	return ClearTransaction{transaction: transaction{committed: true}}, nil
}

func (Empty) OnChange(h events.Handler) events.Subscription {
	return emptyEmitter.Subscribe(h)
}

func (e Empty) Clone() (Container, error) { return e, nil }

func (Empty) refs() ([]ref, error) { return nil, nil }

func (Empty) refAt(int) (ref, error) { return ref{}, ErrUnsupported }
