// Package container implements the transactional item-container engine:
// slot-based storage with filtered, locked, all-or-nothing mutations and a
// change feed per container.
//
// One contract, four backings. Slotted owns a plain slot array; Combined
// presents several containers as one virtual slot range; Delegate wraps a
// container with an extra filter layer; StackBacked stores its slots inside
// the metadata blob of an item held by another container. All of them drive
// the same slot algorithms (ops.go) over resolved leaf references, so the
// stacking, material-removal, move and clear semantics are written exactly
// once.
package container

import (
	"errors"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

var (
	// ErrUnsupported marks operations a container kind deliberately does not
	// provide (Clone/SetPolicy on Combined, slot addressing on Empty).
	ErrUnsupported = errors.New("container: unsupported operation")

	// ErrStaleBacking means a StackBacked view found its backing item
	// replaced or removed. The view is dead; acquire a new one.
	ErrStaleBacking = errors.New("container: backing item changed")
)

// Definitions supplies the per-type data the engine needs from the item
// registry: stack limits plus tag/resource expansion.
type Definitions interface {
	MaxStack(item.TypeID) int
	material.Resolver
}

// AddOptions tunes the stacking algorithm.
type AddOptions struct {
	// AllOrNothing rolls the add back to a no-op unless the full quantity
	// fits.
	AllOrNothing bool
	// TopUpOnly restricts the add to topping up existing compatible stacks;
	// empty slots are not opened.
	TopUpOnly bool
}

// Container is the capability set shared by every backing. All mutating
// operations are atomic under the container's locks; routine shortfalls and
// filter rejections are reported in the returned transaction, while the
// error channel carries only contract violations (ErrUnsupported,
// ErrStaleBacking). Slot indexes outside [0, Capacity) panic.
type Container interface {
	// ID identifies the container in change events.
	ID() uuid.UUID
	Capacity() int

	// StackAt returns the stack in a slot, or the empty stack.
	StackAt(slot int) item.Stack
	// ForEach visits occupied slots in ascending order under a read lock
	// until the visitor returns false. The visitor must not re-enter the
	// container; the lock is not reentrant.
	ForEach(fn func(slot int, s item.Stack) bool) error
	// WireSnapshot returns every slot, 0..Capacity-1, for initial client
	// sync.
	WireSnapshot() []item.Stack

	Policy() filter.Policy
	SetPolicy(p filter.Policy) error

	// Add stacks the item into the container: compatible occupied slots are
	// topped up first in ascending slot order, then empty slots are filled.
	Add(s item.Stack, opts AddOptions) (StackTransaction, error)
	// SetSlot overwrites a slot, bypassing stacking but not filters.
	SetSlot(slot int, s item.Stack) (SlotTransaction, error)
	// RemoveFromSlot takes up to qty from one slot.
	RemoveFromSlot(slot int, qty int, allOrNothing bool) (SlotTransaction, error)
	// RemoveMaterial removes a material request, scanning slots in
	// ascending order, first fit. The scan order is a documented contract;
	// callers may rely on it for determinism.
	RemoveMaterial(q material.Quantity, allOrNothing bool) (MaterialTransaction, error)
	// TestRemoveMaterial simulates RemoveMaterial and returns the quantity
	// that would remain unsatisfied. Nothing is mutated.
	TestRemoveMaterial(q material.Quantity) (int, error)
	// CountMaterial returns the total removable quantity matching the
	// request, under the same filter discipline as RemoveMaterial.
	CountMaterial(q material.Quantity) (int, error)
	// Move transfers qty from a slot of this container into a slot of dst,
	// which may be the same container. Both containers' locks are acquired
	// before either is touched. An occupied destination of the same kind
	// merges up to the stack limit; a different item swaps full stacks.
	Move(fromSlot int, qty int, dst Container, toSlot int) (MoveTransaction, error)
	// Clear empties every slot whose remove filter permits it and reports
	// the slots that refused.
	Clear() (ClearTransaction, error)

	// OnChange registers a listener invoked synchronously after each
	// committed transaction, once the lock is released.
	OnChange(h events.Handler) events.Subscription

	// Clone deep-copies the container contents and configuration under a
	// fresh identity, without listeners.
	Clone() (Container, error)

	// refs resolves every virtual slot to its leaf address, ascending.
	refs() ([]ref, error)
	// refAt resolves one virtual slot. Out-of-range panics; containers
	// without addressable slots return ErrUnsupported.
	refAt(slot int) (ref, error)
}
