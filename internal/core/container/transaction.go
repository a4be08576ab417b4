package container

import (
	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// transaction is the shared core of every result type: whether anything was
// committed and the per-slot before/after states. Transactions are
// immutable snapshots; they are returned once and never mutated.
type transaction struct {
	committed bool
	changes   []events.SlotChange
}

// Committed reports whether the operation mutated the container. A false
// value means the container is untouched and the remainder equals the
// requested quantity.
func (t transaction) Committed() bool { return t.committed }

// Changes lists the slots touched, with their before/after stacks, in the
// order they were planned (ascending slot scan for add/remove/clear).
func (t transaction) Changes() []events.SlotChange { return t.changes }

// StackTransaction is the result of Add.
type StackTransaction struct {
	transaction
	// Remainder is the quantity that found no slot.
	Remainder int
}

// SlotTransaction is the result of SetSlot and RemoveFromSlot.
type SlotTransaction struct {
	transaction
	Slot int
	// Removed is the stack portion taken out of the slot, if any.
	Removed item.Stack
	// Remainder is the requested quantity that was not removed.
	Remainder int
}

// MaterialTransaction is the result of RemoveMaterial.
type MaterialTransaction struct {
	transaction
	Request material.Quantity
	// Remainder is the requested amount that no matching slot could supply.
	Remainder int
}

// MoveTransaction is the result of Move.
type MoveTransaction struct {
	transaction
	From int
	To   int
	// Moved is the quantity transferred. For a swap it is the source stack
	// size.
	Moved int
	// Swapped is set when source and destination exchanged different items.
	Swapped bool
	// Remainder is the requested quantity left at the source.
	Remainder int
}

// ClearTransaction is the result of Clear. Clear always executes; slots
// whose remove filter refused are listed in Skipped and left untouched.
type ClearTransaction struct {
	transaction
	Skipped []int
}

func failedStack(qty int) StackTransaction {
	return StackTransaction{Remainder: qty}
}

func failedSlot(slot, qty int) SlotTransaction {
	return SlotTransaction{Slot: slot, Remainder: qty}
}

func failedMaterial(q material.Quantity) MaterialTransaction {
	return MaterialTransaction{Request: q, Remainder: q.Amount()}
}

func failedMove(from, to, qty int) MoveTransaction {
	return MoveTransaction{From: from, To: to, Remainder: qty}
}
