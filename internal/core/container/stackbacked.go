package container

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// StackBacked is a container view over the metadata blob of an item sitting
// in another container: a backpack in a chest slot. Slots are decoded from
// the blob once at construction; every committed mutation re-encodes them
// into the backing item in the same transaction, so the parent slot and the
// view never diverge.
//
// The view pins the backing item by type and metadata fingerprint. If the
// item is removed, replaced or externally rewritten, every subsequent
// operation fails with ErrStaleBacking and the view must be reopened.
type StackBacked struct {
	id        uuid.UUID
	capacity  int
	defs      Definitions
	lock      *lockHandle
	emitter   *events.Emitter
	parentRef ref

	// Guarded by locksFor (own handle plus the parent chain).
	slots        map[int]item.Stack
	policy       filter.Policy
	version      uint64
	expectedType item.TypeID
	expectedFP   uint64
	dirty        bool
	pending      events.SlotChange
}

// NewStackBacked opens a view over the item in parent's slot. The slot must
// hold an item whose metadata decodes as a slot blob (an empty blob is a
// fresh, empty view). Decoded entries outside [0, capacity) are rejected.
func NewStackBacked(parent Container, slot int, capacity int, defs Definitions) (*StackBacked, error) {
	if capacity <= 0 {
		panic(fmt.Sprintf("container: capacity must be positive, got %d", capacity))
	}
	if defs == nil {
		panic("container: nil definitions")
	}
	backing := parent.StackAt(slot)
	if backing.IsEmpty() {
		return nil, fmt.Errorf("open view: slot %d is empty: %w", slot, ErrStaleBacking)
	}
	slots, err := item.DecodeSlots(backing.Meta)
	if err != nil {
		return nil, fmt.Errorf("open view: %w", err)
	}
	for s := range slots {
		if s >= capacity {
			return nil, fmt.Errorf("open view: stored slot %d exceeds capacity %d", s, capacity)
		}
	}
	pr, err := parent.refAt(slot)
	if err != nil {
		return nil, fmt.Errorf("open view: %w", err)
	}
	return &StackBacked{
		id:           uuid.New(),
		capacity:     capacity,
		defs:         defs,
		lock:         newLockHandle(),
		emitter:      events.NewEmitter(),
		parentRef:    pr,
		slots:        slots,
		policy:       filter.AllowAll,
		expectedType: backing.Type,
		expectedFP:   backing.Fingerprint(),
	}, nil
}

func (v *StackBacked) ID() uuid.UUID { return v.id }
func (v *StackBacked) Capacity() int { return v.capacity }

func (v *StackBacked) checkSlot(slot int) {
	if slot < 0 || slot >= v.capacity {
		panic(fmt.Sprintf("container: slot %d out of range [0, %d)", slot, v.capacity))
	}
}

func (v *StackBacked) StackAt(slot int) item.Stack {
	v.checkSlot(slot)
	release := acquireRead(v.locksFor()...)
	defer release()
	return v.slots[slot]
}

func (v *StackBacked) ForEach(fn func(slot int, s item.Stack) bool) error {
	rs, err := v.refs()
	if err != nil {
		return err
	}
	return engineForEach(rs, fn)
}

func (v *StackBacked) WireSnapshot() []item.Stack {
	release := acquireRead(v.locksFor()...)
	defer release()
	out := make([]item.Stack, v.capacity)
	for slot, s := range v.slots {
		out[slot] = s
	}
	return out
}

func (v *StackBacked) Policy() filter.Policy {
	release := acquireRead(v.locksFor()...)
	defer release()
	return v.policy
}

func (v *StackBacked) SetPolicy(p filter.Policy) error {
	release := acquire(v.locksFor()...)
	defer release()
	v.policy = p
	return nil
}

func (v *StackBacked) Add(s item.Stack, opts AddOptions) (StackTransaction, error) {
	rs, err := v.refs()
	if err != nil {
		return StackTransaction{}, err
	}
	return engineAdd(rs, s, opts)
}

func (v *StackBacked) SetSlot(slot int, s item.Stack) (SlotTransaction, error) {
	r, err := v.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineSetSlot(slot, r, s)
}

func (v *StackBacked) RemoveFromSlot(slot int, qty int, allOrNothing bool) (SlotTransaction, error) {
	r, err := v.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineRemoveFromSlot(slot, r, qty, allOrNothing)
}

func (v *StackBacked) RemoveMaterial(q material.Quantity, allOrNothing bool) (MaterialTransaction, error) {
	rs, err := v.refs()
	if err != nil {
		return MaterialTransaction{}, err
	}
	return engineRemoveMaterial(rs, q, material.NewMatcher(q, v.defs), allOrNothing)
}

func (v *StackBacked) TestRemoveMaterial(q material.Quantity) (int, error) {
	rs, err := v.refs()
	if err != nil {
		return 0, err
	}
	return engineTestRemove(rs, q, material.NewMatcher(q, v.defs))
}

func (v *StackBacked) CountMaterial(q material.Quantity) (int, error) {
	rs, err := v.refs()
	if err != nil {
		return 0, err
	}
	return engineCount(rs, material.NewMatcher(q, v.defs))
}

func (v *StackBacked) Move(fromSlot int, qty int, dst Container, toSlot int) (MoveTransaction, error) {
	rs, err := v.refAt(fromSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	rd, err := dst.refAt(toSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	return engineMove(fromSlot, rs, qty, toSlot, rd)
}

func (v *StackBacked) Clear() (ClearTransaction, error) {
	rs, err := v.refs()
	if err != nil {
		return ClearTransaction{}, err
	}
	return engineClear(rs)
}

func (v *StackBacked) OnChange(h events.Handler) events.Subscription {
	return v.emitter.Subscribe(h)
}

// Clone is unsupported: a view is transient and bound to one backing item.
func (v *StackBacked) Clone() (Container, error) { return nil, ErrUnsupported }

func (v *StackBacked) refs() ([]ref, error) {
	rs := make([]ref, v.capacity)
	for i := 0; i < v.capacity; i++ {
		rs[i] = v.makeRef(i)
	}
	return rs, nil
}

func (v *StackBacked) refAt(slot int) (ref, error) {
	v.checkSlot(slot)
	return v.makeRef(slot), nil
}

func (v *StackBacked) makeRef(slot int) ref {
	return ref{
		leaf: v,
		slot: slot,
		allow: func(a filter.Action, s item.Stack) bool {
			return v.policy.Allows(a)
		},
	}
}

// leaf implementation.

func (v *StackBacked) locksFor() []*lockHandle {
	return append([]*lockHandle{v.lock}, v.parentRef.leaf.locksFor()...)
}

// validate pins the backing: the parent slot must still hold the exact item
// this view was opened on.
func (v *StackBacked) validate() error {
	if err := v.parentRef.leaf.validate(); err != nil {
		return err
	}
	backing := v.parentRef.leaf.peek(v.parentRef.slot)
	if backing.IsEmpty() || backing.Type != v.expectedType || backing.Fingerprint() != v.expectedFP {
		return ErrStaleBacking
	}
	return nil
}

func (v *StackBacked) backing() (leaf, int, bool) {
	return v.parentRef.leaf, v.parentRef.slot, true
}

func (v *StackBacked) peek(slot int) item.Stack { return v.slots[slot] }

func (v *StackBacked) poke(slot int, s item.Stack) {
	if s.IsEmpty() {
		delete(v.slots, slot)
		return
	}
	v.slots[slot] = s
}

func (v *StackBacked) limit(t item.TypeID) int { return v.defs.MaxStack(t) }

func (v *StackBacked) definitions() Definitions { return v.defs }

// flush serializes the view back into the backing item's metadata. The
// write-back is part of the same transaction and does not pass the parent's
// add filter: the item never leaves its slot, only its metadata changes.
func (v *StackBacked) flush() {
	before := v.parentRef.leaf.peek(v.parentRef.slot)
	after := before.WithMeta(item.EncodeSlots(v.slots))
	v.parentRef.leaf.poke(v.parentRef.slot, after)
	v.parentRef.leaf.flush()
	v.pending = events.SlotChange{Slot: v.parentRef.slot, Before: before, After: after}
	v.dirty = true
	v.expectedFP = after.Fingerprint()
}

func (v *StackBacked) commit(changes []events.SlotChange) func() {
	v.version++
	change := events.Change{
		ID:        uuid.New(),
		Container: v.id,
		Version:   v.version,
		Time:      time.Now(),
		Slots:     changes,
	}
	var parentEmit func()
	if v.dirty {
		parentEmit = v.parentRef.leaf.commit([]events.SlotChange{v.pending})
		v.dirty = false
		v.pending = events.SlotChange{}
	}
	return func() {
		v.emitter.Emit(change)
		if parentEmit != nil {
			parentEmit()
		}
	}
}
