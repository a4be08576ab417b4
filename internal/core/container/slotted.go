package container

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
	"github.com/stackvault/stackvault/internal/core/observability/log"
)

// slotKey addresses a per-slot filter by the action it gates.
type slotKey struct {
	action filter.Action
	slot   int
}

// Slotted is the canonical backing: a fixed-capacity slot array guarded by
// one lock handle. Occupied slots live in a sparse map so large mostly-empty
// containers stay cheap.
type Slotted struct {
	id       uuid.UUID
	capacity int
	defs     Definitions
	lock     *lockHandle
	emitter  *events.Emitter
	log      log.Log

	// Guarded by lock.
	slots       map[int]item.Stack
	policy      filter.Policy
	slotFilters map[slotKey]filter.SlotFilter
	version     uint64
}

// SlottedOption configures a Slotted at construction.
type SlottedOption func(*Slotted)

func WithPolicy(p filter.Policy) SlottedOption {
	return func(c *Slotted) { c.policy = p }
}

func WithLogger(lg log.Log) SlottedOption {
	return func(c *Slotted) { c.log = lg }
}

func WithSlotFilter(a filter.Action, slot int, f filter.SlotFilter) SlottedOption {
	return func(c *Slotted) { c.slotFilters[slotKey{a, slot}] = f }
}

// NewSlotted builds an empty container with the given capacity. Definitions
// supplies stack limits and tag/resource expansion; it must not be nil.
func NewSlotted(capacity int, defs Definitions, opts ...SlottedOption) *Slotted {
	if capacity <= 0 {
		panic(fmt.Sprintf("container: capacity must be positive, got %d", capacity))
	}
	if defs == nil {
		panic("container: nil definitions")
	}
	c := &Slotted{
		id:          uuid.New(),
		capacity:    capacity,
		defs:        defs,
		lock:        newLockHandle(),
		emitter:     events.NewEmitter(),
		log:         log.Nop(),
		slots:       make(map[int]item.Stack),
		policy:      filter.AllowAll,
		slotFilters: make(map[slotKey]filter.SlotFilter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Slotted) ID() uuid.UUID { return c.id }
func (c *Slotted) Capacity() int { return c.capacity }

func (c *Slotted) checkSlot(slot int) {
	if slot < 0 || slot >= c.capacity {
		panic(fmt.Sprintf("container: slot %d out of range [0, %d)", slot, c.capacity))
	}
}

func (c *Slotted) StackAt(slot int) item.Stack {
	c.checkSlot(slot)
	c.lock.mu.RLock()
	defer c.lock.mu.RUnlock()
	return c.slots[slot]
}

func (c *Slotted) ForEach(fn func(slot int, s item.Stack) bool) error {
	rs, err := c.refs()
	if err != nil {
		return err
	}
	return engineForEach(rs, fn)
}

func (c *Slotted) WireSnapshot() []item.Stack {
	c.lock.mu.RLock()
	defer c.lock.mu.RUnlock()
	out := make([]item.Stack, c.capacity)
	for slot, s := range c.slots {
		out[slot] = s
	}
	return out
}

func (c *Slotted) Policy() filter.Policy {
	c.lock.mu.RLock()
	defer c.lock.mu.RUnlock()
	return c.policy
}

func (c *Slotted) SetPolicy(p filter.Policy) error {
	c.lock.mu.Lock()
	defer c.lock.mu.Unlock()
	c.policy = p
	return nil
}

// SetSlotFilter installs or replaces the filter gating one action on one
// slot. A nil filter removes the gate.
func (c *Slotted) SetSlotFilter(a filter.Action, slot int, f filter.SlotFilter) {
	c.checkSlot(slot)
	c.lock.mu.Lock()
	defer c.lock.mu.Unlock()
	key := slotKey{a, slot}
	if f == nil {
		delete(c.slotFilters, key)
		return
	}
	c.slotFilters[key] = f
}

func (c *Slotted) Add(s item.Stack, opts AddOptions) (StackTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return StackTransaction{}, err
	}
	return engineAdd(rs, s, opts)
}

func (c *Slotted) SetSlot(slot int, s item.Stack) (SlotTransaction, error) {
	r, err := c.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineSetSlot(slot, r, s)
}

func (c *Slotted) RemoveFromSlot(slot int, qty int, allOrNothing bool) (SlotTransaction, error) {
	r, err := c.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineRemoveFromSlot(slot, r, qty, allOrNothing)
}

func (c *Slotted) RemoveMaterial(q material.Quantity, allOrNothing bool) (MaterialTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return MaterialTransaction{}, err
	}
	return engineRemoveMaterial(rs, q, material.NewMatcher(q, c.defs), allOrNothing)
}

func (c *Slotted) TestRemoveMaterial(q material.Quantity) (int, error) {
	rs, err := c.refs()
	if err != nil {
		return 0, err
	}
	return engineTestRemove(rs, q, material.NewMatcher(q, c.defs))
}

func (c *Slotted) CountMaterial(q material.Quantity) (int, error) {
	rs, err := c.refs()
	if err != nil {
		return 0, err
	}
	return engineCount(rs, material.NewMatcher(q, c.defs))
}

func (c *Slotted) Move(fromSlot int, qty int, dst Container, toSlot int) (MoveTransaction, error) {
	rs, err := c.refAt(fromSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	rd, err := dst.refAt(toSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	return engineMove(fromSlot, rs, qty, toSlot, rd)
}

func (c *Slotted) Clear() (ClearTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return ClearTransaction{}, err
	}
	return engineClear(rs)
}

func (c *Slotted) OnChange(h events.Handler) events.Subscription {
	return c.emitter.Subscribe(h)
}

// Clone deep-copies contents, policy and slot filters under a fresh identity.
// Listeners do not carry over.
func (c *Slotted) Clone() (Container, error) {
	c.lock.mu.RLock()
	defer c.lock.mu.RUnlock()
	cp := NewSlotted(c.capacity, c.defs, WithPolicy(c.policy), WithLogger(c.log))
	for slot, s := range c.slots {
		cp.slots[slot] = s
	}
	for key, f := range c.slotFilters {
		cp.slotFilters[key] = f
	}
	return cp, nil
}

func (c *Slotted) refs() ([]ref, error) {
	rs := make([]ref, c.capacity)
	for i := 0; i < c.capacity; i++ {
		rs[i] = c.makeRef(i)
	}
	return rs, nil
}

func (c *Slotted) refAt(slot int) (ref, error) {
	c.checkSlot(slot)
	return c.makeRef(slot), nil
}

func (c *Slotted) makeRef(slot int) ref {
	return ref{
		leaf: c,
		slot: slot,
		allow: func(a filter.Action, s item.Stack) bool {
			// Runs with the write lock held.
			if !c.policy.Allows(a) {
				return false
			}
			if f, ok := c.slotFilters[slotKey{a, slot}]; ok && !f(a, s) {
				return false
			}
			return true
		},
	}
}

// leaf implementation. All of these run with the lock handle held.

func (c *Slotted) locksFor() []*lockHandle    { return []*lockHandle{c.lock} }
func (c *Slotted) validate() error            { return nil }
func (c *Slotted) backing() (leaf, int, bool) { return nil, 0, false }

func (c *Slotted) peek(slot int) item.Stack { return c.slots[slot] }

func (c *Slotted) poke(slot int, s item.Stack) {
	if s.IsEmpty() {
		delete(c.slots, slot)
		return
	}
	c.slots[slot] = s
}

func (c *Slotted) limit(t item.TypeID) int { return c.defs.MaxStack(t) }

func (c *Slotted) definitions() Definitions { return c.defs }

func (c *Slotted) flush() {}

func (c *Slotted) commit(changes []events.SlotChange) func() {
	c.version++
	change := events.Change{
		ID:        uuid.New(),
		Container: c.id,
		Version:   c.version,
		Time:      time.Now(),
		Slots:     changes,
	}
	return func() {
		c.log.Debug("container changed",
			log.String("container", c.id.String()),
			log.Uint64("version", change.Version),
			log.Int("slots", len(change.Slots)),
		)
		c.emitter.Emit(change)
	}
}
