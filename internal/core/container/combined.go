package container

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
	"github.com/stackvault/stackvault/internal/core/observability/log"
)

// Combined presents several containers as one contiguous virtual slot range.
// Virtual slot v maps into the first child whose cumulative capacity exceeds
// v. Operations spanning children stay atomic because the engine acquires
// every involved leaf lock up front.
type Combined struct {
	id       uuid.UUID
	children []Container
	offsets  []int
	capacity int
	emitter  *events.Emitter
	version  atomic.Uint64
	subs     []events.Subscription
	log      log.Log
}

// NewCombined joins the children in order. Child capacities are fixed, so
// the virtual mapping is computed once. Child change events are re-emitted
// under the combined identity with slots translated into the virtual range.
func NewCombined(lg log.Log, children ...Container) *Combined {
	if len(children) == 0 {
		panic("container: combined needs at least one child")
	}
	if lg == nil {
		lg = log.Nop()
	}
	c := &Combined{
		id:       uuid.New(),
		children: children,
		offsets:  make([]int, len(children)),
		emitter:  events.NewEmitter(),
		log:      lg,
	}
	for i, child := range children {
		c.offsets[i] = c.capacity
		c.capacity += child.Capacity()
	}
	for i, child := range children {
		offset := c.offsets[i]
		c.subs = append(c.subs, child.OnChange(func(ch events.Change) {
			c.forward(offset, ch)
		}))
	}
	c.log.Debug("combined view created",
		log.String("container", c.id.String()),
		log.Int("children", len(children)),
		log.Int("capacity", c.capacity),
	)
	return c
}

// forward re-emits a child change under the combined identity, translating
// slots by the child's offset.
func (c *Combined) forward(offset int, ch events.Change) {
	slots := make([]events.SlotChange, len(ch.Slots))
	for i, sc := range ch.Slots {
		slots[i] = events.SlotChange{Slot: sc.Slot + offset, Before: sc.Before, After: sc.After}
	}
	c.emitter.Emit(events.Change{
		ID:        uuid.New(),
		Container: c.id,
		Version:   c.version.Add(1),
		Time:      ch.Time,
		Slots:     slots,
	})
}

// Detach cancels the child subscriptions. After Detach the combined view no
// longer forwards events; operations keep working.
func (c *Combined) Detach() {
	for _, s := range c.subs {
		s.Cancel()
	}
	c.subs = nil
}

func (c *Combined) ID() uuid.UUID { return c.id }
func (c *Combined) Capacity() int { return c.capacity }

// locate maps a virtual slot to (child index, local slot).
func (c *Combined) locate(v int) (int, int) {
	if v < 0 || v >= c.capacity {
		panic(fmt.Sprintf("container: slot %d out of range [0, %d)", v, c.capacity))
	}
	for i := len(c.children) - 1; i >= 0; i-- {
		if v >= c.offsets[i] {
			return i, v - c.offsets[i]
		}
	}
	panic("unreachable")
}

func (c *Combined) StackAt(slot int) item.Stack {
	i, local := c.locate(slot)
	return c.children[i].StackAt(local)
}

func (c *Combined) ForEach(fn func(slot int, s item.Stack) bool) error {
	rs, err := c.refs()
	if err != nil {
		return err
	}
	return engineForEach(rs, fn)
}

func (c *Combined) WireSnapshot() []item.Stack {
	out := make([]item.Stack, 0, c.capacity)
	for _, child := range c.children {
		out = append(out, child.WireSnapshot()...)
	}
	return out
}

// Policy reports AllowAll: the combined view imposes no gate of its own, the
// children's policies still apply per slot.
func (c *Combined) Policy() filter.Policy { return filter.AllowAll }

func (c *Combined) SetPolicy(filter.Policy) error { return ErrUnsupported }

func (c *Combined) Add(s item.Stack, opts AddOptions) (StackTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return StackTransaction{}, err
	}
	return engineAdd(rs, s, opts)
}

func (c *Combined) SetSlot(slot int, s item.Stack) (SlotTransaction, error) {
	r, err := c.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineSetSlot(slot, r, s)
}

func (c *Combined) RemoveFromSlot(slot int, qty int, allOrNothing bool) (SlotTransaction, error) {
	r, err := c.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineRemoveFromSlot(slot, r, qty, allOrNothing)
}

func (c *Combined) RemoveMaterial(q material.Quantity, allOrNothing bool) (MaterialTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return MaterialTransaction{}, err
	}
	return engineRemoveMaterial(rs, q, c.matcher(q, rs), allOrNothing)
}

func (c *Combined) TestRemoveMaterial(q material.Quantity) (int, error) {
	rs, err := c.refs()
	if err != nil {
		return 0, err
	}
	return engineTestRemove(rs, q, c.matcher(q, rs))
}

func (c *Combined) CountMaterial(q material.Quantity) (int, error) {
	rs, err := c.refs()
	if err != nil {
		return 0, err
	}
	return engineCount(rs, c.matcher(q, rs))
}

// matcher resolves tags and resources through the first leaf's definitions.
// Children of one combined view share a registry in practice.
func (c *Combined) matcher(q material.Quantity, rs []ref) material.Matcher {
	var resolver material.Resolver
	if len(rs) > 0 {
		if d, ok := rs[0].leaf.(interface{ definitions() Definitions }); ok {
			resolver = d.definitions()
		}
	}
	return material.NewMatcher(q, resolver)
}

func (c *Combined) Move(fromSlot int, qty int, dst Container, toSlot int) (MoveTransaction, error) {
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

func (c *Combined) Clear() (ClearTransaction, error) {
	rs, err := c.refs()
	if err != nil {
		return ClearTransaction{}, err
	}
	return engineClear(rs)
}

func (c *Combined) OnChange(h events.Handler) events.Subscription {
	return c.emitter.Subscribe(h)
}

// Clone is unsupported: a combined view does not own its children, so a
// deep copy has no well-defined identity for them.
func (c *Combined) Clone() (Container, error) { return nil, ErrUnsupported }

func (c *Combined) refs() ([]ref, error) {
	rs := make([]ref, 0, c.capacity)
	for _, child := range c.children {
		childRefs, err := child.refs()
		if err != nil {
			return nil, err
		}
		rs = append(rs, childRefs...)
	}
	return rs, nil
}

func (c *Combined) refAt(slot int) (ref, error) {
	i, local := c.locate(slot)
	return c.children[i].refAt(local)
}
