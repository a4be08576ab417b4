package container

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// Delegate wraps a container with one more filter layer. The extra filter is
// checked before the inner container's own policy and slot filters; storage,
// locking and events stay with the inner container.
type Delegate struct {
	id      uuid.UUID
	inner   Container
	gate    filter.SlotFilter
	emitter *events.Emitter
	version atomic.Uint64
	sub     events.Subscription
}

// NewDelegate wraps inner with an extra gate applied to every slot. A nil
// gate panics; wrap nothing instead.
func NewDelegate(inner Container, gate filter.SlotFilter) *Delegate {
	if inner == nil {
		panic("container: nil inner container")
	}
	if gate == nil {
		panic("container: nil gate filter")
	}
	d := &Delegate{
		id:      uuid.New(),
		inner:   inner,
		gate:    gate,
		emitter: events.NewEmitter(),
	}
	d.sub = inner.OnChange(func(ch events.Change) {
		d.emitter.Emit(events.Change{
			ID:        uuid.New(),
			Container: d.id,
			Version:   d.version.Add(1),
			Time:      ch.Time,
			Slots:     ch.Slots,
		})
	})
	return d
}

// Detach cancels the inner subscription; the delegate stops forwarding
// events but keeps delegating operations.
func (d *Delegate) Detach() {
	d.sub.Cancel()
}

func (d *Delegate) ID() uuid.UUID { return d.id }
func (d *Delegate) Capacity() int { return d.inner.Capacity() }

func (d *Delegate) StackAt(slot int) item.Stack { return d.inner.StackAt(slot) }

func (d *Delegate) ForEach(fn func(slot int, s item.Stack) bool) error {
	return d.inner.ForEach(fn)
}

func (d *Delegate) WireSnapshot() []item.Stack { return d.inner.WireSnapshot() }

func (d *Delegate) Policy() filter.Policy           { return d.inner.Policy() }
func (d *Delegate) SetPolicy(p filter.Policy) error { return d.inner.SetPolicy(p) }

func (d *Delegate) Add(s item.Stack, opts AddOptions) (StackTransaction, error) {
	rs, err := d.refs()
	if err != nil {
		return StackTransaction{}, err
	}
	return engineAdd(rs, s, opts)
}

func (d *Delegate) SetSlot(slot int, s item.Stack) (SlotTransaction, error) {
	r, err := d.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineSetSlot(slot, r, s)
}

func (d *Delegate) RemoveFromSlot(slot int, qty int, allOrNothing bool) (SlotTransaction, error) {
	r, err := d.refAt(slot)
	if err != nil {
		return SlotTransaction{}, err
	}
	return engineRemoveFromSlot(slot, r, qty, allOrNothing)
}

func (d *Delegate) RemoveMaterial(q material.Quantity, allOrNothing bool) (MaterialTransaction, error) {
	rs, err := d.refs()
	if err != nil {
		return MaterialTransaction{}, err
	}
	return engineRemoveMaterial(rs, q, d.matcher(q, rs), allOrNothing)
}

func (d *Delegate) TestRemoveMaterial(q material.Quantity) (int, error) {
	rs, err := d.refs()
	if err != nil {
		return 0, err
	}
	return engineTestRemove(rs, q, d.matcher(q, rs))
}

func (d *Delegate) CountMaterial(q material.Quantity) (int, error) {
	rs, err := d.refs()
	if err != nil {
		return 0, err
	}
	return engineCount(rs, d.matcher(q, rs))
}

func (d *Delegate) matcher(q material.Quantity, rs []ref) material.Matcher {
	var resolver material.Resolver
	if len(rs) > 0 {
		if l, ok := rs[0].leaf.(interface{ definitions() Definitions }); ok {
			resolver = l.definitions()
		}
	}
	return material.NewMatcher(q, resolver)
}

func (d *Delegate) Move(fromSlot int, qty int, dst Container, toSlot int) (MoveTransaction, error) {
	rs, err := d.refAt(fromSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	rd, err := dst.refAt(toSlot)
	if err != nil {
		return MoveTransaction{}, err
	}
	return engineMove(fromSlot, rs, qty, toSlot, rd)
}

func (d *Delegate) Clear() (ClearTransaction, error) {
	rs, err := d.refs()
	if err != nil {
		return ClearTransaction{}, err
	}
	return engineClear(rs)
}

func (d *Delegate) OnChange(h events.Handler) events.Subscription {
	return d.emitter.Subscribe(h)
}

// Clone clones the inner container and wraps the copy with the same gate.
func (d *Delegate) Clone() (Container, error) {
	inner, err := d.inner.Clone()
	if err != nil {
		return nil, err
	}
	return NewDelegate(inner, d.gate), nil
}

func (d *Delegate) refs() ([]ref, error) {
	inner, err := d.inner.refs()
	if err != nil {
		return nil, err
	}
	rs := make([]ref, len(inner))
	for i, r := range inner {
		rs[i] = d.wrap(r)
	}
	return rs, nil
}

func (d *Delegate) refAt(slot int) (ref, error) {
	r, err := d.inner.refAt(slot)
	if err != nil {
		return ref{}, err
	}
	return d.wrap(r), nil
}

// wrap composes the delegate gate in front of the inner chain.
func (d *Delegate) wrap(r ref) ref {
	inner := r.allow
	r.allow = func(a filter.Action, s item.Stack) bool {
		if !d.gate(a, s) {
			return false
		}
		return inner(a, s)
	}
	return r
}
