package container

import (
	"fmt"
	"sync"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// ref is one virtual slot resolved down to the leaf that stores it, plus the
// filter chain collected on the way (decorator filters first, then the
// leaf's own policy and slot filter). The allow closure and the peek/poke
// primitives may only run while the leaf's locks are held.
type ref struct {
	leaf  leaf
	slot  int
	allow func(a filter.Action, s item.Stack) bool
}

// leaf is a container that physically stores slots behind a lock handle.
// Slotted and StackBacked implement it; composites resolve to the leaves of
// their children.
type leaf interface {
	Container
	// locksFor returns every handle that must be held to touch this leaf.
	// A StackBacked view includes its parent chain here so write-back can
	// happen under the same acquisition.
	locksFor() []*lockHandle
	// validate runs once per operation with the locks held, before any
	// mutation or read. StackBacked uses it for the stale-view check.
	validate() error
	// backing reports the parent leaf and slot holding this leaf's backing
	// item, if any. Write operations whose refs address that slot alongside
	// the view itself are refused before any mutation.
	backing() (leaf, int, bool)
	peek(slot int) item.Stack
	poke(slot int, s item.Stack)
	limit(t item.TypeID) int
	// flush runs with the locks still held after all pokes of an operation;
	// StackBacked serializes its slots back into the parent item here.
	flush()
	// commit seals a committed mutation (changes in leaf-local slot
	// numbering) and returns the event dispatch to run after release.
	commit(changes []events.SlotChange) (emit func())
}

// pend is one planned slot change: vslot is the caller-facing index used in
// the transaction, ref addresses the physical slot.
type pend struct {
	vslot  int
	r      ref
	before item.Stack
	after  item.Stack
}

func distinctLeaves(refs []ref) []leaf {
	var leaves []leaf
	seen := make(map[leaf]struct{}, 2)
	for _, r := range refs {
		if _, dup := seen[r.leaf]; dup {
			continue
		}
		seen[r.leaf] = struct{}{}
		leaves = append(leaves, r.leaf)
	}
	return leaves
}

// lockAll acquires every lock the refs need (write or read), validates each
// distinct leaf, and refuses write plans that address a slot backing a
// participating view. The release closure is idempotent: engines defer it so
// a contract panic cannot leak the lock set, and still call it explicitly
// before dispatching events.
func lockAll(refs []ref, write bool) (release func(), err error) {
	var handles []*lockHandle
	leaves := distinctLeaves(refs)
	for _, l := range leaves {
		handles = append(handles, l.locksFor()...)
	}
	var unlock func()
	if write {
		unlock = acquire(handles...)
	} else {
		unlock = acquireRead(handles...)
	}
	var once sync.Once
	release = func() { once.Do(unlock) }
	for _, l := range leaves {
		if err := l.validate(); err != nil {
			release()
			return nil, err
		}
	}
	if write {
		if err := checkBackingOverlap(refs, leaves); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

// checkBackingOverlap rejects write plans that touch both a view and the
// parent slot holding its backing item. Mutating that slot mid-transaction
// would rip the backing out from under the view's write-back, so the whole
// operation fails the same way a stale view does. The walk follows the
// backing chain so nested views are covered.
func checkBackingOverlap(refs []ref, leaves []leaf) error {
	type address struct {
		l    leaf
		slot int
	}
	touched := make(map[address]struct{}, len(refs))
	for _, r := range refs {
		touched[address{r.leaf, r.slot}] = struct{}{}
	}
	for _, l := range leaves {
		for p, slot, ok := l.backing(); ok; p, slot, ok = p.backing() {
			if _, hit := touched[address{p, slot}]; hit {
				return fmt.Errorf("container: slot %d backs a view participating in the same operation: %w", slot, ErrStaleBacking)
			}
		}
	}
	return nil
}

// commitPends applies the plan: pokes every change, flushes each touched
// leaf, and collects the per-leaf event dispatches. The returned emit
// closure must run after the locks are released.
func commitPends(pends []pend) (changes []events.SlotChange, emit func()) {
	byLeaf := make(map[leaf][]events.SlotChange, 2)
	var order []leaf
	for _, p := range pends {
		p.r.leaf.poke(p.r.slot, p.after)
		changes = append(changes, events.SlotChange{Slot: p.vslot, Before: p.before, After: p.after})
		if _, dup := byLeaf[p.r.leaf]; !dup {
			order = append(order, p.r.leaf)
		}
		byLeaf[p.r.leaf] = append(byLeaf[p.r.leaf], events.SlotChange{Slot: p.r.slot, Before: p.before, After: p.after})
	}
	emits := make([]func(), 0, len(order))
	for _, l := range order {
		l.flush()
		emits = append(emits, l.commit(byLeaf[l]))
	}
	return changes, func() {
		for _, e := range emits {
			e()
		}
	}
}

// engineAdd is the stacking algorithm: top up compatible occupied slots in
// ascending order, then fill empty slots, honoring filters per slot.
func engineAdd(refs []ref, s item.Stack, opts AddOptions) (StackTransaction, error) {
	if s.IsEmpty() {
		panic("container: add of empty stack")
	}
	release, err := lockAll(refs, true)
	if err != nil {
		return StackTransaction{}, err
	}
	defer release()

	remaining := s.Qty
	var pends []pend

	// Pass 1: existing compatible stacks.
	for i, r := range refs {
		if remaining == 0 {
			break
		}
		cur := r.leaf.peek(r.slot)
		if cur.IsEmpty() || !cur.SameKind(s) {
			continue
		}
		space := r.leaf.limit(cur.Type) - cur.Qty
		if space <= 0 {
			continue
		}
		take := min(space, remaining)
		if !r.allow(filter.ActionAdd, s.WithQty(take)) {
			continue
		}
		pends = append(pends, pend{vslot: i, r: r, before: cur, after: cur.WithQty(cur.Qty + take)})
		remaining -= take
	}

	// Pass 2: empty slots.
	if !opts.TopUpOnly {
		for i, r := range refs {
			if remaining == 0 {
				break
			}
			cur := r.leaf.peek(r.slot)
			if !cur.IsEmpty() {
				continue
			}
			take := min(r.leaf.limit(s.Type), remaining)
			placed := s.WithQty(take)
			if !r.allow(filter.ActionAdd, placed) {
				continue
			}
			pends = append(pends, pend{vslot: i, r: r, before: item.Empty(), after: placed})
			remaining -= take
		}
	}

	if opts.AllOrNothing && remaining > 0 {
		return failedStack(s.Qty), nil
	}
	if len(pends) == 0 {
		return failedStack(remaining), nil
	}

	changes, emit := commitPends(pends)
	release()
	emit()
	return StackTransaction{
		transaction: transaction{committed: true, changes: changes},
		Remainder:   remaining,
	}, nil
}

// engineSetSlot overwrites one slot. A non-empty incoming stack is gated by
// the add filter; clearing a slot is gated by the remove filter on the
// current occupant.
func engineSetSlot(vslot int, r ref, s item.Stack) (SlotTransaction, error) {
	if !s.IsEmpty() {
		if lim := r.leaf.limit(s.Type); s.Qty > lim {
			panic(fmt.Sprintf("container: stack of %d exceeds limit %d for type %d", s.Qty, lim, s.Type))
		}
	}
	release, err := lockAll([]ref{r}, true)
	if err != nil {
		return SlotTransaction{}, err
	}
	defer release()

	cur := r.leaf.peek(r.slot)
	if !s.IsEmpty() && !r.allow(filter.ActionAdd, s) {
		return failedSlot(vslot, s.Qty), nil
	}
	if s.IsEmpty() && !cur.IsEmpty() && !r.allow(filter.ActionRemove, cur) {
		return failedSlot(vslot, 0), nil
	}
	if cur.Equal(s) {
		return SlotTransaction{transaction: transaction{committed: true}, Slot: vslot}, nil
	}

	changes, emit := commitPends([]pend{{vslot: vslot, r: r, before: cur, after: s}})
	release()
	emit()
	return SlotTransaction{
		transaction: transaction{committed: true, changes: changes},
		Slot:        vslot,
	}, nil
}

func engineRemoveFromSlot(vslot int, r ref, qty int, allOrNothing bool) (SlotTransaction, error) {
	if qty <= 0 {
		panic(fmt.Sprintf("container: remove quantity must be positive, got %d", qty))
	}
	release, err := lockAll([]ref{r}, true)
	if err != nil {
		return SlotTransaction{}, err
	}
	defer release()

	cur := r.leaf.peek(r.slot)
	if cur.IsEmpty() {
		return failedSlot(vslot, qty), nil
	}
	take := min(qty, cur.Qty)
	if allOrNothing && take < qty {
		return failedSlot(vslot, qty), nil
	}
	if !r.allow(filter.ActionRemove, cur.WithQty(take)) {
		return failedSlot(vslot, qty), nil
	}

	after := cur.WithQty(cur.Qty - take)
	changes, emit := commitPends([]pend{{vslot: vslot, r: r, before: cur, after: after}})
	release()
	emit()
	return SlotTransaction{
		transaction: transaction{committed: true, changes: changes},
		Slot:        vslot,
		Removed:     cur.WithQty(take),
		Remainder:   qty - take,
	}, nil
}

// engineRemoveMaterial scans slots in ascending order, first fit, removing
// matching stacks until the request is satisfied.
func engineRemoveMaterial(refs []ref, q material.Quantity, m material.Matcher, allOrNothing bool) (MaterialTransaction, error) {
	release, err := lockAll(refs, true)
	if err != nil {
		return MaterialTransaction{}, err
	}
	defer release()

	need := q.Amount()
	var pends []pend
	for i, r := range refs {
		if need == 0 {
			break
		}
		cur := r.leaf.peek(r.slot)
		if !m.Matches(cur) {
			continue
		}
		take := min(need, cur.Qty)
		if !r.allow(filter.ActionRemove, cur.WithQty(take)) {
			continue
		}
		pends = append(pends, pend{vslot: i, r: r, before: cur, after: cur.WithQty(cur.Qty - take)})
		need -= take
	}

	if allOrNothing && need > 0 {
		return failedMaterial(q), nil
	}
	if len(pends) == 0 {
		return failedMaterial(q), nil
	}

	changes, emit := commitPends(pends)
	release()
	emit()
	return MaterialTransaction{
		transaction: transaction{committed: true, changes: changes},
		Request:     q,
		Remainder:   need,
	}, nil
}

// engineTestRemove is the pure simulation of engineRemoveMaterial.
func engineTestRemove(refs []ref, q material.Quantity, m material.Matcher) (int, error) {
	release, err := lockAll(refs, false)
	if err != nil {
		return 0, err
	}
	defer release()

	need := q.Amount()
	for _, r := range refs {
		if need == 0 {
			break
		}
		cur := r.leaf.peek(r.slot)
		if !m.Matches(cur) {
			continue
		}
		take := min(need, cur.Qty)
		if !r.allow(filter.ActionRemove, cur.WithQty(take)) {
			continue
		}
		need -= take
	}
	return need, nil
}

// engineCount totals the removable quantity matching a request.
func engineCount(refs []ref, m material.Matcher) (int, error) {
	release, err := lockAll(refs, false)
	if err != nil {
		return 0, err
	}
	defer release()

	total := 0
	for _, r := range refs {
		cur := r.leaf.peek(r.slot)
		if !m.Matches(cur) {
			continue
		}
		if !r.allow(filter.ActionRemove, cur) {
			continue
		}
		total += cur.Qty
	}
	return total, nil
}

func engineClear(refs []ref) (ClearTransaction, error) {
	release, err := lockAll(refs, true)
	if err != nil {
		return ClearTransaction{}, err
	}
	defer release()

	var pends []pend
	var skipped []int
	for i, r := range refs {
		cur := r.leaf.peek(r.slot)
		if cur.IsEmpty() {
			continue
		}
		if !r.allow(filter.ActionRemove, cur) {
			skipped = append(skipped, i)
			continue
		}
		pends = append(pends, pend{vslot: i, r: r, before: cur, after: item.Empty()})
	}

	if len(pends) == 0 {
		return ClearTransaction{
			transaction: transaction{committed: true},
			Skipped:     skipped,
		}, nil
	}

	changes, emit := commitPends(pends)
	release()
	emit()
	return ClearTransaction{
		transaction: transaction{committed: true, changes: changes},
		Skipped:     skipped,
	}, nil
}

// engineMove is the single primitive for rearrangement: place into an empty
// slot, merge into a same-kind stack up to its limit, or swap full stacks of
// different items. Locks for both ends are acquired before either is read.
func engineMove(from int, rs ref, qty int, to int, rd ref) (MoveTransaction, error) {
	if qty <= 0 {
		panic(fmt.Sprintf("container: move quantity must be positive, got %d", qty))
	}
	if rs.leaf == rd.leaf && rs.slot == rd.slot {
		return failedMove(from, to, qty), nil
	}

	release, err := lockAll([]ref{rs, rd}, true)
	if err != nil {
		return MoveTransaction{}, err
	}
	defer release()

	src := rs.leaf.peek(rs.slot)
	dst := rd.leaf.peek(rd.slot)
	if src.IsEmpty() || qty > src.Qty {
		return failedMove(from, to, qty), nil
	}

	var srcAfter, dstAfter item.Stack
	moved := 0
	swapped := false
	switch {
	case dst.IsEmpty():
		moved = qty
		srcAfter = src.WithQty(src.Qty - qty)
		dstAfter = src.WithQty(qty)
	case dst.SameKind(src):
		space := rd.leaf.limit(dst.Type) - dst.Qty
		moved = min(qty, space)
		if moved <= 0 {
			return failedMove(from, to, qty), nil
		}
		srcAfter = src.WithQty(src.Qty - moved)
		dstAfter = dst.WithQty(dst.Qty + moved)
	default:
		// Different items swap whole stacks; a partial quantity cannot.
		if qty != src.Qty {
			return failedMove(from, to, qty), nil
		}
		if !rd.allow(filter.ActionRemove, dst) || !rs.allow(filter.ActionAdd, dst) {
			return failedMove(from, to, qty), nil
		}
		moved = src.Qty
		swapped = true
		srcAfter = dst
		dstAfter = src
	}

	portion := src.WithQty(moved)
	if !rs.allow(filter.ActionRemove, portion) || !rd.allow(filter.ActionAdd, portion) {
		return failedMove(from, to, qty), nil
	}

	changes, emit := commitPends([]pend{
		{vslot: from, r: rs, before: src, after: srcAfter},
		{vslot: to, r: rd, before: dst, after: dstAfter},
	})
	release()
	emit()
	return MoveTransaction{
		transaction: transaction{committed: true, changes: changes},
		From:        from,
		To:          to,
		Moved:       moved,
		Swapped:     swapped,
		Remainder:   qty - moved,
	}, nil
}

// engineForEach visits occupied slots ascending under read locks.
func engineForEach(refs []ref, fn func(slot int, s item.Stack) bool) error {
	release, err := lockAll(refs, false)
	if err != nil {
		return err
	}
	defer release()

	for i, r := range refs {
		cur := r.leaf.peek(r.slot)
		if cur.IsEmpty() {
			continue
		}
		if !fn(i, cur) {
			return nil
		}
	}
	return nil
}
