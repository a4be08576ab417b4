package container

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
	"github.com/stackvault/stackvault/internal/core/registry"
)

const (
	oakLog     item.TypeID = 10
	birchLog   item.TypeID = 11
	stone      item.TypeID = 12
	ironHelmet item.TypeID = 20
	backpack   item.TypeID = 30
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register(registry.Definition{ID: oakLog, Name: "oak_log", MaxStack: 64, Tags: []material.TagID{"wood"}, Resources: []material.ResourceID{"carbon"}}))
	require.NoError(t, r.Register(registry.Definition{ID: birchLog, Name: "birch_log", MaxStack: 64, Tags: []material.TagID{"wood"}}))
	require.NoError(t, r.Register(registry.Definition{ID: stone, Name: "stone", MaxStack: 64}))
	require.NoError(t, r.Register(registry.Definition{ID: ironHelmet, Name: "iron_helmet", MaxStack: 1}))
	require.NoError(t, r.Register(registry.Definition{ID: backpack, Name: "backpack", MaxStack: 1}))
	return r
}

func mustSet(t *testing.T, c Container, slot int, s item.Stack) {
	t.Helper()
	tx, err := c.SetSlot(slot, s)
	require.NoError(t, err)
	require.True(t, tx.Committed())
}

func TestSlotted_AddStacksAscending(t *testing.T) {
	c := NewSlotted(9, testRegistry(t))

	tx, err := c.Add(item.New(stone, 100, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Zero(t, tx.Remainder)
	require.Len(t, tx.Changes(), 2)

	require.Equal(t, 64, c.StackAt(0).Qty)
	require.Equal(t, 36, c.StackAt(1).Qty)
	for i := 2; i < 9; i++ {
		require.True(t, c.StackAt(i).IsEmpty())
	}
}

func TestSlotted_AddTopsUpBeforeOpeningSlots(t *testing.T) {
	c := NewSlotted(4, testRegistry(t))
	mustSet(t, c, 2, item.New(stone, 60, nil))

	tx, err := c.Add(item.New(stone, 10, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Zero(t, tx.Remainder)

	require.Equal(t, 64, c.StackAt(2).Qty, "existing stack tops up first")
	require.Equal(t, 6, c.StackAt(0).Qty, "overflow opens the lowest empty slot")
}

func TestSlotted_AddAllOrNothing(t *testing.T) {
	c := NewSlotted(2, testRegistry(t))
	mustSet(t, c, 0, item.New(stone, 64, nil))
	mustSet(t, c, 1, item.New(stone, 62, nil))

	tx, err := c.Add(item.New(stone, 5, nil), AddOptions{AllOrNothing: true})
	require.NoError(t, err)
	require.False(t, tx.Committed())
	require.Equal(t, 5, tx.Remainder)
	require.Empty(t, tx.Changes())
	require.Equal(t, 62, c.StackAt(1).Qty, "container untouched after rollback")
}

func TestSlotted_AddPartialWithoutAllOrNothing(t *testing.T) {
	c := NewSlotted(1, testRegistry(t))
	mustSet(t, c, 0, item.New(stone, 60, nil))

	tx, err := c.Add(item.New(stone, 10, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Equal(t, 6, tx.Remainder)
	require.Equal(t, 64, c.StackAt(0).Qty)
}

func TestSlotted_AddTopUpOnly(t *testing.T) {
	c := NewSlotted(3, testRegistry(t))

	tx, err := c.Add(item.New(stone, 10, nil), AddOptions{TopUpOnly: true})
	require.NoError(t, err)
	require.False(t, tx.Committed())
	require.Equal(t, 10, tx.Remainder)

	mustSet(t, c, 1, item.New(stone, 5, nil))
	tx, err = c.Add(item.New(stone, 10, nil), AddOptions{TopUpOnly: true})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Zero(t, tx.Remainder)
	require.Equal(t, 15, c.StackAt(1).Qty)
	require.True(t, c.StackAt(0).IsEmpty(), "no empty slot opened")
}

func TestSlotted_AddEmptyStackPanics(t *testing.T) {
	c := NewSlotted(1, testRegistry(t))
	require.Panics(t, func() { _, _ = c.Add(item.Empty(), AddOptions{}) })
}

func TestSlotted_MetadataSplitsStacks(t *testing.T) {
	c := NewSlotted(2, testRegistry(t))
	mustSet(t, c, 0, item.New(stone, 10, []byte("chipped")))

	tx, err := c.Add(item.New(stone, 10, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Equal(t, 10, c.StackAt(0).Qty, "different metadata never merges")
	require.Equal(t, 10, c.StackAt(1).Qty)
}

func TestSlotted_PolicyPrecedesSlotFilters(t *testing.T) {
	t.Run("deny all wins over permissive slot filter", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t),
			WithPolicy(filter.DenyAll),
			WithSlotFilter(filter.ActionAdd, 0, filter.Allow()),
		)
		tx, err := c.Add(item.New(stone, 5, nil), AddOptions{})
		require.NoError(t, err)
		require.False(t, tx.Committed())
		require.Equal(t, 5, tx.Remainder)
	})

	t.Run("input only blocks removal", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t), WithPolicy(filter.InputOnly))
		tx, err := c.Add(item.New(stone, 5, nil), AddOptions{})
		require.NoError(t, err)
		require.True(t, tx.Committed())

		rtx, err := c.RemoveFromSlot(0, 5, false)
		require.NoError(t, err)
		require.False(t, rtx.Committed())
		require.Equal(t, 5, c.StackAt(0).Qty)
	})

	t.Run("output only blocks add", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t), WithPolicy(filter.OutputOnly))
		tx, err := c.Add(item.New(stone, 5, nil), AddOptions{})
		require.NoError(t, err)
		require.False(t, tx.Committed())
	})
}

func TestSlotted_SlotFilterRoutesItems(t *testing.T) {
	c := NewSlotted(2, testRegistry(t),
		WithSlotFilter(filter.ActionAdd, 0, filter.OfType(ironHelmet)),
	)

	tx, err := c.Add(item.New(stone, 5, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.True(t, c.StackAt(0).IsEmpty(), "slot 0 only takes helmets")
	require.Equal(t, 5, c.StackAt(1).Qty)

	tx, err = c.Add(item.New(ironHelmet, 1, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Equal(t, ironHelmet, c.StackAt(0).Type)
}

func TestSlotted_RemoveMaterialByTagFirstFit(t *testing.T) {
	c := NewSlotted(4, testRegistry(t))
	mustSet(t, c, 0, item.New(oakLog, 4, nil))
	mustSet(t, c, 3, item.New(birchLog, 8, nil))

	tx, err := c.RemoveMaterial(material.Tag("wood", 10), false)
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Zero(t, tx.Remainder)

	require.True(t, c.StackAt(0).IsEmpty(), "oak drained first, ascending scan")
	require.Equal(t, 2, c.StackAt(3).Qty, "birch supplies the rest")

	changes := tx.Changes()
	require.Len(t, changes, 2)
	require.Equal(t, 0, changes[0].Slot)
	require.Equal(t, 3, changes[1].Slot)
}

func TestSlotted_RemoveMaterialAllOrNothing(t *testing.T) {
	c := NewSlotted(4, testRegistry(t))
	mustSet(t, c, 0, item.New(oakLog, 4, nil))

	tx, err := c.RemoveMaterial(material.Tag("wood", 10), true)
	require.NoError(t, err)
	require.False(t, tx.Committed())
	require.Equal(t, 10, tx.Remainder)
	require.Equal(t, 4, c.StackAt(0).Qty)
}

func TestSlotted_RemoveMaterialByResource(t *testing.T) {
	c := NewSlotted(4, testRegistry(t))
	mustSet(t, c, 0, item.New(oakLog, 6, nil))
	mustSet(t, c, 1, item.New(birchLog, 6, nil))

	// Only oak yields carbon.
	tx, err := c.RemoveMaterial(material.Resource("carbon", 4), false)
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Equal(t, 2, c.StackAt(0).Qty)
	require.Equal(t, 6, c.StackAt(1).Qty)
}

func TestSlotted_TestAndCountDoNotMutate(t *testing.T) {
	c := NewSlotted(4, testRegistry(t))
	mustSet(t, c, 0, item.New(oakLog, 4, nil))
	mustSet(t, c, 3, item.New(birchLog, 8, nil))

	missing, err := c.TestRemoveMaterial(material.Tag("wood", 10))
	require.NoError(t, err)
	require.Zero(t, missing)

	missing, err = c.TestRemoveMaterial(material.Tag("wood", 20))
	require.NoError(t, err)
	require.Equal(t, 8, missing)

	total, err := c.CountMaterial(material.Tag("wood", 1))
	require.NoError(t, err)
	require.Equal(t, 12, total)

	require.Equal(t, 4, c.StackAt(0).Qty)
	require.Equal(t, 8, c.StackAt(3).Qty)
}

func TestSlotted_AddRemoveRoundTrip(t *testing.T) {
	c := NewSlotted(9, testRegistry(t))
	mustSet(t, c, 4, item.New(oakLog, 7, nil))
	before := c.WireSnapshot()

	atx, err := c.Add(item.New(stone, 100, nil), AddOptions{})
	require.NoError(t, err)
	require.Zero(t, atx.Remainder)

	rtx, err := c.RemoveMaterial(material.ExactStack(stone, 100), false)
	require.NoError(t, err)
	require.Zero(t, rtx.Remainder)

	require.Equal(t, before, c.WireSnapshot(), "add then remove of the same quantity restores the contents")
}

func TestSlotted_RemoveFromSlot(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))

		tx, err := c.RemoveFromSlot(0, 4, false)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.Equal(t, 4, tx.Removed.Qty)
		require.Zero(t, tx.Remainder)
		require.Equal(t, 6, c.StackAt(0).Qty)
	})

	t.Run("clamps to available", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 3, nil))

		tx, err := c.RemoveFromSlot(0, 10, false)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.Equal(t, 3, tx.Removed.Qty)
		require.Equal(t, 7, tx.Remainder)
		require.True(t, c.StackAt(0).IsEmpty())
	})

	t.Run("all or nothing shortfall", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 3, nil))

		tx, err := c.RemoveFromSlot(0, 10, true)
		require.NoError(t, err)
		require.False(t, tx.Committed())
		require.Equal(t, 3, c.StackAt(0).Qty)
	})

	t.Run("empty slot", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		tx, err := c.RemoveFromSlot(1, 5, false)
		require.NoError(t, err)
		require.False(t, tx.Committed())
		require.Equal(t, 5, tx.Remainder)
	})

	t.Run("non-positive quantity panics", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		require.Panics(t, func() { _, _ = c.RemoveFromSlot(0, 0, false) })
	})
}

func TestSlotted_SetSlot(t *testing.T) {
	t.Run("equal stack is a committed no-op", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 5, nil))

		fired := 0
		c.OnChange(func(events.Change) { fired++ })

		tx, err := c.SetSlot(0, item.New(stone, 5, nil))
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.Empty(t, tx.Changes())
		require.Zero(t, fired, "no-op must not emit")
	})

	t.Run("over-limit stack panics", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		require.Panics(t, func() { _, _ = c.SetSlot(0, item.New(ironHelmet, 2, nil)) })
	})

	t.Run("out of range panics", func(t *testing.T) {
		c := NewSlotted(2, testRegistry(t))
		require.Panics(t, func() { _, _ = c.SetSlot(2, item.New(stone, 1, nil)) })
		require.Panics(t, func() { c.StackAt(-1) })
	})
}

func TestSlotted_Move(t *testing.T) {
	t.Run("place into empty", func(t *testing.T) {
		c := NewSlotted(3, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))

		tx, err := c.Move(0, 4, c, 2)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.Equal(t, 4, tx.Moved)
		require.False(t, tx.Swapped)
		require.Equal(t, 6, c.StackAt(0).Qty)
		require.Equal(t, 4, c.StackAt(2).Qty)
	})

	t.Run("merge up to limit", func(t *testing.T) {
		c := NewSlotted(3, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))
		mustSet(t, c, 1, item.New(stone, 60, nil))

		tx, err := c.Move(0, 10, c, 1)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.Equal(t, 4, tx.Moved)
		require.Equal(t, 6, tx.Remainder)
		require.Equal(t, 6, c.StackAt(0).Qty)
		require.Equal(t, 64, c.StackAt(1).Qty)
	})

	t.Run("swap different items", func(t *testing.T) {
		c := NewSlotted(3, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))
		mustSet(t, c, 1, item.New(ironHelmet, 1, nil))

		tx, err := c.Move(0, 10, c, 1)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.True(t, tx.Swapped)
		require.Equal(t, ironHelmet, c.StackAt(0).Type)
		require.Equal(t, stone, c.StackAt(1).Type)
		require.Equal(t, 10, c.StackAt(1).Qty)
	})

	t.Run("partial swap fails", func(t *testing.T) {
		c := NewSlotted(3, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))
		mustSet(t, c, 1, item.New(ironHelmet, 1, nil))

		tx, err := c.Move(0, 4, c, 1)
		require.NoError(t, err)
		require.False(t, tx.Committed())
		require.Equal(t, 10, c.StackAt(0).Qty)
	})

	t.Run("same slot is a no-op", func(t *testing.T) {
		c := NewSlotted(3, testRegistry(t))
		mustSet(t, c, 0, item.New(stone, 10, nil))

		tx, err := c.Move(0, 5, c, 0)
		require.NoError(t, err)
		require.False(t, tx.Committed())
	})

	t.Run("across containers", func(t *testing.T) {
		defs := testRegistry(t)
		a := NewSlotted(2, defs)
		b := NewSlotted(2, defs)
		mustSet(t, a, 0, item.New(stone, 10, nil))

		tx, err := a.Move(0, 10, b, 1)
		require.NoError(t, err)
		require.True(t, tx.Committed())
		require.True(t, a.StackAt(0).IsEmpty())
		require.Equal(t, 10, b.StackAt(1).Qty)
	})
}

func TestSlotted_ClearSkipsFilteredSlots(t *testing.T) {
	c := NewSlotted(3, testRegistry(t),
		WithSlotFilter(filter.ActionRemove, 1, filter.Deny()),
	)
	mustSet(t, c, 0, item.New(stone, 5, nil))
	mustSet(t, c, 1, item.New(stone, 7, nil))

	tx, err := c.Clear()
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Equal(t, []int{1}, tx.Skipped)
	require.True(t, c.StackAt(0).IsEmpty())
	require.Equal(t, 7, c.StackAt(1).Qty)
}

func TestSlotted_Events(t *testing.T) {
	c := NewSlotted(2, testRegistry(t))

	var got []events.Change
	sub := c.OnChange(func(ch events.Change) { got = append(got, ch) })

	tx, err := c.Add(item.New(stone, 5, nil), AddOptions{})
	require.NoError(t, err)
	require.True(t, tx.Committed())
	require.Len(t, got, 1)
	require.Equal(t, c.ID(), got[0].Container)
	require.Equal(t, uint64(1), got[0].Version)
	require.Equal(t, tx.Changes(), got[0].Slots)

	// Failed operations emit nothing.
	ftx, err := c.RemoveFromSlot(1, 1, false)
	require.NoError(t, err)
	require.False(t, ftx.Committed())
	require.Len(t, got, 1)

	sub.Cancel()
	_, err = c.Add(item.New(stone, 5, nil), AddOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1, "cancelled listener must not fire")
}

func TestSlotted_ListenerMayReenterContainer(t *testing.T) {
	c := NewSlotted(2, testRegistry(t))
	var seen item.Stack
	c.OnChange(func(ch events.Change) {
		// The lock is released before delivery, so reads are safe here.
		seen = c.StackAt(ch.Slots[0].Slot)
	})

	_, err := c.Add(item.New(stone, 5, nil), AddOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, seen.Qty)
}

func TestSlotted_Clone(t *testing.T) {
	c := NewSlotted(2, testRegistry(t), WithPolicy(filter.InputOnly))
	mustSet(t, c, 0, item.New(stone, 5, nil))

	fired := 0
	c.OnChange(func(events.Change) { fired++ })

	cp, err := c.Clone()
	require.NoError(t, err)
	require.NotEqual(t, c.ID(), cp.ID())
	require.Equal(t, 5, cp.StackAt(0).Qty)
	require.Equal(t, filter.InputOnly, cp.Policy())

	_, err = cp.Add(item.New(stone, 3, nil), AddOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, c.StackAt(0).Qty, "clone mutations do not touch the original")
	require.Zero(t, fired, "listeners do not carry over")
}

func TestSlotted_ConservationUnderConcurrentMoves(t *testing.T) {
	defs := testRegistry(t)
	a := NewSlotted(2, defs)
	b := NewSlotted(2, defs)
	mustSet(t, a, 0, item.New(stone, 64, nil))

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				if _, err := a.Move(0, 1, b, 0); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				if _, err := b.Move(0, 1, a, 0); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	inA, err := a.CountMaterial(material.ExactStack(stone, 1))
	require.NoError(t, err)
	inB, err := b.CountMaterial(material.ExactStack(stone, 1))
	require.NoError(t, err)
	require.Equal(t, 64, inA+inB, "moves neither duplicate nor destroy items")
}
