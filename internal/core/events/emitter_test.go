package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stackvault/stackvault/internal/core/item"
)

func TestEmitter_SubscribeEmitCancel(t *testing.T) {
	e := NewEmitter()

	var got []Change
	sub := e.Subscribe(func(c Change) { got = append(got, c) })
	require.True(t, sub.IsActive())
	require.Equal(t, 1, e.Len())

	change := Change{
		ID:        uuid.New(),
		Container: uuid.New(),
		Version:   1,
		Slots:     []SlotChange{{Slot: 0, After: item.New(1, 5, nil)}},
	}
	e.Emit(change)
	require.Len(t, got, 1)
	require.Equal(t, change.Container, got[0].Container)

	sub.Cancel()
	require.False(t, sub.IsActive())
	require.Equal(t, 0, e.Len())

	e.Emit(change)
	require.Len(t, got, 1, "cancelled subscription must not receive events")
}

func TestEmitter_HandlerMayCancelItself(t *testing.T) {
	e := NewEmitter()
	calls := 0
	var sub Subscription
	sub = e.Subscribe(func(Change) {
		calls++
		sub.Cancel()
	})
	e.Emit(Change{})
	e.Emit(Change{})
	require.Equal(t, 1, calls)
}
