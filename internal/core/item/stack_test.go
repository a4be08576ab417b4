package item

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStack_Basics(t *testing.T) {
	t.Run("New copies metadata", func(t *testing.T) {
		meta := []byte{1, 2, 3}
		s := New(7, 5, meta)
		meta[0] = 99
		require.Equal(t, []byte{1, 2, 3}, s.Meta)
		require.Equal(t, TypeID(7), s.Type)
		require.Equal(t, 5, s.Qty)
		require.False(t, s.IsEmpty())
	})

	t.Run("zero value is empty", func(t *testing.T) {
		var s Stack
		require.True(t, s.IsEmpty())
		require.True(t, s.Equal(Empty()))
	})

	t.Run("New panics on non-positive quantity", func(t *testing.T) {
		require.Panics(t, func() { New(1, 0, nil) })
		require.Panics(t, func() { New(1, -3, nil) })
	})

	t.Run("WithQty zero collapses to empty", func(t *testing.T) {
		s := New(2, 10, nil)
		require.True(t, s.WithQty(0).IsEmpty())
		require.Equal(t, 4, s.WithQty(4).Qty)
		require.Equal(t, 10, s.Qty)
	})
}

func TestStack_SameKind(t *testing.T) {
	a := New(1, 3, []byte("ench"))
	b := New(1, 60, []byte("ench"))
	c := New(1, 3, []byte("other"))
	d := New(2, 3, []byte("ench"))

	require.True(t, a.SameKind(b))
	require.False(t, a.SameKind(c))
	require.False(t, a.SameKind(d))
	require.False(t, a.SameKind(Empty()))
	require.False(t, Empty().SameKind(a))
}

func TestStack_Fingerprint(t *testing.T) {
	a := New(1, 3, []byte("x"))
	b := New(1, 99, []byte("x"))
	c := New(1, 3, []byte("y"))

	require.Equal(t, a.Fingerprint(), b.Fingerprint(), "quantity must not affect identity")
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	require.Zero(t, Empty().Fingerprint())
}
