package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/stackvault/stackvault/internal/core/container"
	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
	"github.com/stackvault/stackvault/internal/core/registry"
)

const testStone item.TypeID = 12

func testServer(t *testing.T) (*Server, container.Container, *httptest.Server) {
	t.Helper()

	defs := registry.New()
	require.NoError(t, defs.Register(registry.Definition{ID: testStone, Name: "stone", MaxStack: 64}))

	c := container.NewSlotted(4, defs)
	_, err := c.Add(item.New(testStone, 10, nil), container.AddOptions{})
	require.NoError(t, err)

	s := New(DefaultConfig(), events.NewHub())
	s.Expose(c)
	atomic.StoreInt32(&s.running, 1)

	ts := httptest.NewServer(http.HandlerFunc(s.handleFeed))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Close() })
	return s, c, ts
}

func dialFeed(t *testing.T, ts *httptest.Server, container string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?container=" + container
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(out))
}

func TestFeed_SnapshotThenChanges(t *testing.T) {
	s, c, ts := testServer(t)
	conn := dialFeed(t, ts, c.ID().String())

	var snap snapshotFrame
	readFrame(t, conn, &snap)
	require.Equal(t, frameSnapshot, snap.Frame)
	require.Equal(t, c.ID(), snap.Container)
	require.Equal(t, 4, snap.Capacity)
	require.Len(t, snap.Slots, 4)
	require.NotNil(t, snap.Slots[0])
	require.Equal(t, 10, snap.Slots[0].Qty)
	require.Nil(t, snap.Slots[1])

	tx, err := c.RemoveMaterial(material.ExactStack(testStone, 4), false)
	require.NoError(t, err)
	require.True(t, tx.Committed())

	var ch changeFrame
	readFrame(t, conn, &ch)
	require.Equal(t, frameChange, ch.Frame)
	require.Equal(t, c.ID(), ch.Container)
	require.Len(t, ch.Slots, 1)
	require.Equal(t, 0, ch.Slots[0].Slot)
	require.Equal(t, 10, ch.Slots[0].Before.Qty)
	require.Equal(t, 6, ch.Slots[0].After.Qty)

	require.Equal(t, int64(1), s.GetStats().ClientCount)
}

func TestFeed_FailedOperationsEmitNothing(t *testing.T) {
	_, c, ts := testServer(t)
	conn := dialFeed(t, ts, c.ID().String())

	var snap snapshotFrame
	readFrame(t, conn, &snap)

	// Shortfall under all-or-nothing rolls back and must stay silent.
	tx, err := c.RemoveMaterial(material.ExactStack(testStone, 100), true)
	require.NoError(t, err)
	require.False(t, tx.Committed())

	tx2, err := c.RemoveMaterial(material.ExactStack(testStone, 1), false)
	require.NoError(t, err)
	require.True(t, tx2.Committed())

	var ch changeFrame
	readFrame(t, conn, &ch)
	require.Equal(t, uint64(2), ch.Version, "only committed transactions reach the wire")
}

func TestFeed_RejectsBadRequests(t *testing.T) {
	_, _, ts := testServer(t)

	t.Run("malformed id", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/?container=nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown container", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/?container=" + uuid.NewString())
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_Lifecycle(t *testing.T) {
	s := New(DefaultConfig(), events.NewHub())
	require.ErrorIs(t, s.Stop(context.Background()), ErrServerNotRunning)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Start(context.Background()), ErrServerClosed)

	_, err := s.Lookup(uuid.New())
	require.ErrorIs(t, err, ErrUnknownContainer)
}
