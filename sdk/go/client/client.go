// Package client provides a high-level feed client SDK: it connects to a
// container sync feed and maintains a local slot mirror, applying the
// snapshot frame and every change frame in order.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/observability/log"
)

// Config holds configuration for the client.
type Config struct {
	// ServerAddr is host:port of the feed server.
	ServerAddr string

	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	LogLevel log.Level
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		ServerAddr:           "localhost:8080",
		ConnectTimeout:       30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// EventType represents different types of client events.
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnecting EventType = "reconnecting"
	EventTypeSnapshot     EventType = "snapshot"
	EventTypeChange       EventType = "change"
)

// Event represents a client event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Version   uint64
	Slots     []int
	Error     error
}

// EventHandler handles client events. Handlers run on the reader goroutine;
// they must not block.
type EventHandler func(Event)

// wire frames, mirroring the server's feed format.

type wireStack struct {
	Type item.TypeID `json:"type"`
	Qty  int         `json:"qty"`
	Meta []byte      `json:"meta,omitempty"`
}

func (w *wireStack) stack() item.Stack {
	if w == nil || w.Qty <= 0 {
		return item.Empty()
	}
	return item.New(w.Type, w.Qty, w.Meta)
}

type wireSlotChange struct {
	Slot   int        `json:"slot"`
	Before *wireStack `json:"before"`
	After  *wireStack `json:"after"`
}

// feedFrame covers both frame shapes; Slots stays raw until the frame type
// is known.
type feedFrame struct {
	Frame     string          `json:"frame"`
	Container uuid.UUID       `json:"container"`
	Capacity  int             `json:"capacity,omitempty"`
	Version   uint64          `json:"version,omitempty"`
	Slots     json.RawMessage `json:"slots"`
}

// Client mirrors one container feed.
type Client struct {
	config Config
	logger log.Log

	container uuid.UUID
	conn      *websocket.Conn

	// Mirror state.
	mu      sync.RWMutex
	slots   []item.Stack
	version uint64

	handlerMutex  sync.RWMutex
	eventHandlers map[EventType][]EventHandler

	connected int32
	closed    int32
	done      chan struct{}

	workerGroup sync.WaitGroup
}

// New creates a client for one container's feed.
func New(config Config, container uuid.UUID) *Client {
	logger := log.New(config.LogLevel).With(
		log.String("component", "client"),
		log.String("container", container.String()),
	)
	return &Client{
		config:        config,
		logger:        logger,
		container:     container,
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
	}
}

// Connect dials the feed and blocks until the initial snapshot is applied.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		return ErrAlreadyConnected
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     c.config.ServerAddr,
		Path:     "/feed",
		RawQuery: "container=" + c.container.String(),
	}
	c.logger.Info("Connecting to feed", log.String("url", u.String()))

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(connectCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Error("Failed to connect", log.Error(err))
		return err
	}
	c.conn = conn

	// The snapshot is always the first frame.
	var frame feedFrame
	if err := conn.ReadJSON(&frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("client: read snapshot: %w", err)
	}
	if frame.Frame != "snapshot" {
		_ = conn.Close()
		return ErrProtocol
	}
	if err := c.applySnapshot(frame); err != nil {
		_ = conn.Close()
		return err
	}

	atomic.StoreInt32(&c.connected, 1)
	c.startWorkers()

	c.logger.Info("Connected", log.Int("capacity", frame.Capacity))
	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now()})
	return nil
}

// Disconnect closes the feed connection.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return ErrNotConnected
	}
	c.logger.Info("Disconnecting")
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.workerGroup.Wait()
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	return nil
}

// Close closes the client and releases all resources.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		_ = c.Disconnect()
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.logger.Info("Client closed")
	return nil
}

// Snapshot returns a copy of the mirrored slots.
func (c *Client) Snapshot() []item.Stack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]item.Stack(nil), c.slots...)
}

// StackAt returns the mirrored stack in one slot.
func (c *Client) StackAt(slot int) item.Stack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot < 0 || slot >= len(c.slots) {
		return item.Empty()
	}
	return c.slots[slot]
}

// Version returns the last applied container version.
func (c *Client) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Container returns the mirrored container id.
func (c *Client) Container() uuid.UUID { return c.container }

// IsConnected reports whether the feed is live.
func (c *Client) IsConnected() bool { return atomic.LoadInt32(&c.connected) == 1 }

// OnEvent registers an event handler for a specific event type.
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

func (c *Client) applySnapshot(frame feedFrame) error {
	var slots []*wireStack
	if err := json.Unmarshal(frame.Slots, &slots); err != nil {
		return fmt.Errorf("client: decode snapshot slots: %w", err)
	}
	mirror := make([]item.Stack, len(slots))
	for i, w := range slots {
		mirror[i] = w.stack()
	}
	c.mu.Lock()
	c.slots = mirror
	c.mu.Unlock()
	c.emitEvent(Event{Type: EventTypeSnapshot, Timestamp: time.Now()})
	return nil
}

func (c *Client) applyChange(frame feedFrame) error {
	var changes []wireSlotChange
	if err := json.Unmarshal(frame.Slots, &changes); err != nil {
		return fmt.Errorf("client: decode change slots: %w", err)
	}
	touched := make([]int, 0, len(changes))
	c.mu.Lock()
	for _, sc := range changes {
		if sc.Slot >= 0 && sc.Slot < len(c.slots) {
			c.slots[sc.Slot] = sc.After.stack()
			touched = append(touched, sc.Slot)
		}
	}
	c.version = frame.Version
	c.mu.Unlock()
	c.emitEvent(Event{
		Type:      EventTypeChange,
		Timestamp: time.Now(),
		Version:   frame.Version,
		Slots:     touched,
	})
	return nil
}

func (c *Client) startWorkers() {
	c.workerGroup.Add(1)
	go func() {
		defer c.workerGroup.Done()
		c.readLoop()
	}()
}

// readLoop applies incoming frames until the connection drops, then hands
// off to the reconnection logic.
func (c *Client) readLoop() {
	c.logger.Debug("Reader started")
	defer c.logger.Debug("Reader stopped")

	for atomic.LoadInt32(&c.connected) == 1 {
		var frame feedFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if atomic.LoadInt32(&c.connected) == 1 && atomic.LoadInt32(&c.closed) == 0 {
				c.logger.Warn("Feed lost", log.Error(err))
				atomic.StoreInt32(&c.connected, 0)
				go c.reconnect()
			}
			return
		}

		switch frame.Frame {
		case "snapshot":
			if err := c.applySnapshot(frame); err != nil {
				c.logger.Error("Bad snapshot frame", log.Error(err))
			}
		case "change":
			if err := c.applyChange(frame); err != nil {
				c.logger.Error("Bad change frame", log.Error(err))
			}
		default:
			c.logger.Warn("Unknown frame", log.String("frame", frame.Frame))
		}
	}
}

// reconnect retries Connect until it succeeds or attempts run out. Each
// successful reconnect replays a fresh snapshot, so no state is lost.
func (c *Client) reconnect() {
	c.emitEvent(Event{Type: EventTypeReconnecting, Timestamp: time.Now()})

	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}
		c.logger.Info("Reconnection attempt", log.Int("attempt", attempt))

		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("Reconnected")
			return
		}
		c.logger.Error("Reconnection failed", log.Int("attempt", attempt), log.Error(err))

		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-c.done:
			return
		}
	}
	c.logger.Error("Giving up reconnecting")
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: ErrReconnectFailed})
}

func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()
	for _, handler := range handlers {
		handler(event)
	}
}
