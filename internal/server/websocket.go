package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// session is one feed connection: a subscription on the hub pumping into a
// bounded send channel drained by the writer loop.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	sub  events.Subscription
	once sync.Once
	done chan struct{}
}

func (c *session) close() {
	c.once.Do(func() {
		c.sub.Cancel()
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue hands a frame to the writer without blocking the event path. A
// full buffer means the client cannot keep up; it gets disconnected rather
// than stalling container transactions.
func (c *session) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// handleFeed upgrades the connection and streams one container: a snapshot
// frame first, then a change frame per committed transaction.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.running) != 1 {
		http.Error(w, "server stopped", http.StatusServiceUnavailable)
		return
	}
	if int(atomic.LoadInt64(&s.clientCount)) >= s.config.MaxClients {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	id, err := uuid.Parse(r.URL.Query().Get("container"))
	if err != nil {
		http.Error(w, "bad container id", http.StatusBadRequest)
		return
	}
	c, err := s.Lookup(id)
	if err != nil {
		http.Error(w, "unknown container", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Upgrade failed", log.Error(err))
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.config.SendBufferSize),
		done: make(chan struct{}),
	}

	clientLogger := s.logger.With(
		log.String("client_id", sess.id),
		log.String("container", id.String()),
		log.String("remote_addr", conn.RemoteAddr().String()),
	)

	// Subscribe before snapshotting so no change between snapshot and
	// subscription is lost. A change racing the snapshot may be delivered
	// redundantly; clients reconcile by version.
	sess.sub = s.hub.Subscribe(id, func(ch events.Change) {
		frame, err := encodeChange(ch)
		if err != nil {
			clientLogger.Error("Encode change failed", log.Error(err))
			return
		}
		if !sess.enqueue(frame) {
			clientLogger.Warn("Client too slow, dropping")
			sess.close()
		}
	})

	snapshot, err := encodeSnapshot(c)
	if err != nil {
		clientLogger.Error("Encode snapshot failed", log.Error(err))
		sess.close()
		return
	}
	if !sess.enqueue(snapshot) {
		sess.close()
		return
	}

	s.clients.Store(sess.id, sess)
	atomic.AddInt64(&s.clientCount, 1)
	clientLogger.Info("Client connected",
		log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)))

	go s.writeLoop(sess, clientLogger)
	go s.readLoop(sess, clientLogger)
}

// writeLoop drains the send channel onto the wire and keeps the connection
// alive with pings.
func (s *Server) writeLoop(sess *session, clientLogger log.Log) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	defer s.dropClient(sess, clientLogger)

	for {
		select {
		case frame := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				clientLogger.Debug("Write failed", log.Error(err))
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

// readLoop consumes client frames. The feed is one-way; reads only detect
// disconnects and answer pings.
func (s *Server) readLoop(sess *session, clientLogger log.Log) {
	defer s.dropClient(sess, clientLogger)
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) dropClient(sess *session, clientLogger log.Log) {
	sess.close()
	if _, loaded := s.clients.LoadAndDelete(sess.id); loaded {
		atomic.AddInt64(&s.clientCount, -1)
		clientLogger.Info("Client disconnected",
			log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)))
	}
}
