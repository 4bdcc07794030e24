package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/kickshield/internal/model"
)

const (
	// PushInterval is the periodic status push to websocket clients.
	PushInterval = 250 * time.Millisecond
	writeTimeout = 200 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes status snapshots to websocket clients on every engine event
// and on a fixed tick.
type Hub struct {
	status func() model.Status
	log    logrus.FieldLogger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	wake chan struct{}
}

// NewHub returns a Hub that reads snapshots from status.
func NewHub(status func() model.Status, log logrus.FieldLogger) *Hub {
	return &Hub{
		status: status,
		log:    log,
		conns:  make(map[*websocket.Conn]bool),
		wake:   make(chan struct{}, 1),
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Notify requests an immediate push. It never blocks.
func (h *Hub) Notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// OnHit implements engine.Listener.
func (h *Hub) OnHit(model.HitEvent) { h.Notify() }

// OnSessionEnd implements engine.Listener.
func (h *Hub) OnSessionEnd(model.SessionRecord) { h.Notify() }

// Run pushes snapshots until ctx is cancelled, then closes all clients.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.snapshot() {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(writeTimeout))
				_ = c.Close()
				h.remove(c)
			}
			return nil
		case <-ticker.C:
		case <-h.wake:
		}
		h.push()
	}
}

func (h *Hub) push() {
	clients := h.snapshot()
	if len(clients) == 0 {
		return
	}
	b, err := json.Marshal(h.status())
	if err != nil {
		h.log.WithError(err).Warn("failed to encode status")
		return
	}
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
}

// ServeHTTP upgrades the connection and keeps it until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.add(conn)
	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": h.Clients()}).Debug("websocket client connected")
	h.Notify()
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
