package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// alertQueueDepth is small and never coalesced: an operator-facing mode
	// alert is the rare case this dashboard must never silently drop, so a
	// stuck client is disconnected rather than made to miss one.
	alertQueueDepth = 16
)

// publishedEvent is one message entering the hub's fan-out, tagged with the
// event type it was built from so delivery policy can differ by type.
type publishedEvent struct {
	eventType string
	payload   []byte
}

// hub fans out two distinct kinds of traffic to subscribed clients:
// routine Snapshot polls, which are supersedable (only the newest state
// matters, so a slow client gets the latest one coalesced rather than
// queued or dropped-and-disconnected), and mode-change alerts, which are
// not supersedable and use a small dedicated queue instead. A client only
// receives the event types it subscribed to at connect time. Grounded on
// internal/api/stream.go's Hub/Client split for the register/unregister/
// run loop shape; the coalescing-snapshot and priority-alert delivery paths
// and the per-client subscription filter have no analogue there, since that
// dashboard pushed one undifferentiated event stream to every client.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan publishedEvent
	mu         sync.RWMutex
	logger     *slog.Logger
}

// client holds one connected WebSocket's two delivery lanes plus its event
// subscription filter. subscribe == nil means "all event types".
type client struct {
	hub       *hub
	conn      *websocket.Conn
	subscribe map[string]bool

	// snapshot is depth-1: a pending-but-unsent snapshot is replaced by the
	// newest one rather than queued, since only the latest state is ever
	// worth rendering.
	snapshot chan []byte
	// alert is depth-alertQueueDepth and never coalesced.
	alert chan []byte
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan publishedEvent, 256),
		logger:     logger.With("component", "dashboard_hub"),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", "count", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.snapshot)
				close(c.alert)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "count", len(h.clients))

		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(evt.eventType) {
					continue
				}
				h.deliver(c, evt)
			}
			h.mu.RUnlock()
		}
	}
}

// deliver routes one event onto a client's lane according to its type's
// backpressure policy. Called with h.mu held for reading; it never mutates
// h.clients directly (a stuck alert lane triggers a conn.Close instead,
// which the client's readPump turns into a clean unregister).
func (h *hub) deliver(c *client, evt publishedEvent) {
	switch evt.eventType {
	case eventAlert:
		select {
		case c.alert <- evt.payload:
		default:
			h.logger.Warn("alert lane full, dropping slow client")
			c.conn.Close()
		}
	default:
		select {
		case c.snapshot <- evt.payload:
		default:
			// Drain the one stale queued snapshot and replace it with the
			// newest; never blocks, never disconnects for this lane.
			select {
			case <-c.snapshot:
			default:
			}
			select {
			case c.snapshot <- evt.payload:
			default:
			}
		}
	}
}

func (h *hub) publish(eventType string, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", eventType, "error", err)
		return
	}
	select {
	case h.broadcast <- publishedEvent{eventType: eventType, payload: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", eventType)
	}
}

// broadcastSnapshot publishes the routine, coalescable state poll.
func (h *hub) broadcastSnapshot(snap Snapshot) {
	h.publish(eventSnapshot, Event{Type: eventSnapshot, Timestamp: snap.Timestamp, Data: snap})
}

// broadcastModeAlert publishes a non-coalescable mode-change notification.
func (h *hub) broadcastModeAlert(snap Snapshot) {
	h.publish(eventAlert, Event{Type: eventAlert, Timestamp: snap.Timestamp, Data: snap})
}

// wants reports whether c subscribed to eventType (nil filter = everything).
func (c *client) wants(eventType string) bool {
	if len(c.subscribe) == 0 {
		return true
	}
	return c.subscribe[eventType]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		// Alerts are checked first and non-blockingly so a burst of routine
		// snapshots never delays a pending mode-change notification.
		select {
		case msg, ok := <-c.alert:
			if !c.writeOne(msg, ok) {
				return
			}
			continue
		default:
		}

		select {
		case msg, ok := <-c.alert:
			if !c.writeOne(msg, ok) {
				return
			}
		case msg, ok := <-c.snapshot:
			if !c.writeOne(msg, ok) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeOne writes one queued message, reporting whether the pump should
// keep running.
func (c *client) writeOne(msg []byte, open bool) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !open {
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// read-only dashboard: client messages are discarded
	}
}

// newClient registers a client subscribed to subscribe (nil/empty = all
// event types) and starts its pumps.
func newClient(h *hub, conn *websocket.Conn, subscribe map[string]bool) *client {
	c := &client{
		hub:       h,
		conn:      conn,
		subscribe: subscribe,
		snapshot:  make(chan []byte, 1),
		alert:     make(chan []byte, alertQueueDepth),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
	return c
}
