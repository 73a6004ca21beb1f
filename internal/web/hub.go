package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// stageEvent is the wire form of one pipeline progress notification.
type stageEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Time      int64  `json:"time"`
}

// client is one websocket subscriber. A client subscribed with a session id
// only receives that session's events; an empty id receives everything.
type client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// EventHub fans turn pipeline progress out to websocket subscribers, so the
// frontend can show what the long-running turn is doing. Publish never
// blocks the turn pipeline: a slow subscriber just misses events.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     zerolog.Logger
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string]*client),
		log:     log,
	}
}

// Publish notifies subscribers of the session that the pipeline reached a
// new stage.
func (h *EventHub) Publish(sessionID, stage string) {
	data, err := json.Marshal(stageEvent{
		Type:      "turn_progress",
		SessionID: sessionID,
		Stage:     stage,
		Time:      time.Now().Unix(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.sessionID != "" && c.sessionID != sessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Send buffer full; drop rather than stall the pipeline.
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("client", c.id).Int("total", n).Msg("event subscriber connected")

	go c.writePump(h)
	go c.readPump(h)
}

func (h *EventHub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("client", c.id).Int("total", n).Msg("event subscriber disconnected")
}

func (c *client) writePump(h *EventHub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *client) readPump(h *EventHub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
