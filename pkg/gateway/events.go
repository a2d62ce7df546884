package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// EventMessage is the wire format of the observability feed.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type eventClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *eventClient) write(msg EventMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// EventHub broadcasts gateway events (tool executions) to connected operator
// clients over websockets. Payloads carry only PII-safe data: tool name,
// caller ID, and success flag.
type EventHub struct {
	clients map[string]*eventClient
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string]*eventClient),
		logger:  logger,
	}
}

// Broadcast sends an event to every connected client. Failed writes
// disconnect the client.
func (h *EventHub) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	clients := make([]*eventClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			h.logger.Warn().
				Err(err).
				Str("clientId", c.id).
				Str("event", event).
				Msg("Failed to broadcast to client")
			h.remove(c.id)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used during shutdown.
func (h *EventHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}

func (h *EventHub) add(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *EventHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.conn.Close()
		delete(h.clients, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents implements GET /events: an authenticated websocket feed of
// tool-executed events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	caller := s.auth.Authenticate(r)
	if !caller.Authenticated {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required.")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}

	client := &eventClient{id: id, conn: conn}
	s.events.add(client)

	s.logger.Info().
		Str("clientId", id).
		Int64("userId", caller.ID).
		Msg("Event client connected")

	// Read loop exists only to observe the close; clients never send data.
	go func() {
		defer s.events.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
