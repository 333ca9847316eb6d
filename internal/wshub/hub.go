package wshub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"

	"attendsync/internal/broadcast"
)

// ClientMessage is the JSON structure received from clients.
type ClientMessage struct {
	Type string `json:"t"`
}

// ServerMessage is a control message sent to one client. Class-list updates
// arrive already encoded from the broadcaster.
type ServerMessage struct {
	Type    string `json:"t"`
	Message string `json:"msg,omitempty"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub manages per-user WebSocket connections. A user may hold several.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		close(c.Send)
		delete(h.clients, clientID)
	}
}

// Count returns how many connections userID has open.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// SendToUser queues data for every connection of userID and returns how many
// accepted it. Non-blocking: drops if channel full.
func (h *Hub) SendToUser(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, c := range h.clients {
		if c.UserID != userID {
			continue
		}
		select {
		case c.Send <- data:
			sent++
		default:
			// Drop message if channel full
		}
	}
	return sent
}

// Reply sends a control message to a single client.
func (h *Hub) Reply(clientID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WSHub] Marshal error: %v\n", err)
		return
	}
	h.SendTo(clientID, data)
}

// SendTo queues data for one client. Non-blocking: drops if channel full.
func (h *Hub) SendTo(clientID string, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Forward relays broadcaster messages to their users until ctx is done or ch
// is closed.
func (h *Hub) Forward(ctx context.Context, ch <-chan broadcast.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.SendToUser(msg.UserID, msg.Data)
		}
	}
}
