// Package hub manages WebSocket connections for participant message delivery.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection bound to one member of
// one session. A member may hold several connections (multiple tabs).
type Connection struct {
	ID        string
	SessionID string
	MemberID  string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Message is the wire format pushed to participants.
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
	Text      string `json:"text"`
}

// Hub indexes connections by session and member and delivers messages to
// them. Delivery is fire-and-forget: a slow or dead connection is dropped,
// never waited on.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	members     map[string]map[string]map[string]bool // session_id -> member_id -> conn ids
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		members:     make(map[string]map[string]map[string]bool),
	}
}

// NewConnection wraps a raw WebSocket connection for the given member.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID, memberID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		MemberID:  memberID,
		Conn:      ws,
		Send:      make(chan []byte, 256),
	}
}

// Register adds a connection to the indexes.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
	if h.members[conn.SessionID] == nil {
		h.members[conn.SessionID] = make(map[string]map[string]bool)
	}
	if h.members[conn.SessionID][conn.MemberID] == nil {
		h.members[conn.SessionID][conn.MemberID] = make(map[string]bool)
	}
	h.members[conn.SessionID][conn.MemberID][conn.ID] = true
	log.Printf("Connection registered: %s (session %s, member %s)", conn.ID, conn.SessionID, conn.MemberID)
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if byMember := h.members[conn.SessionID]; byMember != nil {
		delete(byMember[conn.MemberID], conn.ID)
		if len(byMember[conn.MemberID]) == 0 {
			delete(byMember, conn.MemberID)
		}
		if len(byMember) == 0 {
			delete(h.members, conn.SessionID)
		}
	}
	close(conn.Send)
	log.Printf("Connection unregistered: %s", conn.ID)
}

// Deliver pushes a private message to every connection the member currently
// holds. A member with no connections is not an error; the message is simply
// dropped (front ends re-fetch the session snapshot on reconnect).
func (h *Hub) Deliver(ctx context.Context, sessionID, memberID, text string) error {
	data, err := json.Marshal(&Message{
		Type:      "message",
		SessionID: sessionID,
		MemberID:  memberID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs := h.members[sessionID][memberID]
	for connID := range connIDs {
		conn, ok := h.connections[connID]
		if !ok {
			continue
		}
		select {
		case conn.Send <- data:
		default:
			log.Printf("WARN: connection %s buffer full, dropping message", connID)
		}
	}
	return nil
}
