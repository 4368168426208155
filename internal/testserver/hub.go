package testserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536
	sendBuffer = 256
)

// wireFrame is the inbound frame shape the client contract expects.
type wireFrame struct {
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// hubClient is one websocket subscriber, bound to a single conversation.
type hubClient struct {
	conversationID uuid.UUID
	userID         uuid.UUID
	conn           *websocket.Conn
	send           chan []byte
}

// Hub fans frames out to every client connected to a conversation. A
// sent message is echoed back to its author on the same path as it is
// delivered to the peer; delivery confirmation is the echo.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*hubClient]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*hubClient]bool)}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	if h.clients[c.conversationID] == nil {
		h.clients[c.conversationID] = make(map[*hubClient]bool)
	}
	h.clients[c.conversationID][c] = true
	h.mu.Unlock()
	log.Debug().Str("conversation_id", c.conversationID.String()).Msg("testserver: channel client connected")
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if clients, ok := h.clients[c.conversationID]; ok {
		if clients[c] {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.clients, c.conversationID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers one message frame to every client on a conversation,
// the author included.
func (h *Hub) Broadcast(conversationID, senderID uuid.UUID, content string, createdAt time.Time) {
	data, err := json.Marshal(wireFrame{
		SenderID:  senderID,
		Content:   content,
		CreatedAt: createdAt,
	})
	if err != nil {
		log.Warn().Err(err).Msg("testserver: failed to marshal frame")
		return
	}
	h.PushRaw(conversationID, data)
}

// PushRaw delivers an arbitrary frame verbatim. Tests use this to inject
// malformed frames and server-shaped edge cases.
func (h *Hub) PushRaw(conversationID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[conversationID] {
		select {
		case c.send <- data:
		default:
			// Buffer full; the slow client misses the frame.
		}
	}
}

// CloseConversation disconnects every client on a conversation.
func (h *Hub) CloseConversation(conversationID uuid.UUID) {
	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients[conversationID]))
	for c := range h.clients[conversationID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
