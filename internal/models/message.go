package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentLength is the upper bound on message content, in runes.
const MaxContentLength = 500

// Message represents a chat message within a 1-on-1 conversation.
// History messages carry a server-assigned ID; messages arriving over the
// live channel get a locally generated surrogate ID instead.
type Message struct {
	ID             string    `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// SentBy reports whether the message was sent by the given user.
// Degraded messages have a nil sender and belong to nobody.
func (m Message) SentBy(userID uuid.UUID) bool {
	return m.SenderID != uuid.Nil && m.SenderID == userID
}
