package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboundFrame is the only frame the client writes to a conversation
// channel.
type OutboundFrame struct {
	Content string `json:"content"`
}

// InboundFrame is a message pushed by the server over a conversation
// channel. Every field is optional on the wire; ParseInbound fills in
// what it can.
type InboundFrame struct {
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Degraded marks a frame that did not parse as JSON and was forwarded
	// with the raw text as content. Never set on the wire.
	Degraded bool `json:"-"`
}

// EncodeOutbound marshals an outbound frame.
func EncodeOutbound(content string) ([]byte, error) {
	return json.Marshal(OutboundFrame{Content: content})
}

// ParseInbound decodes a channel frame. A frame that fails to parse as
// JSON is not discarded: it comes back as a degraded frame whose content
// is the raw frame text, with sender and timestamp unset. A valid JSON
// frame with an unparseable sender or timestamp keeps its content and
// leaves the bad field unset. Delivery wins over strict parsing.
func ParseInbound(data []byte) InboundFrame {
	var raw struct {
		SenderID  string `json:"sender_id"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return InboundFrame{Content: string(data), Degraded: true}
	}

	f := InboundFrame{Content: raw.Content}
	if id, err := uuid.Parse(raw.SenderID); err == nil {
		f.SenderID = id
	}
	if ts, err := time.Parse(time.RFC3339, raw.CreatedAt); err == nil {
		f.CreatedAt = ts
	}
	return f
}
