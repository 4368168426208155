// Package events defines the typed notifications the chat client emits
// while a session runs, plus the in-process bus that carries them. The
// UI subscribes to the bus instead of polling session state.
package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

type EventType string

const (
	EventTypeStatusChanged   EventType = "status-changed"
	EventTypeFriendsLoaded   EventType = "friends-loaded"
	EventTypeHistoryLoaded   EventType = "history-loaded"
	EventTypeMessageAppended EventType = "message-appended"
	EventTypeNotice          EventType = "notice"
)

const (
	// TopicDirectory carries friend directory updates.
	TopicDirectory = "chat.directory"
	// TopicSession carries everything scoped to the active conversation.
	TopicSession = "chat.session"
)

type Event interface {
	Type() EventType
	Payload() []byte
}

type EventImpl struct {
	Type_ EventType `json:"type"`

	// raw JSON, set when the event was decoded off the bus
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

// EventStatusChanged reports a session lifecycle transition. Detail holds
// the user-facing error text when Status is an error or disconnect state.
type EventStatusChanged struct {
	EventImpl
	ConversationID uuid.UUID `json:"conversation_id"`
	Status         string    `json:"status"`
	Detail         string    `json:"detail,omitempty"`
}

func NewStatusChangedEvent(conversationID uuid.UUID, status, detail string) *EventStatusChanged {
	return &EventStatusChanged{
		EventImpl:      EventImpl{Type_: EventTypeStatusChanged},
		ConversationID: conversationID,
		Status:         status,
		Detail:         detail,
	}
}

var _ Event = &EventStatusChanged{}

// EventFriendsLoaded reports a refreshed friend directory.
type EventFriendsLoaded struct {
	EventImpl
	Friends []models.FriendInfo `json:"friends"`
}

func NewFriendsLoadedEvent(friends []models.FriendInfo) *EventFriendsLoaded {
	return &EventFriendsLoaded{
		EventImpl: EventImpl{Type_: EventTypeFriendsLoaded},
		Friends:   friends,
	}
}

var _ Event = &EventFriendsLoaded{}

// EventHistoryLoaded reports that the backlog for a conversation is in
// place and the session is open.
type EventHistoryLoaded struct {
	EventImpl
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
}

func NewHistoryLoadedEvent(conversationID uuid.UUID, count int) *EventHistoryLoaded {
	return &EventHistoryLoaded{
		EventImpl:      EventImpl{Type_: EventTypeHistoryLoaded},
		ConversationID: conversationID,
		MessageCount:   count,
	}
}

var _ Event = &EventHistoryLoaded{}

// EventMessageAppended reports one message added to the live timeline.
// Mine is true when the authenticated user authored it.
type EventMessageAppended struct {
	EventImpl
	ConversationID uuid.UUID      `json:"conversation_id"`
	Message        models.Message `json:"message"`
	Mine           bool           `json:"mine"`
}

func NewMessageAppendedEvent(conversationID uuid.UUID, msg models.Message, mine bool) *EventMessageAppended {
	return &EventMessageAppended{
		EventImpl:      EventImpl{Type_: EventTypeMessageAppended},
		ConversationID: conversationID,
		Message:        msg,
		Mine:           mine,
	}
}

var _ Event = &EventMessageAppended{}

// EventNotice carries a transient, user-facing line that is not part of
// the conversation itself.
type EventNotice struct {
	EventImpl
	Text string `json:"text"`
}

func NewNoticeEvent(text string) *EventNotice {
	return &EventNotice{
		EventImpl: EventImpl{Type_: EventTypeNotice},
		Text:      text,
	}
}

var _ Event = &EventNotice{}

// NewEventFromJSON decodes a bus payload back into its typed event.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}

	var ev Event
	switch hdr.Type {
	case EventTypeStatusChanged:
		ev = &EventStatusChanged{}
	case EventTypeFriendsLoaded:
		ev = &EventFriendsLoaded{}
	case EventTypeHistoryLoaded:
		ev = &EventHistoryLoaded{}
	case EventTypeMessageAppended:
		ev = &EventMessageAppended{}
	case EventTypeNotice:
		ev = &EventNotice{}
	default:
		return nil, errors.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", hdr.Type)
	}
	if impl, ok := ev.(interface{ setPayload([]byte) }); ok {
		impl.setPayload(b)
	}
	return ev, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
