package client

import (
	"github.com/google/uuid"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// StatusKind enumerates the conversation session lifecycle states.
type StatusKind int

const (
	// StatusIdle means no conversation is selected.
	StatusIdle StatusKind = iota
	// StatusLoading means lookup, history fetch, or channel setup is in
	// flight.
	StatusLoading
	// StatusOpen means history is rendered and the live channel is up.
	StatusOpen
	// StatusDisconnected means the channel dropped; messages are kept and
	// delivery of new sends is not guaranteed.
	StatusDisconnected
	// StatusReconnecting means a channel reopen is in flight.
	StatusReconnecting
	// StatusError means the session failed to open. Selecting a friend
	// again starts a fresh attempt.
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusOpen:
		return "open"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the session state as a tagged value. Err is set for
// StatusError and, when the drop was abnormal, for StatusDisconnected.
type Status struct {
	Kind StatusKind
	Err  error
}

func (s Status) String() string {
	return s.Kind.String()
}

// Detail returns the user-facing failure text, empty for healthy states.
func (s Status) Detail() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// session is the controller's mutable per-conversation state. One exists
// at a time; it is replaced wholesale on every friend selection.
type session struct {
	friend         models.FriendInfo
	conversationID uuid.UUID
	status         Status
	messages       []models.Message
}

// Snapshot is a point-in-time copy of the active session, safe to hold
// across renders. Active is false when no conversation is selected.
type Snapshot struct {
	Active         bool
	ConversationID uuid.UUID
	Friend         models.FriendInfo
	Status         Status
	Messages       []models.Message
}
