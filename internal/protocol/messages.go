package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// REST payloads exchanged with the GigaChat backend. Shapes mirror the
// server contract; fields the client never reads are omitted.

// MeResponse is returned by GET /me.
type MeResponse struct {
	UserID uuid.UUID `json:"user_id"`
}

// RegisterRequest is sent to POST /register.
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest is sent to POST /login. The response sets the session cookie.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FriendsResponse is returned by GET /friends.
type FriendsResponse struct {
	Friends []models.FriendInfo `json:"friends"`
}

// AddFriendRequest is sent to POST /friends.
type AddFriendRequest struct {
	FriendID uuid.UUID `json:"friend_id"`
}

// AddFriendResponse is returned by POST /friends.
type AddFriendResponse struct {
	Status string `json:"status"`
}

// Friend request statuses the client distinguishes.
const (
	FriendStatusAccepted = "accepted"
	FriendStatusPending  = "pending"
)

// StartConversationRequest is sent to POST /conversations. The server
// resolves one conversation per unordered friend pair, so repeating the
// call yields the same identifier.
type StartConversationRequest struct {
	FriendID uuid.UUID `json:"friend_id"`
}

// StartConversationResponse is returned by POST /conversations.
type StartConversationResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// MessagesResponse is returned by GET /conversations/{id}/messages, in
// server-declared chronological order.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// ErrorResponse is the body the server sends alongside a non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ParseError extracts the server-provided error string from a response
// body, or returns the empty string if the body is not an ErrorResponse.
func ParseError(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	return er.Error
}
