package models

import (
	"time"

	"github.com/google/uuid"
)

// FriendInfo is an immutable snapshot of one entry in the authenticated
// user's friend list, keyed by FriendID.
type FriendInfo struct {
	FriendID    uuid.UUID `json:"friend_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Name returns the display name if set, the username otherwise.
func (f FriendInfo) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Username
}

// Profile is the authenticated user's own profile.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
