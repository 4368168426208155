package client

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// FriendLister is the directory's view of the backend.
type FriendLister interface {
	Friends(ctx context.Context) ([]models.FriendInfo, error)
}

// Directory holds the friend list in the order the server returned it
// and resolves sender ids to display names. Safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	friends []models.FriendInfo
	byID    map[uuid.UUID]models.FriendInfo
}

func NewDirectory() *Directory {
	return &Directory{byID: make(map[uuid.UUID]models.FriendInfo)}
}

// Refresh replaces the directory contents from the backend. On failure
// the previous contents are kept; an empty directory is not an error.
func (d *Directory) Refresh(ctx context.Context, src FriendLister) error {
	friends, err := src.Friends(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("friend list refresh failed")
		return err
	}

	byID := make(map[uuid.UUID]models.FriendInfo, len(friends))
	for _, f := range friends {
		byID[f.FriendID] = f
	}

	d.mu.Lock()
	d.friends = friends
	d.byID = byID
	d.mu.Unlock()

	log.Debug().Int("count", len(friends)).Msg("friend list refreshed")
	return nil
}

// Friends returns the friend list in server order.
func (d *Directory) Friends() []models.FriendInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.FriendInfo, len(d.friends))
	copy(out, d.friends)
	return out
}

// Lookup finds a friend by id.
func (d *Directory) Lookup(id uuid.UUID) (models.FriendInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.byID[id]
	return f, ok
}

// DisplayName resolves a sender id to the friend's name. Ids not in the
// directory, including the nil sender of degraded frames, fall back to
// "User"; the caller decides how to label the authenticated user.
func (d *Directory) DisplayName(id uuid.UUID) string {
	if f, ok := d.Lookup(id); ok {
		return f.Name()
	}
	return "User"
}

// Filter returns the friends whose username or display name contains
// query, case-insensitively. An empty query returns everyone, in server
// order.
func (d *Directory) Filter(query string) []models.FriendInfo {
	all := d.Friends()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all
	}
	out := make([]models.FriendInfo, 0, len(all))
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Username), query) ||
			strings.Contains(strings.ToLower(f.DisplayName), query) {
			out = append(out, f)
		}
	}
	return out
}
