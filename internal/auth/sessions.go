// Package auth implements cookie-session authentication for a GigaChat
// server: sessions are opaque tokens issued at login and replayed by the
// client on every request, including the websocket handshake.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "session"

// contextKey is a custom type for context keys.
type contextKey string

const userContextKey contextKey = "user"

// SessionManager issues and validates session cookies. Sessions live in
// memory; restarting the server logs everyone out.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]uuid.UUID
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]uuid.UUID)}
}

// Issue creates a session for userID and sets the session cookie on w.
func (m *SessionManager) Issue(w http.ResponseWriter, userID uuid.UUID) {
	buf := make([]byte, 16)
	rand.Read(buf)
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	m.sessions[token] = userID
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
}

// Revoke invalidates the session carried by r and clears the cookie.
func (m *SessionManager) Revoke(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		m.mu.Lock()
		delete(m.sessions, cookie.Value)
		m.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// UserID resolves the session cookie on r to the authenticated user.
func (m *SessionManager) UserID(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return uuid.Nil, false
	}
	m.mu.RLock()
	id, ok := m.sessions[cookie.Value]
	m.mu.RUnlock()
	return id, ok
}

// Middleware wraps an HTTP handler and rejects unauthenticated requests
// with 401; the authenticated user id is added to the request context.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.UserID(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext retrieves the authenticated user id from the request
// context, or uuid.Nil outside the middleware.
func UserFromContext(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(userContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
