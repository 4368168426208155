// Package testserver is an in-memory GigaChat backend implementing the
// server contract the client consumes: cookie-session auth, friends, one
// conversation per unordered friend pair, chronological history, and a
// conversation-scoped websocket that echoes sent messages back to their
// author. It exists so client tests can run against the real wire shapes
// without a deployed server.
package testserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/auth"
	"github.com/Nitirit/GigaChat-App/internal/models"
	"github.com/Nitirit/GigaChat-App/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type account struct {
	id          uuid.UUID
	username    string
	password    string
	displayName string
	createdAt   time.Time
}

// pairKey identifies the conversation for an unordered user pair.
type pairKey struct {
	low, high uuid.UUID
}

func newPairKey(a, b uuid.UUID) pairKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return pairKey{low: a, high: b}
}

// Server is the fake backend. Construct with New, mount Handler into an
// httptest.Server, and seed state through the exported helpers.
type Server struct {
	sessions *auth.SessionManager
	hub      *Hub

	mu            sync.Mutex
	accounts      map[uuid.UUID]*account
	byUsername    map[string]uuid.UUID
	friends       map[uuid.UUID]map[uuid.UUID]bool
	conversations map[pairKey]uuid.UUID
	members       map[uuid.UUID]pairKey
	messages      map[uuid.UUID][]models.Message
}

// New creates an empty backend.
func New() *Server {
	return &Server{
		sessions:      auth.NewSessionManager(),
		hub:           NewHub(),
		accounts:      make(map[uuid.UUID]*account),
		byUsername:    make(map[string]uuid.UUID),
		friends:       make(map[uuid.UUID]map[uuid.UUID]bool),
		conversations: make(map[pairKey]uuid.UUID),
		members:       make(map[uuid.UUID]pairKey),
		messages:      make(map[uuid.UUID][]models.Message),
	}
}

// Hub exposes the websocket fan-out for direct frame injection in tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the backend's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.Handle("GET /me", s.sessions.Middleware(http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /profile/me", s.sessions.Middleware(http.HandlerFunc(s.handleProfile)))
	mux.Handle("GET /friends", s.sessions.Middleware(http.HandlerFunc(s.handleFriends)))
	mux.Handle("POST /friends", s.sessions.Middleware(http.HandlerFunc(s.handleAddFriend)))
	mux.Handle("POST /conversations", s.sessions.Middleware(http.HandlerFunc(s.handleStartConversation)))
	mux.Handle("GET /conversations/{id}/messages", s.sessions.Middleware(http.HandlerFunc(s.handleMessages)))
	mux.Handle("GET /ws/conversations/{id}", s.sessions.Middleware(http.HandlerFunc(s.handleWebSocket)))
	return mux
}

// AddUser seeds an account and returns its id.
func (s *Server) AddUser(username, password, displayName string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, password, displayName)
}

func (s *Server) addUserLocked(username, password, displayName string) uuid.UUID {
	id := uuid.New()
	s.accounts[id] = &account{
		id:          id,
		username:    username,
		password:    password,
		displayName: displayName,
		createdAt:   time.Now().UTC(),
	}
	s.byUsername[username] = id
	s.friends[id] = make(map[uuid.UUID]bool)
	return id
}

// Befriend links two seeded users in both directions.
func (s *Server) Befriend(a, b uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[a][b] = true
	s.friends[b][a] = true
}

// SeedMessage appends a history message for the conversation between two
// users, creating the conversation if needed. Returns the conversation id.
func (s *Server) SeedMessage(senderID, recipientID uuid.UUID, content string, createdAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID := s.conversationLocked(senderID, recipientID)
	s.messages[conversationID] = append(s.messages[conversationID], models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	})
	return conversationID
}

func (s *Server) conversationLocked(a, b uuid.UUID) uuid.UUID {
	key := newPairKey(a, b)
	if id, ok := s.conversations[key]; ok {
		return id
	}
	id := uuid.New()
	s.conversations[key] = id
	s.members[id] = key
	return id
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: message})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[req.Username]; exists {
		writeError(w, http.StatusConflict, "username is taken")
		return
	}
	s.addUserLocked(req.Username, req.Password, req.DisplayName)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	id, ok := s.byUsername[req.Username]
	var acct *account
	if ok {
		acct = s.accounts[id]
	}
	s.mu.Unlock()

	if acct == nil || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.sessions.Issue(w, acct.id)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Revoke(w, r)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, protocol.MeResponse{UserID: auth.UserFromContext(r.Context())})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acct := s.accounts[auth.UserFromContext(r.Context())]
	s.mu.Unlock()
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, models.Profile{
		ID:          acct.id,
		Username:    acct.username,
		DisplayName: acct.displayName,
		CreatedAt:   acct.createdAt,
	})
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	s.mu.Lock()
	friends := make([]models.FriendInfo, 0, len(s.friends[userID]))
	for id := range s.friends[userID] {
		if acct := s.accounts[id]; acct != nil {
			friends = append(friends, models.FriendInfo{
				FriendID:    acct.id,
				Username:    acct.username,
				DisplayName: acct.displayName,
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(friends, func(i, j int) bool { return friends[i].Username < friends[j].Username })
	writeJSON(w, protocol.FriendsResponse{Friends: friends})
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req protocol.AddFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FriendID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "friend_id is required")
		return
	}
	userID := auth.UserFromContext(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[req.FriendID]; !ok {
		writeError(w, http.StatusNotFound, "no such user")
		return
	}
	// No pending-approval flow in the fake; requests are auto-accepted.
	s.friends[userID][req.FriendID] = true
	s.friends[req.FriendID][userID] = true
	writeJSON(w, protocol.AddFriendResponse{Status: protocol.FriendStatusAccepted})
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req protocol.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FriendID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "friend_id is required")
		return
	}
	userID := auth.UserFromContext(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.friends[userID][req.FriendID] {
		writeError(w, http.StatusForbidden, "not friends")
		return
	}
	writeJSON(w, protocol.StartConversationResponse{
		ConversationID: s.conversationLocked(userID, req.FriendID),
	})
}

func (s *Server) memberOf(conversationID, userID uuid.UUID) bool {
	key, ok := s.members[conversationID]
	return ok && (key.low == userID || key.high == userID)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := auth.UserFromContext(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.memberOf(conversationID, userID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs := make([]models.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	writeJSON(w, protocol.MessagesResponse{Messages: msgs})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := auth.UserFromContext(r.Context())

	s.mu.Lock()
	member := s.memberOf(conversationID, userID)
	s.mu.Unlock()
	if !member {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("testserver: websocket upgrade failed")
		return
	}

	client := &hubClient{
		conversationID: conversationID,
		userID:         userID,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
	}
	s.hub.register(client)

	go client.writePump()
	s.readPump(client)
}

func (s *Server) readPump(c *hubClient) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("testserver: websocket read failed")
			}
			return
		}

		var frame protocol.OutboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Content == "" {
			continue
		}
		s.deliver(c.conversationID, c.userID, frame.Content)
	}
}

// deliver stores the message in history and broadcasts it to both
// members, the author included.
func (s *Server) deliver(conversationID, senderID uuid.UUID, content string) {
	createdAt := time.Now().UTC()

	s.mu.Lock()
	s.messages[conversationID] = append(s.messages[conversationID], models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	})
	s.mu.Unlock()

	s.hub.Broadcast(conversationID, senderID, content, createdAt)
}
