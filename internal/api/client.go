// Package api implements the HTTP/JSON client for the GigaChat backend.
// It is a thin wrapper over the server contract; session and ordering
// logic live in the client package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/models"
	"github.com/Nitirit/GigaChat-App/internal/protocol"
)

var (
	// ErrUnauthenticated means the session cookie is missing or expired.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrMissingConversationID means the server answered a conversation
	// request without an identifier.
	ErrMissingConversationID = errors.New("conversation id missing from response")
)

const defaultTimeout = 15 * time.Second

// Client talks to one GigaChat server. The zero value is not usable;
// construct with NewClient. Safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The replacement
// should carry a cookie jar, or authentication will not stick.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the server at baseURL. The client owns
// a cookie jar so the session cookie set by Login is replayed on every
// subsequent request, including the websocket handshake.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid server URL %q", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create cookie jar")
	}

	c := &Client{
		base: base,
		http: &http.Client{Jar: jar, Timeout: defaultTimeout},
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// Jar exposes the cookie jar for sharing with the websocket dialer.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() *url.URL {
	return c.base
}

// WebsocketURL returns the conversation-scoped channel endpoint, with the
// scheme switched to ws/wss.
func (c *Client) WebsocketURL(conversationID uuid.UUID) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path, _ = url.JoinPath(u.Path, "ws", "conversations", conversationID.String())
	return u.String()
}

// Register creates an account. The server does not log the account in;
// call Login afterwards.
func (c *Client) Register(ctx context.Context, username, password, displayName string) error {
	return c.doJSON(ctx, http.MethodPost, "/register", protocol.RegisterRequest{
		Username:    username,
		Password:    password,
		DisplayName: displayName,
	}, nil)
}

// Login authenticates and stores the session cookie in the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.doJSON(ctx, http.MethodPost, "/login", protocol.LoginRequest{
		Username: username,
		Password: password,
	}, nil)
}

// Logout invalidates the server-side session. Errors are returned but
// the local jar is cleared of nothing; callers usually discard the client.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout", nil, nil)
}

// Me returns the authenticated user's id, or ErrUnauthenticated.
func (c *Client) Me(ctx context.Context) (uuid.UUID, error) {
	var resp protocol.MeResponse
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.UserID, nil
}

// MyProfile returns the authenticated user's profile.
func (c *Client) MyProfile(ctx context.Context) (*models.Profile, error) {
	var resp models.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/profile/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Friends returns the authenticated user's friend list.
func (c *Client) Friends(ctx context.Context) ([]models.FriendInfo, error) {
	var resp protocol.FriendsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/friends", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Friends, nil
}

// AddFriend sends a friend request and returns the resulting status
// ("accepted", "pending", or a server-defined value).
func (c *Client) AddFriend(ctx context.Context, friendID uuid.UUID) (string, error) {
	var resp protocol.AddFriendResponse
	if err := c.doJSON(ctx, http.MethodPost, "/friends", protocol.AddFriendRequest{FriendID: friendID}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// StartConversation resolves the conversation identifier for the given
// friend, creating the conversation if it does not exist yet. The server
// keeps one conversation per unordered pair, so the call is idempotent.
// Returns ErrMissingConversationID if the response carries no identifier.
func (c *Client) StartConversation(ctx context.Context, friendID uuid.UUID) (uuid.UUID, error) {
	var resp protocol.StartConversationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", protocol.StartConversationRequest{FriendID: friendID}, &resp); err != nil {
		return uuid.Nil, err
	}
	if resp.ConversationID == uuid.Nil {
		return uuid.Nil, ErrMissingConversationID
	}
	return resp.ConversationID, nil
}

// ConversationMessages fetches the message history for a conversation in
// server-declared chronological order. The order is trusted as-is.
func (c *Client) ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var resp protocol.MessagesResponse
	path, _ := url.JoinPath("/conversations", conversationID.String(), "messages")
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	u := *c.base
	u.Path, _ = url.JoinPath(u.Path, path)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("path", path).Msg("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if msg := protocol.ParseError(data); msg != "" {
			return pkgerrors.Errorf("%s %s: %s (%s)", method, path, msg, resp.Status)
		}
		return pkgerrors.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}
