// Package client implements the conversation session core: the friend
// directory, the single active session and its state machine, the
// outbound composer gate, and the timeline render model. It talks to the
// backend through narrow interfaces and reports everything observable on
// the events bus.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/events"
	"github.com/Nitirit/GigaChat-App/internal/models"
	"github.com/Nitirit/GigaChat-App/internal/protocol"
	"github.com/Nitirit/GigaChat-App/internal/transport"
)

// ErrNoSession is returned by session operations when no conversation
// has been selected.
var ErrNoSession = errors.New("no active conversation")

// Backend is the controller's view of the HTTP API.
type Backend interface {
	Friends(ctx context.Context) ([]models.FriendInfo, error)
	StartConversation(ctx context.Context, friendID uuid.UUID) (uuid.UUID, error)
	ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	WebsocketURL(conversationID uuid.UUID) string
}

// Channel is the controller's view of one live conversation channel.
type Channel interface {
	Events() <-chan transport.Event
	Send(content string) error
	Close()
}

// ChannelDialer opens channels.
type ChannelDialer interface {
	Dial(ctx context.Context, wsURL string) (Channel, error)
}

type transportDialer struct {
	d *transport.Dialer
}

func (t transportDialer) Dial(ctx context.Context, wsURL string) (Channel, error) {
	conn, err := t.d.Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewTransportDialer adapts a websocket dialer to the ChannelDialer
// interface.
func NewTransportDialer(d *transport.Dialer) ChannelDialer {
	return transportDialer{d: d}
}

// Controller owns the single active conversation session. Every friend
// selection replaces the session wholesale; results of superseded loads
// and events from superseded channels are discarded by generation and
// channel identity checks rather than by aborting requests.
type Controller struct {
	backend   Backend
	dialer    ChannelDialer
	bus       *events.Bus
	self      uuid.UUID
	directory *Directory
	composer  *Composer

	mu   sync.Mutex
	gen  uint64
	sess *session
	conn Channel
}

// Option configures a Controller.
type Option func(*Controller)

// WithComposer replaces the default outbound gate.
func WithComposer(c *Composer) Option {
	return func(ctrl *Controller) {
		ctrl.composer = c
	}
}

// NewController creates a controller for the authenticated user self.
func NewController(backend Backend, dialer ChannelDialer, bus *events.Bus, self uuid.UUID, options ...Option) *Controller {
	c := &Controller{
		backend:   backend,
		dialer:    dialer,
		bus:       bus,
		self:      self,
		directory: NewDirectory(),
		composer:  NewComposer(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Self returns the authenticated user's id.
func (c *Controller) Self() uuid.UUID {
	return c.self
}

// Directory returns the friend directory.
func (c *Controller) Directory() *Directory {
	return c.directory
}

// RefreshFriends reloads the friend directory and announces the result.
// On failure the previous directory contents remain usable.
func (c *Controller) RefreshFriends(ctx context.Context) error {
	if err := c.directory.Refresh(ctx, c.backend); err != nil {
		return err
	}
	c.bus.PublishBlind(events.TopicDirectory, events.NewFriendsLoadedEvent(c.directory.Friends()))
	return nil
}

// OpenConversation starts a fresh session with the given friend. Any
// previous session is superseded immediately: its channel is closed and
// late results from its loading steps will be discarded. Selecting the
// same friend again goes through the full sequence, which is also the
// retry path after an error.
func (c *Controller) OpenConversation(ctx context.Context, friend models.FriendInfo) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.sess = &session{
		friend: friend,
		status: Status{Kind: StatusLoading},
	}
	c.mu.Unlock()

	log.Info().Str("friend", friend.Name()).Msg("opening conversation")
	c.publishStatus(uuid.Nil, Status{Kind: StatusLoading})

	go c.load(ctx, gen, friend)
}

// load runs the open sequence: resolve the conversation id, fetch the
// history baseline, then open the live channel. History strictly
// precedes the channel so a push can never land before the backlog.
func (c *Controller) load(ctx context.Context, gen uint64, friend models.FriendInfo) {
	conversationID, err := c.backend.StartConversation(ctx, friend.FriendID)
	if err != nil {
		c.fail(gen, uuid.Nil, pkgerrors.Wrap(err, "look up conversation"))
		return
	}

	history, err := c.backend.ConversationMessages(ctx, conversationID)
	if err != nil {
		c.fail(gen, conversationID, pkgerrors.Wrap(err, "load history"))
		return
	}

	conn, err := c.dialer.Dial(ctx, c.backend.WebsocketURL(conversationID))
	if err != nil {
		c.fail(gen, conversationID, pkgerrors.Wrap(err, "open channel"))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		log.Debug().Str("conversation_id", conversationID.String()).Msg("discarding superseded load")
		return
	}
	c.sess.conversationID = conversationID
	c.sess.messages = history
	c.sess.status = Status{Kind: StatusOpen}
	c.conn = conn
	c.mu.Unlock()

	log.Info().
		Str("conversation_id", conversationID.String()).
		Int("history", len(history)).
		Msg("conversation open")

	c.bus.PublishBlind(events.TopicSession, events.NewHistoryLoadedEvent(conversationID, len(history)))
	c.publishStatus(conversationID, Status{Kind: StatusOpen})

	go c.pump(gen, conn)
}

func (c *Controller) fail(gen uint64, conversationID uuid.UUID, err error) {
	c.mu.Lock()
	if gen != c.gen || c.sess == nil {
		c.mu.Unlock()
		log.Debug().Err(err).Msg("discarding superseded failure")
		return
	}
	c.sess.conversationID = conversationID
	st := Status{Kind: StatusError, Err: err}
	c.sess.status = st
	c.mu.Unlock()

	log.Warn().Err(err).Msg("conversation failed to open")
	c.publishStatus(conversationID, st)
}

// pump applies one channel's events to the session for as long as both
// the generation and the channel identity are current.
func (c *Controller) pump(gen uint64, conn Channel) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case transport.EventOpen:
			c.channelOpened(gen, conn)
		case transport.EventMessage:
			c.appendFrame(gen, conn, ev.Frame)
		case transport.EventClosed:
			c.channelClosed(gen, conn, ev.Err)
		}
	}
}

func (c *Controller) channelOpened(gen uint64, conn Channel) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn || c.sess == nil || c.sess.status.Kind == StatusOpen {
		c.mu.Unlock()
		return
	}
	st := Status{Kind: StatusOpen}
	c.sess.status = st
	conversationID := c.sess.conversationID
	c.mu.Unlock()

	c.publishStatus(conversationID, st)
}

func (c *Controller) appendFrame(gen uint64, conn Channel, frame protocol.InboundFrame) {
	if frame.Content == "" {
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.conn != conn || c.sess == nil {
		c.mu.Unlock()
		return
	}
	createdAt := frame.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: c.sess.conversationID,
		SenderID:       frame.SenderID,
		Content:        frame.Content,
		CreatedAt:      createdAt,
	}
	c.sess.messages = append(c.sess.messages, msg)
	conversationID := c.sess.conversationID
	c.mu.Unlock()

	c.bus.PublishBlind(events.TopicSession,
		events.NewMessageAppendedEvent(conversationID, msg, msg.SentBy(c.self)))
}

func (c *Controller) channelClosed(gen uint64, conn Channel, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn || c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	st := Status{Kind: StatusDisconnected, Err: err}
	c.sess.status = st
	conversationID := c.sess.conversationID
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("conversation channel lost")
	} else {
		log.Info().Msg("conversation channel closed")
	}
	c.publishStatus(conversationID, st)
}

// Reconnect reopens the channel for a disconnected session. History and
// messages already on screen are kept; the session returns to open on
// success and to disconnected if the dial fails. There is no automatic
// retry behind this; it runs once per call.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil || c.sess.conversationID == uuid.Nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	switch c.sess.status.Kind {
	case StatusOpen, StatusLoading, StatusReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	conversationID := c.sess.conversationID
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	st := Status{Kind: StatusReconnecting}
	c.sess.status = st
	c.mu.Unlock()

	log.Info().Str("conversation_id", conversationID.String()).Msg("reconnecting")
	c.publishStatus(conversationID, st)

	go c.redial(ctx, gen, conversationID)
	return nil
}

func (c *Controller) redial(ctx context.Context, gen uint64, conversationID uuid.UUID) {
	conn, err := c.dialer.Dial(ctx, c.backend.WebsocketURL(conversationID))
	if err != nil {
		c.mu.Lock()
		if gen != c.gen || c.sess == nil {
			c.mu.Unlock()
			return
		}
		st := Status{Kind: StatusDisconnected, Err: err}
		c.sess.status = st
		c.mu.Unlock()

		log.Warn().Err(err).Msg("reconnect failed")
		c.publishStatus(conversationID, st)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.sess == nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	st := Status{Kind: StatusOpen}
	c.sess.status = st
	c.mu.Unlock()

	c.publishStatus(conversationID, st)
	go c.pump(gen, conn)
}

// SendMessage pushes user input through the composer gate and onto the
// channel. Every rejection is a local no-op: empty input, over-long
// input, rate-limited sends, and sends with no usable channel all leave
// the session untouched. Nothing is appended locally; the message shows
// up when the server echoes it back. The return value reports whether
// the message actually went out, so callers know when to clear a draft.
func (c *Controller) SendMessage(text string) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		log.Debug().Msg("send dropped: no open channel")
		return false
	}

	content, err := c.composer.Prepare(text)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.bus.PublishBlind(events.TopicSession, events.NewNoticeEvent("Sending too fast; message not sent."))
		}
		log.Debug().Err(err).Msg("send dropped by composer")
		return false
	}

	if err := conn.Send(content); err != nil {
		log.Debug().Err(err).Msg("send dropped: channel closed")
		return false
	}
	return true
}

// CloseSession tears the active session down and returns to idle. Safe
// to call with no session.
func (c *Controller) CloseSession() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	had := c.sess != nil
	c.sess = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if had {
		log.Info().Msg("conversation closed")
		c.publishStatus(uuid.Nil, Status{Kind: StatusIdle})
	}
}

// Snapshot returns a copy of the active session for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Snapshot{Status: Status{Kind: StatusIdle}}
	}
	msgs := make([]models.Message, len(c.sess.messages))
	copy(msgs, c.sess.messages)
	return Snapshot{
		Active:         true,
		ConversationID: c.sess.conversationID,
		Friend:         c.sess.friend,
		Status:         c.sess.status,
		Messages:       msgs,
	}
}

func (c *Controller) publishStatus(conversationID uuid.UUID, st Status) {
	c.bus.PublishBlind(events.TopicSession,
		events.NewStatusChangedEvent(conversationID, st.String(), st.Detail()))
}
