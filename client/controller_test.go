package client

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Nitirit/GigaChat-App/internal/events"
	"github.com/Nitirit/GigaChat-App/internal/models"
	"github.com/Nitirit/GigaChat-App/internal/protocol"
	"github.com/Nitirit/GigaChat-App/internal/transport"
)

var selfID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

type fakeBackend struct {
	friends              func(ctx context.Context) ([]models.FriendInfo, error)
	startConversation    func(ctx context.Context, friendID uuid.UUID) (uuid.UUID, error)
	conversationMessages func(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
}

func (f *fakeBackend) Friends(ctx context.Context) ([]models.FriendInfo, error) {
	if f.friends == nil {
		return nil, nil
	}
	return f.friends(ctx)
}

func (f *fakeBackend) StartConversation(ctx context.Context, friendID uuid.UUID) (uuid.UUID, error) {
	if f.startConversation == nil {
		return uuid.Nil, errors.New("no startConversation stub")
	}
	return f.startConversation(ctx, friendID)
}

func (f *fakeBackend) ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	if f.conversationMessages == nil {
		return nil, nil
	}
	return f.conversationMessages(ctx, conversationID)
}

func (f *fakeBackend) WebsocketURL(conversationID uuid.UUID) string {
	return "ws://test/ws/conversations/" + conversationID.String()
}

type fakeChannel struct {
	mu     sync.Mutex
	events chan transport.Event
	sent   []string
	closed int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan transport.Event, 16)}
}

func (f *fakeChannel) Events() <-chan transport.Event { return f.events }

func (f *fakeChannel) Send(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return transport.ErrClosed
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeChannel) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) emitMessage(sender uuid.UUID, content string, at time.Time) {
	f.events <- transport.Event{
		Kind:  transport.EventMessage,
		Frame: protocol.InboundFrame{SenderID: sender, Content: content, CreatedAt: at},
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	dial  func(ctx context.Context, wsURL string) (Channel, error)
	calls []string
}

func (f *fakeDialer) Dial(ctx context.Context, wsURL string) (Channel, error) {
	f.mu.Lock()
	f.calls = append(f.calls, wsURL)
	f.mu.Unlock()
	return f.dial(ctx, wsURL)
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func singleChannelDialer(ch *fakeChannel) *fakeDialer {
	return &fakeDialer{dial: func(context.Context, string) (Channel, error) {
		return ch, nil
	}}
}

func newTestController(t *testing.T, backend *fakeBackend, dialer *fakeDialer, options ...Option) (*Controller, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	options = append([]Option{
		WithComposer(NewComposerWithLimiter(rate.NewLimiter(rate.Inf, 0))),
	}, options...)
	return NewController(backend, dialer, bus, selfID, options...), bus
}

func waitStatus(t *testing.T, ctrl *Controller, kind StatusKind) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = ctrl.Snapshot()
		return snap.Status.Kind == kind
	}, 2*time.Second, 5*time.Millisecond, "session never reached %s", kind)
	return snap
}

func waitMessages(t *testing.T, ctrl *Controller, n int) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = ctrl.Snapshot()
		return len(snap.Messages) == n
	}, 2*time.Second, 5*time.Millisecond, "session never reached %d messages", n)
	return snap
}

func TestController_OpenConversation_HappyPath(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	conversationID := uuid.New()

	backend := &fakeBackend{
		startConversation: func(_ context.Context, friendID uuid.UUID) (uuid.UUID, error) {
			require.Equal(t, friend.FriendID, friendID)
			return conversationID, nil
		},
		conversationMessages: func(_ context.Context, id uuid.UUID) ([]models.Message, error) {
			require.Equal(t, conversationID, id)
			return []models.Message{
				{ID: "m1", SenderID: friend.FriendID, Content: "hey", CreatedAt: time.Now().Add(-time.Hour)},
				{ID: "m2", SenderID: selfID, Content: "hey yourself", CreatedAt: time.Now().Add(-time.Minute)},
			}, nil
		},
	}
	ch := newFakeChannel()
	dialer := singleChannelDialer(ch)
	ctrl, _ := newTestController(t, backend, dialer)

	ctrl.OpenConversation(context.Background(), friend)

	snap := waitStatus(t, ctrl, StatusOpen)
	require.Equal(t, conversationID, snap.ConversationID)
	require.Equal(t, friend, snap.Friend)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, 1, dialer.dialCount())
	require.Contains(t, dialer.calls[0], conversationID.String())
}

func TestController_SwitchDiscardsSupersededLoad(t *testing.T) {
	friendA := models.FriendInfo{FriendID: uuid.New(), Username: "slow"}
	friendB := models.FriendInfo{FriendID: uuid.New(), Username: "fast"}
	convA, convB := uuid.New(), uuid.New()

	gate := make(chan struct{})
	backend := &fakeBackend{
		startConversation: func(_ context.Context, friendID uuid.UUID) (uuid.UUID, error) {
			if friendID == friendA.FriendID {
				return convA, nil
			}
			return convB, nil
		},
		conversationMessages: func(_ context.Context, id uuid.UUID) ([]models.Message, error) {
			if id == convA {
				<-gate
				return []models.Message{{ID: "a1", Content: "from A", CreatedAt: time.Now()}}, nil
			}
			return []models.Message{{ID: "b1", Content: "from B", CreatedAt: time.Now()}}, nil
		},
	}

	chA, chB := newFakeChannel(), newFakeChannel()
	dialer := &fakeDialer{}
	dialer.dial = func(_ context.Context, wsURL string) (Channel, error) {
		if strings.Contains(wsURL, convA.String()) {
			return chA, nil
		}
		return chB, nil
	}
	ctrl, _ := newTestController(t, backend, dialer)

	ctx := context.Background()
	ctrl.OpenConversation(ctx, friendA)
	ctrl.OpenConversation(ctx, friendB)

	snap := waitStatus(t, ctrl, StatusOpen)
	require.Equal(t, convB, snap.ConversationID)

	// Let A's history fetch resolve late; its results must be thrown
	// away and its channel, dialed after the fact, closed again.
	close(gate)
	require.Eventually(t, func() bool {
		return chA.closeCount() > 0
	}, 2*time.Second, 5*time.Millisecond, "superseded channel never torn down")

	snap = ctrl.Snapshot()
	require.Equal(t, convB, snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	for _, m := range snap.Messages {
		require.NotEqual(t, "from A", m.Content)
	}
	require.Zero(t, chB.closeCount())
}

func TestController_EchoFlow(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	conversationID := uuid.New()
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return conversationID, nil
		},
	}
	ch := newFakeChannel()
	ctrl, _ := newTestController(t, backend, singleChannelDialer(ch))

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ch.emitMessage(friend.FriendID, "hi", base)
	waitMessages(t, ctrl, 1)

	// Sending appends nothing locally; the message only lands via echo.
	require.True(t, ctrl.SendMessage("yo"))
	require.Equal(t, []string{"yo"}, ch.sentMessages())
	require.Len(t, ctrl.Snapshot().Messages, 1)

	ch.emitMessage(selfID, "yo", base.Add(time.Minute))
	snap := waitMessages(t, ctrl, 2)

	require.Equal(t, "hi", snap.Messages[0].Content)
	require.Equal(t, friend.FriendID, snap.Messages[0].SenderID)
	require.False(t, snap.Messages[0].SentBy(selfID))
	require.Equal(t, "yo", snap.Messages[1].Content)
	require.True(t, snap.Messages[1].SentBy(selfID))
	require.NotEmpty(t, snap.Messages[1].ID)

	items := BuildTimeline(snap.Messages, time.UTC)
	require.Equal(t, 1, countMarkers(items))
}

func TestController_EmptyFramesDropped(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	ctrl, _ := newTestController(t, backend, singleChannelDialer(ch))

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	now := time.Now()
	ch.emitMessage(friend.FriendID, "", now)
	ch.emitMessage(friend.FriendID, "one", now)
	ch.emitMessage(friend.FriendID, "", now)
	ch.emitMessage(friend.FriendID, "two", now)

	snap := waitMessages(t, ctrl, 2)
	require.Equal(t, "one", snap.Messages[0].Content)
	require.Equal(t, "two", snap.Messages[1].Content)
}

func TestController_DegradedFrameKeepsRawContent(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	ctrl, _ := newTestController(t, backend, singleChannelDialer(ch))

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	ch.events <- transport.Event{
		Kind:  transport.EventMessage,
		Frame: protocol.InboundFrame{Content: "oops", Degraded: true},
	}

	snap := waitMessages(t, ctrl, 1)
	require.Equal(t, "oops", snap.Messages[0].Content)
	require.Equal(t, uuid.Nil, snap.Messages[0].SenderID)
	require.False(t, snap.Messages[0].SentBy(selfID))
	require.False(t, snap.Messages[0].CreatedAt.IsZero())
}

func TestController_BusAnnouncesLifecycle(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	conversationID := uuid.New()
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return conversationID, nil
		},
		conversationMessages: func(context.Context, uuid.UUID) ([]models.Message, error) {
			return []models.Message{{ID: "m1", Content: "old", CreatedAt: time.Now()}}, nil
		},
	}
	ch := newFakeChannel()
	ctrl, bus := newTestController(t, backend, singleChannelDialer(ch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, events.TopicSession)
	require.NoError(t, err)

	ctrl.OpenConversation(ctx, friend)
	waitStatus(t, ctrl, StatusOpen)

	var seen []events.EventType
	for len(seen) < 3 {
		select {
		case m := <-msgs:
			ev, err := events.NewEventFromJSON(m.Payload)
			require.NoError(t, err)
			m.Ack()
			seen = append(seen, ev.Type())
		case <-time.After(2 * time.Second):
			t.Fatalf("bus stalled after %v", seen)
		}
	}

	require.Equal(t, []events.EventType{
		events.EventTypeStatusChanged,
		events.EventTypeHistoryLoaded,
		events.EventTypeStatusChanged,
	}, seen)
}

func TestController_DisconnectRetainsMessagesAndReconnects(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	conversationID := uuid.New()
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return conversationID, nil
		},
		conversationMessages: func(context.Context, uuid.UUID) ([]models.Message, error) {
			return []models.Message{{ID: "m1", Content: "kept", CreatedAt: time.Now()}}, nil
		},
	}

	chA, chB := newFakeChannel(), newFakeChannel()
	dials := 0
	var mu sync.Mutex
	dialer := &fakeDialer{}
	dialer.dial = func(context.Context, string) (Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return chA, nil
		}
		return chB, nil
	}
	ctrl, _ := newTestController(t, backend, dialer)

	ctx := context.Background()
	ctrl.OpenConversation(ctx, friend)
	waitStatus(t, ctrl, StatusOpen)

	chA.events <- transport.Event{Kind: transport.EventClosed, Err: errors.New("connection reset")}

	snap := waitStatus(t, ctrl, StatusDisconnected)
	require.Error(t, snap.Status.Err)
	require.Len(t, snap.Messages, 1)

	// No channel, so sends drop silently.
	require.False(t, ctrl.SendMessage("into the void"))
	require.Empty(t, chA.sentMessages())

	require.NoError(t, ctrl.Reconnect(ctx))
	snap = waitStatus(t, ctrl, StatusOpen)
	require.Equal(t, conversationID, snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, 2, dialer.dialCount())

	// Events from the superseded channel are ignored; the new channel's
	// events land.
	chA.emitMessage(friend.FriendID, "ghost", time.Now())
	chB.emitMessage(friend.FriendID, "back online", time.Now())

	snap = waitMessages(t, ctrl, 2)
	require.Equal(t, "back online", snap.Messages[1].Content)

	time.Sleep(50 * time.Millisecond)
	for _, m := range ctrl.Snapshot().Messages {
		require.NotEqual(t, "ghost", m.Content)
	}
}

func TestController_Reconnect_NoSession(t *testing.T) {
	ctrl, _ := newTestController(t, &fakeBackend{}, &fakeDialer{dial: func(context.Context, string) (Channel, error) {
		t.Errorf("dial should not be called")
		return nil, errors.New("unexpected dial")
	}})

	require.ErrorIs(t, ctrl.Reconnect(context.Background()), ErrNoSession)
}

func TestController_Reconnect_WhileOpenIsNoop(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	dialer := singleChannelDialer(ch)
	ctrl, _ := newTestController(t, backend, dialer)

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	require.NoError(t, ctrl.Reconnect(context.Background()))
	require.Equal(t, 1, dialer.dialCount())
}

func TestController_LookupFailure(t *testing.T) {
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.Nil, errors.New("boom")
		},
	}
	dialer := &fakeDialer{dial: func(context.Context, string) (Channel, error) {
		t.Errorf("channel must not open after lookup failure")
		return nil, errors.New("unexpected dial")
	}}
	ctrl, _ := newTestController(t, backend, dialer)

	ctrl.OpenConversation(context.Background(), models.FriendInfo{FriendID: uuid.New()})

	snap := waitStatus(t, ctrl, StatusError)
	require.Contains(t, snap.Status.Detail(), "look up conversation")
}

func TestController_HistoryFailureLeavesChannelUnopened(t *testing.T) {
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
		conversationMessages: func(context.Context, uuid.UUID) ([]models.Message, error) {
			return nil, errors.New("boom")
		},
	}
	dialer := &fakeDialer{dial: func(context.Context, string) (Channel, error) {
		t.Errorf("channel must not open after history failure")
		return nil, errors.New("unexpected dial")
	}}
	ctrl, _ := newTestController(t, backend, dialer)

	ctrl.OpenConversation(context.Background(), models.FriendInfo{FriendID: uuid.New()})

	snap := waitStatus(t, ctrl, StatusError)
	require.Contains(t, snap.Status.Detail(), "load history")
	require.Zero(t, dialer.dialCount())
}

func TestController_DialFailure(t *testing.T) {
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	dialer := &fakeDialer{dial: func(context.Context, string) (Channel, error) {
		return nil, errors.New("refused")
	}}
	ctrl, _ := newTestController(t, backend, dialer)

	ctrl.OpenConversation(context.Background(), models.FriendInfo{FriendID: uuid.New()})

	snap := waitStatus(t, ctrl, StatusError)
	require.Contains(t, snap.Status.Detail(), "open channel")
}

func TestController_SendMessage_Gates(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	ctrl, _ := newTestController(t, backend, singleChannelDialer(ch))

	// No session yet: nothing to send on, nothing breaks.
	require.False(t, ctrl.SendMessage("hello?"))

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	require.False(t, ctrl.SendMessage("   "))
	require.False(t, ctrl.SendMessage(strings.Repeat("x", 501)))
	require.Empty(t, ch.sentMessages())

	atLimit := strings.Repeat("x", 500)
	require.True(t, ctrl.SendMessage(atLimit))
	require.Equal(t, []string{atLimit}, ch.sentMessages())

	// Nothing was appended locally by any of the sends.
	require.Empty(t, ctrl.Snapshot().Messages)
}

func TestController_SendMessage_RateLimitNotice(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	ctrl, bus := newTestController(t, backend, singleChannelDialer(ch),
		WithComposer(NewComposerWithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, events.TopicSession)
	require.NoError(t, err)

	ctrl.OpenConversation(ctx, friend)
	waitStatus(t, ctrl, StatusOpen)

	require.True(t, ctrl.SendMessage("first"))
	require.False(t, ctrl.SendMessage("second"))
	require.Equal(t, []string{"first"}, ch.sentMessages())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-msgs:
			ev, err := events.NewEventFromJSON(m.Payload)
			require.NoError(t, err)
			m.Ack()
			if notice, ok := ev.(*events.EventNotice); ok {
				require.Contains(t, notice.Text, "too fast")
				return
			}
		case <-deadline:
			t.Fatal("rate limit notice never published")
		}
	}
}

func TestController_CloseSession(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		startConversation: func(context.Context, uuid.UUID) (uuid.UUID, error) {
			return uuid.New(), nil
		},
	}
	ch := newFakeChannel()
	ctrl, _ := newTestController(t, backend, singleChannelDialer(ch))

	ctrl.OpenConversation(context.Background(), friend)
	waitStatus(t, ctrl, StatusOpen)

	ctrl.CloseSession()

	snap := ctrl.Snapshot()
	require.False(t, snap.Active)
	require.Equal(t, StatusIdle, snap.Status.Kind)
	require.Equal(t, 1, ch.closeCount())

	ctrl.CloseSession()
}

func TestController_RefreshFriends_PublishesDirectory(t *testing.T) {
	friend := models.FriendInfo{FriendID: uuid.New(), Username: "zoe"}
	backend := &fakeBackend{
		friends: func(context.Context) ([]models.FriendInfo, error) {
			return []models.FriendInfo{friend}, nil
		},
	}
	ctrl, bus := newTestController(t, backend, &fakeDialer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, events.TopicDirectory)
	require.NoError(t, err)

	require.NoError(t, ctrl.RefreshFriends(ctx))
	require.Len(t, ctrl.Directory().Friends(), 1)

	select {
	case m := <-msgs:
		ev, err := events.NewEventFromJSON(m.Payload)
		require.NoError(t, err)
		m.Ack()
		loaded, ok := ev.(*events.EventFriendsLoaded)
		require.True(t, ok)
		require.Len(t, loaded.Friends, 1)
		require.Equal(t, "zoe", loaded.Friends[0].Username)
	case <-time.After(2 * time.Second):
		t.Fatal("directory event never published")
	}
}
