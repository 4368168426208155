package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestNewEventFromJSON_RoundTrip(t *testing.T) {
	conversationID := uuid.New()

	ev := NewMessageAppendedEvent(conversationID, models.Message{
		SenderID:  uuid.New(),
		Content:   "hello",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, false)

	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicSession)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(TopicSession, ev))

	select {
	case msg := <-msgs:
		decoded, err := NewEventFromJSON(msg.Payload)
		require.NoError(t, err)
		msg.Ack()

		appended, ok := decoded.(*EventMessageAppended)
		require.True(t, ok)
		require.Equal(t, conversationID, appended.ConversationID)
		require.Equal(t, "hello", appended.Message.Content)
		require.False(t, appended.Mine)
		require.Equal(t, EventTypeMessageAppended, appended.Type())
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestNewEventFromJSON_UnknownType(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"type":"mystery"}`))
	require.Error(t, err)
}

func TestNewEventFromJSON_StatusChanged(t *testing.T) {
	conversationID := uuid.New()
	ev := NewStatusChangedEvent(conversationID, "reconnecting", "connection reset")

	decoded, err := NewEventFromJSON(mustJSON(t, ev))
	require.NoError(t, err)

	status, ok := decoded.(*EventStatusChanged)
	require.True(t, ok)
	require.Equal(t, "reconnecting", status.Status)
	require.Equal(t, "connection reset", status.Detail)
	require.Equal(t, conversationID, status.ConversationID)
	require.NotEmpty(t, status.Payload())
}
