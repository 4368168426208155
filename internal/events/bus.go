package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bus is the in-process pub/sub fabric between the session core and its
// consumers. Publishing never blocks on slow subscribers; each
// subscription gets its own buffered output channel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus logging through the global zerolog logger.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, NewWatermillLogger(log.Logger)),
	}
}

// Publish serializes ev and delivers it to every subscriber of topic.
func (b *Bus) Publish(topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", ev.Type())
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s event", ev.Type())
	}
	return nil
}

// PublishBlind publishes and logs instead of returning a failure. Used on
// paths where a dropped notification must not fail the operation.
func (b *Bus) PublishBlind(topic string, ev Event) {
	if err := b.Publish(topic, ev); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}

// Subscribe returns a stream of raw messages for topic. The stream closes
// when ctx is cancelled or the bus shuts down. Messages must be Acked.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}
	return ch, nil
}

// Close shuts the bus down and closes all subscription channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
