// Package tui is the terminal presentation adapter. It renders the
// conversation session state and forwards user input to the controller;
// all session and ordering logic stays in the client package. The UI
// learns about changes from the events bus, never by mutating core state.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/events"
)

// Run starts the terminal UI and blocks until the user quits or ctx is
// cancelled.
func Run(ctx context.Context, ctrl Controller, bus *events.Bus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan events.Event, 16)
	if err := forward(ctx, bus, events.TopicSession, ch); err != nil {
		return err
	}
	if err := forward(ctx, bus, events.TopicDirectory, ch); err != nil {
		return err
	}

	m := newModel(ctx, ctrl, ch)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// forward decodes bus messages for one topic onto the shared event
// channel. Each message is acked on receipt so a slow render never backs
// the session core up.
func forward(ctx context.Context, bus *events.Bus, topic string, out chan<- events.Event) error {
	msgs, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			ev, err := events.NewEventFromJSON(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
