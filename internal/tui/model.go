package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/Nitirit/GigaChat-App/client"
	"github.com/Nitirit/GigaChat-App/internal/events"
	"github.com/Nitirit/GigaChat-App/internal/models"
)

// Controller is the UI's view of the session core. *client.Controller
// satisfies it; tests substitute a fake.
type Controller interface {
	Self() uuid.UUID
	Directory() *client.Directory
	OpenConversation(ctx context.Context, friend models.FriendInfo)
	SendMessage(text string) bool
	Reconnect(ctx context.Context) error
	Snapshot() client.Snapshot
	CloseSession()
}

// focusArea is which pane keyboard input goes to.
type focusArea int

const (
	focusFriends focusArea = iota
	focusComposer
)

// eventMsg wraps a bus event for the update loop.
type eventMsg struct {
	ev events.Event
}

type model struct {
	ctx  context.Context
	ctrl Controller
	ch   <-chan events.Event

	friends  []models.FriendInfo
	selected int
	focus    focusArea

	filter   textinput.Model
	composer textinput.Model

	snapshot client.Snapshot
	notice   string

	width  int
	height int
}

func newModel(ctx context.Context, ctrl Controller, ch <-chan events.Event) model {
	filter := textinput.New()
	filter.Placeholder = "filter friends"
	filter.Prompt = "/ "
	filter.CharLimit = 64

	composer := textinput.New()
	composer.Placeholder = "type a message"
	composer.Prompt = "> "
	composer.CharLimit = models.MaxContentLength + 1

	return model{
		ctx:      ctx,
		ctrl:     ctrl,
		ch:       ch,
		filter:   filter,
		composer: composer,
		friends:  ctrl.Directory().Friends(),
		snapshot: ctrl.Snapshot(),
	}
}

// waitEvent blocks on the bus channel and hands the next event to Update.
func (m model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.ch
		if !ok {
			return nil
		}
		return eventMsg{ev: ev}
	}
}

func (m model) Init() tea.Cmd {
	return m.waitEvent()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.apply(msg.ev)
		return m, m.waitEvent()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// apply folds one bus event into the view state. The snapshot is the
// source of truth; events tell the UI when to re-read it.
func (m *model) apply(ev events.Event) {
	switch ev := ev.(type) {
	case *events.EventFriendsLoaded:
		m.friends = ev.Friends
		m.clampSelection()
	case *events.EventNotice:
		m.notice = ev.Text
	case *events.EventStatusChanged:
		m.notice = ev.Detail
		m.snapshot = m.ctrl.Snapshot()
	default:
		m.snapshot = m.ctrl.Snapshot()
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.CloseSession()
		return m, tea.Quit

	case "tab":
		if m.focus == focusFriends {
			m.focus = focusComposer
			m.filter.Blur()
			m.composer.Focus()
		} else {
			m.focus = focusFriends
			m.composer.Blur()
		}
		return m, nil

	case "ctrl+r":
		if err := m.ctrl.Reconnect(m.ctx); err == nil {
			m.notice = ""
		}
		return m, nil
	}

	if m.focus == focusFriends {
		return m.handleFriendsKey(msg)
	}
	return m.handleComposerKey(msg)
}

func (m model) handleFriendsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "ctrl+p":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "down", "ctrl+n":
		if m.selected < len(m.visibleFriends())-1 {
			m.selected++
		}
		return m, nil
	case "enter":
		friends := m.visibleFriends()
		if m.selected < len(friends) {
			m.notice = ""
			m.ctrl.OpenConversation(m.ctx, friends[m.selected])
			m.snapshot = m.ctrl.Snapshot()
			m.focus = focusComposer
			m.filter.Blur()
			m.composer.Focus()
		}
		return m, nil
	case "esc":
		m.filter.SetValue("")
		m.clampSelection()
		return m, nil
	}

	var cmd tea.Cmd
	if !m.filter.Focused() {
		m.filter.Focus()
	}
	m.filter, cmd = m.filter.Update(msg)
	m.clampSelection()
	return m, cmd
}

func (m model) handleComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		// The draft survives a rejected send; only a real send clears it.
		if m.ctrl.SendMessage(m.composer.Value()) {
			m.composer.SetValue("")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m model) visibleFriends() []models.FriendInfo {
	return m.ctrl.Directory().Filter(m.filter.Value())
}

func (m *model) clampSelection() {
	if n := len(m.visibleFriends()); m.selected >= n {
		m.selected = 0
	}
}
