package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Nitirit/GigaChat-App/client"
)

const friendsPaneWidth = 24

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("6"))

	dayMarkerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Align(lipgloss.Center)

	selfStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))

	statusStyles = map[client.StatusKind]lipgloss.Style{
		client.StatusOpen:         lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		client.StatusLoading:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		client.StatusReconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		client.StatusDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		client.StatusError:        lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}

	// One style per palette slot; client.PaletteSlot picks the index.
	senderStyles = [client.PaletteSize]lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

func (m model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	contentHeight := m.height - 4
	if contentHeight < 3 {
		contentHeight = 3
	}
	timelineWidth := m.width - friendsPaneWidth - 6
	if timelineWidth < 20 {
		timelineWidth = 20
	}

	friends := paneStyle.Width(friendsPaneWidth).Height(contentHeight).
		Render(m.renderFriends(contentHeight))
	timeline := paneStyle.Width(timelineWidth).Height(contentHeight).
		Render(m.renderTimeline(timelineWidth, contentHeight))

	body := lipgloss.JoinHorizontal(lipgloss.Top, friends, timeline)
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatus(), m.composer.View())
}

func (m model) renderFriends(height int) string {
	var b strings.Builder
	b.WriteString(m.filter.View())
	b.WriteString("\n")

	friends := m.visibleFriends()
	if len(friends) == 0 {
		b.WriteString("no friends found")
		return b.String()
	}
	for i, f := range friends {
		if i >= height-2 {
			break
		}
		line := f.Name()
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderTimeline(width, height int) string {
	if !m.snapshot.Active {
		return "Select a friend to start chatting."
	}

	items := client.BuildTimeline(m.snapshot.Messages, time.Local)
	lines := make([]string, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case client.ItemDayMarker:
			lines = append(lines, dayMarkerStyle.Width(width).Render(item.Day.Format("Monday, January 2, 2006")))
		case client.ItemMessage:
			lines = append(lines, m.renderMessage(item, width)...)
		}
	}

	// Keep the tail on screen; older lines scroll away.
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(lines, "\n")
}

func (m model) renderMessage(item client.TimelineItem, width int) []string {
	msg := item.Message

	var name string
	if msg.SentBy(m.ctrl.Self()) {
		name = selfStyle.Render("You")
	} else {
		style := senderStyles[client.PaletteSlot(msg.SenderID)]
		name = style.Render(m.ctrl.Directory().DisplayName(msg.SenderID))
	}

	header := fmt.Sprintf("%s %s", name, timestampStyle.Render(msg.CreatedAt.Local().Format("15:04")))
	body := lipgloss.NewStyle().Width(width).Render(client.SanitizeContent(msg.Content))
	return append([]string{header}, strings.Split(body, "\n")...)
}

func (m model) renderStatus() string {
	st := m.snapshot.Status
	style, ok := statusStyles[st.Kind]
	if !ok {
		style = lipgloss.NewStyle()
	}

	var parts []string
	if m.snapshot.Active {
		parts = append(parts, m.snapshot.Friend.Name())
	}
	parts = append(parts, style.Render(st.String()))
	switch st.Kind {
	case client.StatusDisconnected:
		parts = append(parts, noticeStyle.Render("delivery not guaranteed; ctrl+r to reconnect"))
	case client.StatusError:
		parts = append(parts, noticeStyle.Render("select the friend again to retry"))
	}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	return strings.Join(parts, "  ")
}
