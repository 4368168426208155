package client

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// PaletteSize is the number of sender color slots. Slot assignment is a
// pure function of the sender id, so a sender keeps their color across
// sessions and across clients.
const PaletteSize = 6

// ItemKind discriminates timeline entries.
type ItemKind int

const (
	// ItemDayMarker separates messages from different local calendar days.
	ItemDayMarker ItemKind = iota
	// ItemMessage is a rendered chat message.
	ItemMessage
)

// TimelineItem is one renderable row. Day is set for markers, Message
// for messages.
type TimelineItem struct {
	Kind    ItemKind
	Day     time.Time
	Message models.Message
}

// BuildTimeline interleaves day markers into the message sequence. The
// sequence is taken in stored order; a marker is emitted whenever the
// local calendar day changes from the previous message. Messages are
// never reordered here.
func BuildTimeline(msgs []models.Message, loc *time.Location) []TimelineItem {
	if loc == nil {
		loc = time.Local
	}

	items := make([]TimelineItem, 0, len(msgs)+4)
	var prevDay time.Time
	for _, m := range msgs {
		ts := m.CreatedAt.In(loc)
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
		if len(items) == 0 || !day.Equal(prevDay) {
			items = append(items, TimelineItem{Kind: ItemDayMarker, Day: day})
			prevDay = day
		}
		items = append(items, TimelineItem{Kind: ItemMessage, Message: m})
	}
	return items
}

// PaletteSlot maps a sender id onto one of PaletteSize color slots.
func PaletteSlot(id uuid.UUID) int {
	h := fnv.New32a()
	h.Write(id[:])
	return int(h.Sum32() % PaletteSize)
}

// SanitizeContent strips terminal escape sequences and control characters
// from message content before it reaches the screen. Newlines and tabs
// survive; carriage returns do not.
func SanitizeContent(s string) string {
	if !strings.ContainsFunc(s, isUnsafeRune) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == 0x1b {
			i += skipEscape(runes[i+1:])
			continue
		}
		if isControlRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUnsafeRune(r rune) bool {
	return r == 0x1b || isControlRune(r)
}

func isControlRune(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7f
}

// skipEscape returns how many runes after the ESC belong to the escape
// sequence. CSI runs to its final byte, OSC to BEL or ST, anything else
// is a single-character escape.
func skipEscape(rest []rune) int {
	if len(rest) == 0 {
		return 0
	}
	switch rest[0] {
	case '[':
		for i := 1; i < len(rest); i++ {
			if rest[i] >= 0x40 && rest[i] <= 0x7e {
				return i + 1
			}
		}
		return len(rest)
	case ']':
		for i := 1; i < len(rest); i++ {
			if rest[i] == 0x07 {
				return i + 1
			}
			if rest[i] == 0x1b && i+1 < len(rest) && rest[i+1] == '\\' {
				return i + 2
			}
		}
		return len(rest)
	default:
		return 1
	}
}
