package client

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/Nitirit/GigaChat-App/internal/models"
)

// Composer gate failures. All of them block the send locally without
// touching session state; none are surfaced as session errors.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrRateLimited    = errors.New("sending too fast")
)

// Composer validates outbound input before it is handed to the channel.
type Composer struct {
	limiter *rate.Limiter
}

// NewComposer returns a composer allowing one message per second with a
// burst of five.
func NewComposer() *Composer {
	return NewComposerWithLimiter(rate.NewLimiter(rate.Every(time.Second), 5))
}

// NewComposerWithLimiter returns a composer using the given limiter.
func NewComposerWithLimiter(limiter *rate.Limiter) *Composer {
	return &Composer{limiter: limiter}
}

// Prepare trims the input and applies the outbound gate: empty input,
// content over models.MaxContentLength runes, and rate-limited sends are
// all rejected. The rate token is only consumed by otherwise-valid input.
func (c *Composer) Prepare(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > models.MaxContentLength {
		return "", ErrMessageTooLong
	}
	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}
	return trimmed, nil
}
