// Package transport owns the live message channel for one conversation.
// It wraps a websocket connection in read/write pumps and surfaces
// everything that happens on the wire as a stream of Events.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Nitirit/GigaChat-App/internal/protocol"
)

// ErrClosed is returned by Send after the channel has shut down.
var ErrClosed = errors.New("channel is closed")

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	readLimit   = 65536
	sendBuffer  = 256
	eventBuffer = 64
)

// EventKind discriminates channel events.
type EventKind int

const (
	// EventOpen is emitted once, after the handshake succeeds.
	EventOpen EventKind = iota
	// EventMessage carries one inbound frame.
	EventMessage
	// EventClosed is the terminal event. Err is nil for a deliberate or
	// clean shutdown and non-nil when the connection failed.
	EventClosed
)

// Event is one occurrence on the channel. Frame is set for EventMessage,
// Err may be set for EventClosed.
type Event struct {
	Kind  EventKind
	Frame protocol.InboundFrame
	Err   error
}

// Dialer opens conversation channels. It shares the HTTP cookie jar so
// the websocket handshake carries the session cookie.
type Dialer struct {
	ws *websocket.Dialer
}

// NewDialer creates a Dialer authenticating with cookies from jar.
func NewDialer(jar http.CookieJar) *Dialer {
	return &Dialer{
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
	}
}

// Dial connects to wsURL and starts the pumps. The returned Conn already
// has an EventOpen queued on its event stream.
func (d *Dialer) Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ws, _, err := d.ws.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s", wsURL)
	}

	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	c.events <- Event{Kind: EventOpen}

	go c.writePump()
	go c.readPump()

	log.Debug().Str("url", wsURL).Msg("channel open")
	return c, nil
}

// Conn is one live conversation channel. All methods are safe for
// concurrent use. The event stream ends when the channel closes, for any
// reason; consumers should range over Events until it is drained.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Events returns the channel's event stream. It is closed after the
// terminal EventClosed has been delivered.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Send queues one outbound message frame. Returns ErrClosed once the
// channel has shut down; callers treat that as a dropped send, not a
// failure of the conversation.
func (c *Conn) Send(content string) error {
	data, err := protocol.EncodeOutbound(content)
	if err != nil {
		return pkgerrors.Wrap(err, "encode frame")
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close shuts the channel down. Safe to call any number of times, from
// any goroutine, including after the peer has already hung up.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Closed reports whether Close has been called or the connection died.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) readPump() {
	var closeErr error
	defer func() {
		c.Close()
		c.emit(Event{Kind: EventClosed, Err: closeErr})
		close(c.events)
	}()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.Closed() {
				// Local shutdown; not a wire failure.
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				return
			}
			closeErr = err
			log.Debug().Err(err).Msg("channel read failed")
			return
		}

		c.emit(Event{Kind: EventMessage, Frame: protocol.ParseInbound(data)})
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// emit delivers ev unless the consumer is gone. A full event buffer with
// a closed done channel means nobody is reading anymore; drop the event
// rather than block the pump.
func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
		select {
		case c.events <- ev:
		default:
		}
	}
}
