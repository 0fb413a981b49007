/*
Package realtime is the presence and messaging core.

This file defines Conn, one accepted transport connection. A Conn moves through
Connecting, Open, Closing and Closed exactly once in that order. Its outbound queue is bounded
and never closed; the done channel signals the writer to finish instead.
*/
package realtime

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pulse/internal/pkg/errs"
	"pulse/internal/pkg/randx"
)

// Transport is the message-oriented duplex channel under a Conn. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errConnClosed = errors.New("connection is closing")

// Conn is one accepted connection and its bound identity.
type Conn struct {
	id        string
	transport Transport

	// verifiedID is the identity proven by the upgrade token, "" when tokens are disabled.
	verifiedID string

	// mu serializes join against teardown.
	mu sync.Mutex

	userID   atomic.Pointer[string]
	state    atomic.Int32
	reason   atomic.Int32
	openedAt atomic.Int64

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}

	joinTimer *time.Timer
	limiter   *rate.Limiter

	logger zerolog.Logger
}

func newConn(t Transport, verifiedID string, queueSize int, limiter *rate.Limiter, logger zerolog.Logger) *Conn {
	id := randx.ConnectionID()

	return &Conn{
		id:         id,
		transport:  t,
		verifiedID: verifiedID,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		limiter:    limiter,
		logger:     logger.With().Str("conn_id", id).Logger(),
	}
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the joined identity, or "" before join.
func (c *Conn) UserID() string {
	if p := c.userID.Load(); p != nil {
		return *p
	}
	return ""
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Reason returns why the connection began closing.
func (c *Conn) Reason() CloseReason { return CloseReason(c.reason.Load()) }

// OpenedAt returns the time the join completed.
func (c *Conn) OpenedAt() time.Time {
	if ns := c.openedAt.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// alive reports whether the connection may still receive and route events.
func (c *Conn) alive() bool {
	s := c.State()
	return s == StateConnecting || s == StateOpen
}

// open binds the identity and moves Connecting to Open. Called with mu held.
func (c *Conn) open(userID string, at time.Time) bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return false
	}
	c.userID.Store(&userID)
	c.openedAt.Store(at.UnixNano())
	return true
}

// beginClose moves a live connection to Closing and signals the writer.
// Only the first caller wins; wasOpen reports whether the join had completed.
func (c *Conn) beginClose(reason CloseReason) (wasOpen, ok bool) {
	for {
		s := c.State()
		if s != StateConnecting && s != StateOpen {
			return false, false
		}
		if c.state.CompareAndSwap(int32(s), int32(StateClosing)) {
			c.reason.Store(int32(reason))
			close(c.done)
			if c.joinTimer != nil {
				c.joinTimer.Stop()
			}
			return s == StateOpen, true
		}
	}
}

// enqueue queues a frame without blocking.
// A full queue yields ErrOverflowBackpressure; the caller closes the connection.
func (c *Conn) enqueue(frame []byte) error {
	if !c.alive() {
		return errConnClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return errs.NewError(errs.ErrOverflowBackpressure)
	}
}

// readPump reads frames until the transport fails and returns why it stopped.
// Every frame, pong included, extends the idle deadline.
func (c *Conn) readPump(h *Hub) CloseReason {
	idle := h.cfg.IdleTimeout

	// A frame over the limit fails the read and closes the connection as a transport failure.
	c.transport.SetReadLimit(h.cfg.MaxFrameBytes)

	if err := c.transport.SetReadDeadline(time.Now().Add(idle)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return ReasonTransportFailure
	}

	c.transport.SetPongHandler(func(string) error {
		return c.transport.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, message, err := c.transport.ReadMessage()
		if err != nil {
			return c.classifyReadError(err)
		}

		if err := c.transport.SetReadDeadline(time.Now().Add(idle)); err != nil {
			c.logger.Error().Err(err).Msg("Failed to extend read deadline")
			return ReasonTransportFailure
		}

		h.router.Route(c, message)
	}
}

func (c *Conn) classifyReadError(err error) CloseReason {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && c.alive() {
			c.logger.Info().Err(err).Msg("Peer closed with unexpected code")
		}
		return ReasonPeerClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonIdleTimeout
	}

	if c.alive() {
		c.logger.Debug().Err(err).Msg("Read failed")
	}
	return ReasonTransportFailure
}

// writePump drains the outbound queue and keeps the heartbeat going until the connection
// begins closing or a write fails. It owns closing the transport.
func (c *Conn) writePump(h *Hub) {
	ticker := time.NewTicker(h.cfg.IdleTimeout * 9 / 10)

	defer func() {
		ticker.Stop()

		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Transport close error")
		}
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(h, websocket.TextMessage, message) {
				h.closeConn(c, ReasonTransportFailure)
				return
			}

		case <-ticker.C:
			if !c.write(h, websocket.PingMessage, nil) {
				h.closeConn(c, ReasonTransportFailure)
				return
			}

		case <-c.done:
			c.writeCloseFrame(h)
			return
		}
	}
}

func (c *Conn) write(h *Hub, messageType int, data []byte) bool {
	if err := c.transport.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.transport.WriteMessage(messageType, data); err != nil {
		if c.alive() {
			c.logger.Warn().Err(err).Int("message_type", messageType).Msg("Error writing message")
		}
		return false
	}

	return true
}

func (c *Conn) writeCloseFrame(h *Hub) {
	code, text, ok := c.Reason().closeFrame()
	if !ok {
		return
	}

	message := websocket.FormatCloseMessage(code, text)
	if err := c.transport.WriteControl(websocket.CloseMessage, message, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		c.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close frame")
	}
}
