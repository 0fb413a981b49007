/*
Package realtime is the presence and messaging core.

This file defines the Hub, the connection lifecycle manager. It owns the shared state
(connection table, identity registry, room index), admits transports, performs joins and
runs the ordered teardown of every connection exactly once.
*/
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pulse/internal/configs"
	"pulse/internal/pkg/errs"
	"pulse/internal/pkg/logx"
	"pulse/internal/pkg/metrics"
	"pulse/internal/pkg/randx"
)

// observerTimeout bounds a single observer call.
const observerTimeout = 5 * time.Second

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	UsersOnline int `json:"usersOnline"`
	Rooms       int `json:"rooms"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithObservers registers session observers.
func WithObservers(observers ...SessionObserver) Option {
	return func(h *Hub) { h.observers = append(h.observers, observers...) }
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub manages every connection of the process.
type Hub struct {
	cfg configs.RealtimeConfig

	conns    *connTable
	registry *Registry
	rooms    *Rooms
	router   *Router
	presence *Presence

	metrics   *metrics.Metrics
	observers []SessionObserver
	notifier  *notifier
	now       func() time.Time

	// mu guards shuttingDown against Serve admitting new connections.
	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup

	logger zerolog.Logger
}

// NewHub builds a hub from the realtime configuration.
func NewHub(cfg configs.RealtimeConfig, opts ...Option) *Hub {
	h := &Hub{
		cfg:      cfg,
		conns:    newConnTable(cfg.StateShards),
		registry: NewRegistry(cfg.StateShards, cfg.SessionPolicy == configs.SessionPolicyReject),
		rooms:    NewRooms(cfg.StateShards),
		now:      time.Now,
		logger:   logx.Component("hub"),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.presence = newPresence(h)
	h.router = newRouter(h)
	h.notifier = newNotifier(h.observers, cfg.ObserverQueueSize, observerTimeout, h.logger)

	return h
}

// Rooms exposes the conversation membership index.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Serve runs one transport until it closes. verifiedID is the identity proven during the
// upgrade, or "" when identity tokens are not enforced. It blocks until both pumps exit.
func (h *Hub) Serve(t Transport, verifiedID string) {
	c, ok := h.accept(t, verifiedID)
	if !ok {
		return
	}
	defer h.wg.Done()

	go c.writePump(h)

	reason := c.readPump(h)
	h.closeConn(c, reason)

	<-c.writerDone
	c.state.Store(int32(StateClosed))

	c.logger.Debug().Str("reason", c.Reason().String()).Msg("Connection finished")
}

func (h *Hub) accept(t Transport, verifiedID string) (*Conn, bool) {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()

		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = t.WriteControl(websocket.CloseMessage, message, time.Now().Add(h.cfg.WriteTimeout))
		_ = t.Close()
		return nil, false
	}

	limiter := rate.NewLimiter(rate.Limit(h.cfg.EventRate), h.cfg.EventBurst)
	c := newConn(t, verifiedID, h.cfg.OutboundQueueSize, limiter, h.logger)

	// Added before unlocking so a concurrent Shutdown's snapshot includes it.
	h.wg.Add(1)
	h.conns.add(c)
	h.metrics.ConnectionOpened()
	h.mu.Unlock()

	c.mu.Lock()
	if c.State() == StateConnecting {
		c.joinTimer = time.AfterFunc(h.cfg.JoinTimeout, func() { h.expireJoin(c) })
	}
	c.mu.Unlock()

	c.logger.Debug().Bool("verified", verifiedID != "").Msg("Connection accepted")

	return c, true
}

// expireJoin closes a connection that never completed its join. No presence is emitted.
func (h *Hub) expireJoin(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateConnecting {
		return
	}

	c.logger.Info().Dur("join_timeout", h.cfg.JoinTimeout).Msg("Join not received in time, closing")
	h.teardownLocked(c, ReasonJoinTimeout)
}

// join binds userID to c, evicting any previous connection of the same identity.
func (h *Hub) join(c *Conn, userID string) *errs.CustomError {
	if !randx.IsValidIdentity(userID) {
		return errs.NewError(errs.ErrMalformedEvent, "invalid user id")
	}

	if c.verifiedID != "" && c.verifiedID != userID {
		c.logger.Warn().Str("announced", userID).Msg("Join identity does not match token")
		return errs.NewError(errs.ErrIdentityMismatch)
	}

	c.mu.Lock()

	switch c.State() {
	case StateOpen:
		current := c.UserID()
		c.mu.Unlock()
		if current == userID {
			return nil
		}
		return errs.NewError(errs.ErrAlreadyJoined)
	case StateConnecting:
	default:
		c.mu.Unlock()
		return nil
	}

	prev, err := h.registry.RegisterFunc(userID, c.id, func(prev string) {
		h.presence.Online(userID, c.id, prev)
	})
	if err != nil {
		c.mu.Unlock()
		c.logger.Info().Str("user_id", userID).Msg("Join refused, identity already connected")
		return errs.NewError(errs.ErrAlreadyConnected)
	}

	at := h.now()
	c.open(userID, at)
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}

	h.deliver(c, onlineUsers(h.registry.Users()))

	c.mu.Unlock()

	h.metrics.SetUsersOnline(h.registry.Len())
	h.notifier.opened(SessionInfo{ConnID: c.id, UserID: userID, OpenedAt: at})

	c.logger.Info().Str("user_id", userID).Bool("replaced", prev != "").Msg("Connection joined")

	if prev != "" {
		if old := h.conns.get(prev); old != nil {
			h.metrics.Evicted()
			old.logger.Info().Str("user_id", userID).Str("replaced_by", c.id).Msg("Session replaced by a new connection")
			h.closeConn(old, ReasonReplaced)
		}
	}

	return nil
}

// closeConn starts closing c. Only the first call for a connection has any effect.
func (h *Hub) closeConn(c *Conn, reason CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h.teardownLocked(c, reason)
}

// teardownLocked runs the ordered cleanup: drop from the connection table, unregister the
// identity if this connection still owns it, purge room memberships, then announce offline
// only if the registry entry was ours and the join had completed.
func (h *Hub) teardownLocked(c *Conn, reason CloseReason) {
	wasOpen, ok := c.beginClose(reason)
	if !ok {
		return
	}

	h.conns.remove(c.id)

	// Rooms are purged and offline announced while the identity's registry shard is locked, so
	// a reconnect of the same identity cannot announce online in between.
	var rooms []string
	userID := c.UserID()
	owned := userID != "" && h.registry.UnregisterFunc(userID, c.id, func() {
		rooms = h.rooms.LeaveAll(c.id)
		if wasOpen {
			h.presence.Offline(userID, c.id)
		}
	})
	if !owned {
		rooms = h.rooms.LeaveAll(c.id)
	}

	h.metrics.ConnectionClosed(reason.String())
	if owned {
		h.metrics.SetUsersOnline(h.registry.Len())
	}

	if wasOpen {
		h.notifier.ended(SessionInfo{
			ConnID:   c.id,
			UserID:   userID,
			OpenedAt: c.OpenedAt(),
			ClosedAt: h.now(),
			Reason:   reason.String(),
		})
	}

	c.logger.Info().
		Str("user_id", userID).
		Str("reason", reason.String()).
		Int("rooms_left", len(rooms)).
		Bool("announced_offline", owned && wasOpen).
		Msg("Connection closing")
}

// deliver encodes ev and queues it on c. An overflowing queue closes the connection.
func (h *Hub) deliver(c *Conn, ev OutboundEvent) bool {
	frame, err := ev.Encode()
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("Failed to encode outbound event")
		return false
	}
	return h.deliverFrame(c, ev.Name, frame)
}

// deliverFrame queues an already encoded frame, so fan-out encodes once.
func (h *Hub) deliverFrame(c *Conn, event string, frame []byte) bool {
	err := c.enqueue(frame)
	if err == nil {
		h.metrics.Delivered(event)
		return true
	}

	if errs.HasCode(err, errs.ErrOverflowBackpressure) {
		h.metrics.Dropped("overflow")
		c.logger.Warn().Str("event", event).Int("queue_len", len(c.send)).Msg("Outbound queue full, closing connection")
		// The caller may hold another connection's lock; close outside it.
		go h.closeConn(c, ReasonOverflow)
		return false
	}

	h.metrics.Dropped("closed")
	return false
}

func (h *Hub) sendError(c *Conn, e *errs.CustomError) {
	h.deliver(c, errorEvent(e.Code, e.Message))
}

// Online reports whether userID has a live joined connection.
func (h *Hub) Online(userID string) bool {
	_, ok := h.lookup(userID)
	return ok
}

// OnlineUsers lists the joined identities.
func (h *Hub) OnlineUsers() []string {
	return h.registry.Users()
}

// Notify delivers a new_notification to userID's connection.
// It reports false when the user is not connected.
func (h *Hub) Notify(userID, kind, message string) bool {
	target, ok := h.lookup(userID)
	if !ok {
		h.metrics.Dropped("target_unreachable")
		return false
	}
	return h.deliver(target, notificationEvent(kind, message, h.now()))
}

// lookup resolves userID to its live connection.
func (h *Hub) lookup(userID string) (*Conn, bool) {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return nil, false
	}

	c := h.conns.get(connID)
	if c == nil || !c.alive() {
		return nil, false
	}
	return c, true
}

// Stats returns current counts.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.conns.len(),
		UsersOnline: h.registry.Len(),
		Rooms:       h.rooms.Len(),
	}
}

// Shutdown stops admitting connections, closes every live one with a going-away frame and
// waits for their teardown and the observer queue to drain, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown = true
	h.mu.Unlock()

	conns := h.conns.snapshot()
	h.logger.Info().Int("connections", len(conns)).Msg("Hub shutting down")

	for _, c := range conns {
		h.closeConn(c, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return h.notifier.stop(ctx)
}

// connTable indexes live connections by id.
type connTable struct {
	shards []*connShard
}

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func newConnTable(shards int) *connTable {
	if shards < 1 {
		shards = 1
	}

	t := &connTable{shards: make([]*connShard, shards)}
	for i := range t.shards {
		t.shards[i] = &connShard{conns: make(map[string]*Conn)}
	}
	return t
}

func (t *connTable) shard(id string) *connShard {
	return t.shards[shardFor(id, len(t.shards))]
}

func (t *connTable) add(c *Conn) {
	s := t.shard(c.id)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (t *connTable) remove(id string) {
	s := t.shard(id)
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (t *connTable) get(id string) *Conn {
	s := t.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

func (t *connTable) snapshot() []*Conn {
	out := make([]*Conn, 0)
	for _, s := range t.shards {
		s.mu.RLock()
		for _, c := range s.conns {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}

func (t *connTable) len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
