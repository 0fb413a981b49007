/*
Package realtime is the presence and messaging core.

This file defines the Router, which decodes inbound frames and dispatches them. Frames of one
connection are routed sequentially on its reader goroutine, so per-sender order is preserved.
*/
package realtime

import (
	"github.com/rs/zerolog"

	"pulse/internal/pkg/errs"
	"pulse/internal/pkg/randx"
)

// Router dispatches inbound events of joined connections.
type Router struct {
	hub    *Hub
	logger zerolog.Logger
}

func newRouter(h *Hub) *Router {
	return &Router{hub: h, logger: h.logger.With().Str("subsystem", "router").Logger()}
}

// Route handles one raw inbound frame from c.
func (rt *Router) Route(c *Conn, raw []byte) {
	if !c.alive() {
		return
	}

	h := rt.hub

	if !c.limiter.Allow() {
		h.metrics.Dropped("rate_limited")
		h.sendError(c, errs.NewError(errs.ErrEventRateLimited))
		return
	}

	frame, err := decodeFrame(raw)
	if err != nil {
		h.metrics.Inbound("malformed")
		c.logger.Warn().Err(err).Int("frame_bytes", len(raw)).Msg("Client sent invalid frame")
		h.sendError(c, errs.NewError(errs.ErrMalformedEvent, "invalid frame"))
		return
	}

	if frame.Event == EventJoin {
		h.metrics.Inbound(frame.Event)
		rt.handleJoin(c, frame)
		return
	}

	if !isInbound(frame.Event) {
		h.metrics.Inbound("unknown")
		c.logger.Warn().Str("event", frame.Event).Msg("Client sent unsupported event")
		h.sendError(c, errs.NewError(errs.ErrMalformedEvent, "unknown event"))
		return
	}

	h.metrics.Inbound(frame.Event)

	if c.State() != StateOpen {
		h.sendError(c, errs.NewError(errs.ErrNotJoined))
		return
	}

	switch frame.Event {
	case EventSendMessage:
		rt.handleSendMessage(c, frame)
	case EventTypingStart:
		rt.handleTyping(c, frame, true)
	case EventTypingStop:
		rt.handleTyping(c, frame, false)
	case EventJoinConversation:
		rt.handleJoinConversation(c, frame)
	case EventLeaveConversation:
		rt.handleLeaveConversation(c, frame)
	case EventSendNotification:
		rt.handleSendNotification(c, frame)
	}
}

func isInbound(event string) bool {
	switch event {
	case EventSendMessage, EventTypingStart, EventTypingStop,
		EventJoinConversation, EventLeaveConversation, EventSendNotification:
		return true
	}
	return false
}

func (rt *Router) malformed(c *Conn, event, detail string, err error) {
	c.logger.Warn().Err(err).Str("event", event).Msg("Client sent invalid payload")
	rt.hub.sendError(c, errs.NewError(errs.ErrMalformedEvent, detail))
}

func (rt *Router) handleJoin(c *Conn, frame Frame) {
	userID, err := decodeIdentifier(frame.Data, "userId")
	if err != nil {
		rt.malformed(c, frame.Event, "invalid join", err)
		return
	}

	if joinErr := rt.hub.join(c, userID); joinErr != nil {
		rt.hub.sendError(c, joinErr)
	}
}

func (rt *Router) handleSendMessage(c *Conn, frame Frame) {
	var p SendMessagePayload
	if err := decodeData(frame.Data, &p); err != nil {
		rt.malformed(c, frame.Event, "invalid message", err)
		return
	}

	if !randx.IsValidIdentity(p.ReceiverID) {
		rt.malformed(c, frame.Event, "invalid receiverId", nil)
		return
	}

	if limit := rt.hub.cfg.MaxContentBytes; len(p.Content) > limit {
		rt.hub.sendError(c, errs.NewError(errs.ErrContentTooLong, limit))
		return
	}

	sender := c.UserID()
	if p.ReceiverID == sender {
		return
	}

	target, ok := rt.hub.lookup(p.ReceiverID)
	if !ok {
		rt.unreachable(c, frame.Event, p.ReceiverID)
		return
	}

	rt.hub.deliver(target, newMessageEvent(NewMessage{
		SenderID:       sender,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		ConversationID: p.ConversationID,
		CreatedAt:      formatTimestamp(rt.hub.now()),
	}))
}

// unreachable records a drop for an absent recipient. The sender is not told.
func (rt *Router) unreachable(c *Conn, event, target string) {
	rt.hub.metrics.Dropped("target_unreachable")
	c.logger.Debug().
		Int("code", errs.ErrTargetUnreachable).
		Str("event", event).
		Str("target", target).
		Msg("Recipient not connected, event dropped")
}

func (rt *Router) handleTyping(c *Conn, frame Frame, started bool) {
	var p TypingPayload
	if err := decodeData(frame.Data, &p); err != nil || p.ConversationID == "" {
		rt.malformed(c, frame.Event, "invalid conversationId", err)
		return
	}

	ev := typingEvent(started, p.ConversationID, c.UserID())
	encoded, err := ev.Encode()
	if err != nil {
		rt.logger.Error().Err(err).Str("event", ev.Name).Msg("Failed to encode typing event")
		return
	}

	for _, memberID := range rt.hub.rooms.Members(p.ConversationID) {
		if memberID == c.id {
			continue
		}
		member := rt.hub.conns.get(memberID)
		if member == nil || !member.alive() {
			continue
		}
		rt.hub.deliverFrame(member, ev.Name, encoded)
	}
}

func (rt *Router) handleJoinConversation(c *Conn, frame Frame) {
	conversationID, err := decodeIdentifier(frame.Data, "conversationId")
	if err != nil || conversationID == "" {
		rt.malformed(c, frame.Event, "invalid conversationId", err)
		return
	}

	rt.hub.rooms.Join(conversationID, c.id)

	// Teardown may have purged this connection's rooms while we were joining.
	if !c.alive() {
		rt.hub.rooms.Leave(conversationID, c.id)
		return
	}

	c.logger.Debug().Str("conversation_id", conversationID).Msg("Joined conversation")
}

func (rt *Router) handleLeaveConversation(c *Conn, frame Frame) {
	conversationID, err := decodeIdentifier(frame.Data, "conversationId")
	if err != nil || conversationID == "" {
		rt.malformed(c, frame.Event, "invalid conversationId", err)
		return
	}

	rt.hub.rooms.Leave(conversationID, c.id)
}

func (rt *Router) handleSendNotification(c *Conn, frame Frame) {
	var p SendNotificationPayload
	if err := decodeData(frame.Data, &p); err != nil {
		rt.malformed(c, frame.Event, "invalid notification", err)
		return
	}

	if !randx.IsValidIdentity(p.UserID) || p.Type == "" {
		rt.malformed(c, frame.Event, "invalid notification", nil)
		return
	}

	if limit := rt.hub.cfg.MaxContentBytes; len(p.Message) > limit {
		rt.hub.sendError(c, errs.NewError(errs.ErrContentTooLong, limit))
		return
	}

	target, ok := rt.hub.lookup(p.UserID)
	if !ok {
		rt.unreachable(c, frame.Event, p.UserID)
		return
	}

	rt.hub.deliver(target, notificationEvent(p.Type, p.Message, rt.hub.now()))
}
