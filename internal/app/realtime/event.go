/*
Package realtime is the presence and messaging core.

This file defines the wire protocol: every frame is a JSON object {"event": ..., "data": ...}.
Inbound event names are client requests, outbound names are server notifications.
*/
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Inbound event names.
const (
	EventJoin              = "join"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendNotification  = "send_notification"
)

// Outbound event names.
const (
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventNewMessage      = "new_message"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventNewNotification = "new_notification"
	EventOnlineUsers     = "online_users"
	EventError           = "error"
)

// timestampLayout renders server timestamps as UTC ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var errMissingEvent = errors.New("missing event name")

// Frame is one decoded inbound frame. Data is decoded per event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// decodeFrame parses a raw inbound frame.
func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, errMissingEvent
	}
	return f, nil
}

// SendMessagePayload is the data of a send_message event.
type SendMessagePayload struct {
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

// TypingPayload is the data of typing_start and typing_stop.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendNotificationPayload is the data of a send_notification event.
type SendNotificationPayload struct {
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeIdentifier reads data that is either a bare JSON string or an object carrying the
// identifier under field, as join and join_conversation accept both forms.
func decodeIdentifier(data json.RawMessage, field string) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", errors.New("missing data")
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", err
	}

	raw, ok := obj[field]
	if !ok {
		return "", errors.New("missing " + field)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// decodeData decodes the data of a structured event into dst.
func decodeData(data json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, dst)
}

// NewMessage is the data of a new_message event.
type NewMessage struct {
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Typing is the data of user_typing and user_stop_typing.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Notification is the data of a new_notification event.
type Notification struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OutboundEvent is a server notification ready to be encoded once and fanned out.
type OutboundEvent struct {
	Name string
	Data any
}

// Encode renders the event as a wire frame.
func (e OutboundEvent) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{e.Name, e.Data})
}

func userOnline(userID string) OutboundEvent {
	return OutboundEvent{Name: EventUserOnline, Data: userID}
}

func userOffline(userID string) OutboundEvent {
	return OutboundEvent{Name: EventUserOffline, Data: userID}
}

func onlineUsers(userIDs []string) OutboundEvent {
	return OutboundEvent{Name: EventOnlineUsers, Data: userIDs}
}

func typingEvent(started bool, conversationID, userID string) OutboundEvent {
	name := EventUserStopTyping
	if started {
		name = EventUserTyping
	}
	return OutboundEvent{Name: name, Data: Typing{ConversationID: conversationID, UserID: userID}}
}

func newMessageEvent(msg NewMessage) OutboundEvent {
	return OutboundEvent{Name: EventNewMessage, Data: msg}
}

func notificationEvent(kind, message string, at time.Time) OutboundEvent {
	return OutboundEvent{
		Name: EventNewNotification,
		Data: Notification{Type: kind, Message: message, CreatedAt: formatTimestamp(at)},
	}
}

func errorEvent(code int, message string) OutboundEvent {
	return OutboundEvent{Name: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
