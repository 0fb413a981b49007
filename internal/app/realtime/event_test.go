package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	f, err := decodeFrame([]byte(`{"event":"typing_start","data":{"conversationId":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTypingStart, f.Event)
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(f.Data))

	_, err = decodeFrame([]byte(`not json`))
	assert.Error(t, err)

	_, err = decodeFrame([]byte(`{"data":"alice"}`))
	assert.ErrorIs(t, err, errMissingEvent)
}

func TestDecodeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "bare string", data: `"alice"`, want: "alice"},
		{name: "object", data: `{"userId":"alice"}`, want: "alice"},
		{name: "object with extra fields", data: `{"userId":"alice","x":1}`, want: "alice"},
		{name: "missing field", data: `{"id":"alice"}`, wantErr: true},
		{name: "wrong type", data: `{"userId":42}`, wantErr: true},
		{name: "number", data: `42`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeIdentifier(json.RawMessage(tt.data), "userId")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutboundEvent_Encode(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("X", 3600))

	raw, err := newMessageEvent(NewMessage{
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "hi",
		ConversationID: "conv-1",
		CreatedAt:      formatTimestamp(at),
	}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"new_message","data":{"sender_id":"alice","receiver_id":"bob","content":"hi","conversation_id":"conv-1","created_at":"2024-03-01T11:30:45.123Z"}}`, string(raw))

	raw, err = userOffline("alice").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user_offline","data":"alice"}`, string(raw))

	raw, err = typingEvent(false, "conv-1", "alice").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user_stop_typing","data":{"conversationId":"conv-1","userId":"alice"}}`, string(raw))
}

func TestCloseReason_CloseFrame(t *testing.T) {
	code, _, ok := ReasonReplaced.closeFrame()
	assert.True(t, ok)
	assert.Equal(t, CloseCodeSessionReplaced, code)

	_, _, ok = ReasonPeerClosed.closeFrame()
	assert.False(t, ok)

	_, _, ok = ReasonTransportFailure.closeFrame()
	assert.False(t, ok)

	assert.Equal(t, "join_timeout", ReasonJoinTimeout.String())
}
