package mirror

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/app/realtime"
)

func newTestMirror(t *testing.T) (*RedisMirror, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisMirror(client), client
}

func receive(t *testing.T, sub *redis.PubSub) Event {
	t.Helper()

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event published")
		return Event{}
	}
}

func TestRedisMirror_OpenAndClose(t *testing.T) {
	m, client := newTestMirror(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, EventsChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	s := realtime.SessionInfo{ConnID: "c1", UserID: "alice"}
	require.NoError(t, m.SessionOpened(ctx, s))

	online, err := m.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "c1"}, online)
	assert.Equal(t, Event{Event: realtime.EventUserOnline, UserID: "alice", ConnID: "c1"}, receive(t, sub))

	require.NoError(t, m.SessionClosed(ctx, s))

	online, err = m.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.Equal(t, Event{Event: realtime.EventUserOffline, UserID: "alice", ConnID: "c1"}, receive(t, sub))
}

func TestRedisMirror_ReplacedSessionKeepsSuccessor(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.SessionOpened(ctx, realtime.SessionInfo{ConnID: "c1", UserID: "alice"}))
	require.NoError(t, m.SessionOpened(ctx, realtime.SessionInfo{ConnID: "c2", UserID: "alice"}))

	require.NoError(t, m.SessionClosed(ctx, realtime.SessionInfo{ConnID: "c1", UserID: "alice"}))

	online, err := m.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "c2"}, online)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-url")
	assert.ErrorContains(t, err, "failed to parse redis URL")
}
