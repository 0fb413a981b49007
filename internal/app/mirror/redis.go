// Package mirror publishes presence to Redis so other services can read who is online
// without talking to this process.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pulse/internal/app/realtime"
	"pulse/internal/pkg/logx"
)

const (
	// OnlineKey is the hash of user id to connection id for joined users.
	OnlineKey = "presence:online"

	// EventsChannel carries user_online and user_offline transitions.
	EventsChannel = "presence:events"
)

// compareAndDelete removes the hash field only while it still names the closing connection,
// so a replaced session cannot erase its successor.
var compareAndDelete = redis.NewScript(`
	if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
		return redis.call('HDEL', KEYS[1], ARGV[1])
	end
	return 0
`)

// Event is the payload published on EventsChannel.
type Event struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

// RedisMirror mirrors joined sessions into Redis. It is a realtime.SessionObserver.
type RedisMirror struct {
	client *redis.Client
	logger zerolog.Logger
}

var _ realtime.SessionObserver = (*RedisMirror)(nil)

// NewRedisMirror returns a mirror writing through client.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, logger: logx.Component("presence_mirror")}
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// SessionOpened records the user as online and announces it.
func (m *RedisMirror) SessionOpened(ctx context.Context, s realtime.SessionInfo) error {
	if err := m.client.HSet(ctx, OnlineKey, s.UserID, s.ConnID).Err(); err != nil {
		return fmt.Errorf("failed to mirror session %s: %w", s.ConnID, err)
	}
	return m.publish(ctx, realtime.EventUserOnline, s)
}

// SessionClosed removes the user if this session still owns the entry and announces it.
// A session that was already replaced changes nothing.
func (m *RedisMirror) SessionClosed(ctx context.Context, s realtime.SessionInfo) error {
	removed, err := compareAndDelete.Run(ctx, m.client, []string{OnlineKey}, s.UserID, s.ConnID).Int()
	if err != nil {
		return fmt.Errorf("failed to remove mirrored session %s: %w", s.ConnID, err)
	}

	if removed == 0 {
		m.logger.Debug().Str("user_id", s.UserID).Str("conn_id", s.ConnID).Msg("Mirrored session already superseded")
		return nil
	}
	return m.publish(ctx, realtime.EventUserOffline, s)
}

// Online returns the mirrored user to connection map.
func (m *RedisMirror) Online(ctx context.Context) (map[string]string, error) {
	return m.client.HGetAll(ctx, OnlineKey).Result()
}

func (m *RedisMirror) publish(ctx context.Context, event string, s realtime.SessionInfo) error {
	payload, err := json.Marshal(Event{Event: event, UserID: s.UserID, ConnID: s.ConnID})
	if err != nil {
		return err
	}

	if err := m.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", event, s.UserID, err)
	}
	return nil
}
