/*
Package configs loads the server configuration.

Values come from environment variables (ENVIRONMENT, PORT, ALLOWED_ORIGINS, ...) and,
optionally, from a YAML file named by CONFIG_FILE whose keys use the same names in lower case.
Environment variables win over the file, and the file wins over built-in defaults.
*/
package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session policies for a second join of an already connected identity.
const (
	SessionPolicyReplace = "replace"
	SessionPolicyReject  = "reject"
)

// frameOverhead is the room left in a frame for the event envelope and the non-content fields.
// JSON escaping can grow content to six times its decoded size ("<" becomes "\u003c").
const frameOverhead = 1024

// MinFrameBytes is the smallest frame limit that still fits maxContent bytes of escaped content.
func MinFrameBytes(maxContent int) int64 {
	return int64(6*maxContent + frameOverhead)
}

// AppConfig contains every configuration parameter of the server.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string
	UpgradeRate    float64
	UpgradeBurst   int
	NotifyRate     float64
	NotifyBurst    int

	// Realtime Settings
	Realtime RealtimeConfig

	// Optional collaborators; empty disables them.
	DatabaseDSN string
	RedisURL    string
}

// RealtimeConfig holds the connection and routing knobs of the realtime core.
type RealtimeConfig struct {
	SessionPolicy     string
	OutboundQueueSize int
	JoinTimeout       time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxFrameBytes     int64
	MaxContentBytes   int
	StateShards       int
	EventRate         float64
	EventBurst        int
	ObserverQueueSize int
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("upgrade_rate", 1.0)
	v.SetDefault("upgrade_burst", 10)
	v.SetDefault("notify_rate", 50.0)
	v.SetDefault("notify_burst", 100)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("session_policy", SessionPolicyReplace)
	v.SetDefault("outbound_queue_size", 256)
	v.SetDefault("join_timeout", "10s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("max_frame_bytes", 32768)
	v.SetDefault("max_content_bytes", 5000)
	v.SetDefault("state_shards", 32)
	v.SetDefault("event_rate", 20.0)
	v.SetDefault("event_burst", 40)
	v.SetDefault("observer_queue_size", 1024)
}

// LoadConfig reads, converts and validates the configuration.
func LoadConfig() (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &AppConfig{
		Environment:    v.GetString("environment"),
		Port:           v.GetInt("port"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		JWTSecret:      v.GetString("jwt_secret"),
		UpgradeRate:    v.GetFloat64("upgrade_rate"),
		UpgradeBurst:   v.GetInt("upgrade_burst"),
		NotifyRate:     v.GetFloat64("notify_rate"),
		NotifyBurst:    v.GetInt("notify_burst"),
		DatabaseDSN:    v.GetString("database_url"),
		RedisURL:       v.GetString("redis_url"),
		Realtime: RealtimeConfig{
			SessionPolicy:     strings.ToLower(v.GetString("session_policy")),
			OutboundQueueSize: v.GetInt("outbound_queue_size"),
			JoinTimeout:       v.GetDuration("join_timeout"),
			IdleTimeout:       v.GetDuration("idle_timeout"),
			WriteTimeout:      v.GetDuration("write_timeout"),
			MaxFrameBytes:     v.GetInt64("max_frame_bytes"),
			MaxContentBytes:   v.GetInt("max_content_bytes"),
			StateShards:       v.GetInt("state_shards"),
			EventRate:         v.GetFloat64("event_rate"),
			EventBurst:        v.GetInt("event_burst"),
			ObserverQueueSize: v.GetInt("observer_queue_size"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	if !c.IsDevelopment() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", c.Environment)
	}

	if c.UpgradeRate <= 0 || c.UpgradeBurst <= 0 {
		return errors.New("UPGRADE_RATE and UPGRADE_BURST must be positive")
	}

	if c.NotifyRate <= 0 || c.NotifyBurst <= 0 {
		return errors.New("NOTIFY_RATE and NOTIFY_BURST must be positive")
	}

	rt := c.Realtime
	switch rt.SessionPolicy {
	case SessionPolicyReplace, SessionPolicyReject:
	default:
		return fmt.Errorf("invalid SESSION_POLICY %q (want %q or %q)", rt.SessionPolicy, SessionPolicyReplace, SessionPolicyReject)
	}

	if rt.OutboundQueueSize <= 0 || rt.StateShards <= 0 || rt.ObserverQueueSize <= 0 {
		return errors.New("OUTBOUND_QUEUE_SIZE, STATE_SHARDS and OBSERVER_QUEUE_SIZE must be positive")
	}

	if rt.JoinTimeout <= 0 || rt.IdleTimeout <= 0 || rt.WriteTimeout <= 0 {
		return errors.New("JOIN_TIMEOUT, IDLE_TIMEOUT and WRITE_TIMEOUT must be positive durations")
	}

	if rt.MaxFrameBytes <= 0 || rt.MaxContentBytes <= 0 {
		return errors.New("MAX_FRAME_BYTES and MAX_CONTENT_BYTES must be positive")
	}

	if minFrame := MinFrameBytes(rt.MaxContentBytes); rt.MaxFrameBytes < minFrame {
		return fmt.Errorf("MAX_FRAME_BYTES must be at least %d to carry MAX_CONTENT_BYTES=%d of escaped content", minFrame, rt.MaxContentBytes)
	}

	if rt.EventRate <= 0 || rt.EventBurst <= 0 {
		return errors.New("EVENT_RATE and EVENT_BURST must be positive")
	}

	return nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
