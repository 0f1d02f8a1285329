package chatsync

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "CHATSYNC_"

// Config controls how the SDK connects and paces itself.
type Config struct {
	APIBaseURL string `koanf:"api_base_url"` // historical API, e.g. https://host/api
	WSBaseURL  string `koanf:"ws_base_url"`  // live channel, e.g. wss://host/ws
	Token      string `koanf:"token"`        // bearer token, also the channel credential
	UserID     int64  `koanf:"user_id"`      // current user, used for auto mark-seen

	PageSize             int           `koanf:"page_size"`
	HeartbeatInterval    time.Duration `koanf:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `koanf:"reconnect_max_delay"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	TypingSilence        time.Duration `koanf:"typing_silence"`
	TypingExpiry         time.Duration `koanf:"typing_expiry"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	HTTPTimeout      time.Duration `koanf:"http_timeout"`

	AutoMarkSeen bool `koanf:"auto_mark_seen"`
}

// DefaultConfig returns the protocol constants and sensible timeouts.
// URLs and token are left empty.
func DefaultConfig() Config {
	return Config{
		PageSize:             10,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		TypingSilence:        2 * time.Second,
		TypingExpiry:         3 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		HTTPTimeout:          30 * time.Second,
		AutoMarkSeen:         true,
	}
}

// LoadConfig builds a Config from defaults, an optional .env file and
// CHATSYNC_* environment variables, in that order of precedence.
// A missing envFile is not an error.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, WrapError(ErrorInvalidConfig, "load env file", err)
		}
	}

	k := koanf.New(".")

	def := DefaultConfig()
	_ = k.Load(confmap.Provider(map[string]interface{}{
		"page_size":              def.PageSize,
		"heartbeat_interval":     def.HeartbeatInterval,
		"reconnect_base_delay":   def.ReconnectBaseDelay,
		"reconnect_max_delay":    def.ReconnectMaxDelay,
		"max_reconnect_attempts": def.MaxReconnectAttempts,
		"typing_silence":         def.TypingSilence,
		"typing_expiry":          def.TypingExpiry,
		"handshake_timeout":      def.HandshakeTimeout,
		"write_timeout":          def.WriteTimeout,
		"http_timeout":           def.HTTPTimeout,
		"auto_mark_seen":         def.AutoMarkSeen,
	}, "."), nil)

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "load environment", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "unmarshal config", err)
	}
	return cfg, nil
}

// Validate checks that URLs parse and the pacing constants are usable.
func (c Config) Validate() error {
	if c.WSBaseURL == "" {
		return NewError(ErrorInvalidConfig, "empty live channel URL")
	}
	if _, err := url.Parse(c.WSBaseURL); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid live channel URL", err)
	}
	if c.APIBaseURL == "" {
		return NewError(ErrorInvalidConfig, "empty API base URL")
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid API base URL", err)
	}
	switch {
	case c.PageSize <= 0:
		return NewError(ErrorInvalidConfig, fmt.Sprintf("page size must be positive, got %d", c.PageSize))
	case c.HeartbeatInterval <= 0:
		return NewError(ErrorInvalidConfig, "heartbeat interval must be positive")
	case c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay:
		return NewError(ErrorInvalidConfig, "reconnect delays must satisfy 0 < base <= cap")
	case c.MaxReconnectAttempts < 0:
		return NewError(ErrorInvalidConfig, "max reconnect attempts must not be negative")
	case c.TypingSilence <= 0 || c.TypingExpiry <= 0:
		return NewError(ErrorInvalidConfig, "typing timers must be positive")
	case c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 || c.HTTPTimeout <= 0:
		return NewError(ErrorInvalidConfig, "handshake, write and HTTP timeouts must be positive")
	}
	return nil
}
