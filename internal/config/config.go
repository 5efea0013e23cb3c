package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values like "10s" decode.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the global ~/.zylo/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the WebSocket endpoint of the chat broker.
	ServerURL string `toml:"server_url"`
	// RestBaseURL is the base URL for history/roster REST calls.
	RestBaseURL string `toml:"rest_base_url"`

	// ConnectTimeout bounds the signaling handshake. The broker gives
	// no bound of its own, so the client enforces one.
	ConnectTimeout Duration `toml:"connect_timeout"`
	// ReconnectDelay is the fixed delay between reconnect attempts
	// after an unexpected closure.
	ReconnectDelay Duration `toml:"reconnect_delay"`
	// Heartbeat is the STOMP heart-beat interval, both directions.
	Heartbeat Duration `toml:"heartbeat"`

	// CacheConversations bounds the keyed per-conversation message
	// cache. 0 falls back to the default.
	CacheConversations int `toml:"cache_conversations"`

	// STUNServers used for call negotiation.
	STUNServers []string `toml:"stun_servers"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		DefaultSession:     "main",
		ServerURL:          "ws://localhost:8080/ws",
		RestBaseURL:        "http://localhost:8080",
		ConnectTimeout:     Duration{10 * time.Second},
		ReconnectDelay:     Duration{10 * time.Second},
		Heartbeat:          Duration{4 * time.Second},
		CacheConversations: 8,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

// Load reads config from the given path, applying defaults for any
// field the file leaves unset. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.CacheConversations <= 0 {
		cfg.CacheConversations = 8
	}
	if cfg.ConnectTimeout.Duration <= 0 {
		cfg.ConnectTimeout = Duration{10 * time.Second}
	}
	if cfg.ReconnectDelay.Duration <= 0 {
		cfg.ReconnectDelay = Duration{10 * time.Second}
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
