package rephi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rephi/rephi-go/realtime"
)

// Config is the SDK configuration. Instances are set up once and
// treated as immutable after [Builder.Build].
type Config struct {
	API     APIConfig
	Socket  SocketConfig
	Session SessionConfig
}

// APIConfig addresses the REST surface.
type APIConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:4000/api".
	BaseURL string
	Timeout time.Duration
}

// SocketConfig addresses the websocket endpoint and tunes the
// reconnect behavior.
type SocketConfig struct {
	// URL is the socket endpoint, e.g.
	// "ws://localhost:4000/socket/websocket". The token and protocol
	// version are appended at dial time.
	URL               string
	Reconnect         realtime.Table
	Rejoin            realtime.Table
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	// Path is the bolt database file holding the session snapshot.
	// Empty means in-memory only: the session does not survive a
	// process restart.
	Path string
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:4000/api",
			Timeout: 15 * time.Second,
		},
		Socket: SocketConfig{
			URL:               "ws://localhost:4000/socket/websocket",
			Reconnect:         realtime.DefaultReconnect,
			Rejoin:            realtime.DefaultRejoin,
			HeartbeatInterval: 30 * time.Second,
			JoinTimeout:       10 * time.Second,
		},
	}
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	def := defaultConfig()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.Socket.URL == "" {
		c.Socket.URL = def.Socket.URL
	}
	if len(c.Socket.Reconnect) == 0 {
		c.Socket.Reconnect = def.Socket.Reconnect
	}
	if len(c.Socket.Rejoin) == 0 {
		c.Socket.Rejoin = def.Socket.Rejoin
	}
	if c.Socket.HeartbeatInterval <= 0 {
		c.Socket.HeartbeatInterval = def.Socket.HeartbeatInterval
	}
	if c.Socket.JoinTimeout <= 0 {
		c.Socket.JoinTimeout = def.Socket.JoinTimeout
	}
}

// Validate rejects configurations Build cannot work with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return errors.New("API.BaseURL must be an http(s) URL")
	}
	if !strings.HasPrefix(c.Socket.URL, "ws://") && !strings.HasPrefix(c.Socket.URL, "wss://") {
		return errors.New("Socket.URL must be a ws(s) URL")
	}
	return nil
}

func (c *Config) socketConfig(logger *slog.Logger) realtime.Config {
	return realtime.Config{
		URL:               c.Socket.URL,
		Reconnect:         c.Socket.Reconnect,
		Rejoin:            c.Socket.Rejoin,
		HeartbeatInterval: c.Socket.HeartbeatInterval,
		JoinTimeout:       c.Socket.JoinTimeout,
		Logger:            logger,
	}
}

func (c *Config) httpClient() *http.Client {
	return &http.Client{Timeout: c.API.Timeout}
}
