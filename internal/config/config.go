// Package config handles opsinbox configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for opsinbox.
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Feed settings for the realtime change feed.
	Feed FeedConfig `yaml:"feed" mapstructure:"feed"`

	// Carrier settings for the outbound send proxy and inbound webhook.
	Carrier CarrierConfig `yaml:"carrier" mapstructure:"carrier"`

	// AI settings for the note extraction endpoint.
	AI AIConfig `yaml:"ai" mapstructure:"ai"`

	// Storage settings for attachment uploads.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Inbox settings for the sync engine.
	Inbox InboxConfig `yaml:"inbox" mapstructure:"inbox"`

	// Identity is the team member the session sends as.
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// FeedTransport selects how change events arrive.
type FeedTransport string

const (
	FeedTransportWebsocket FeedTransport = "websocket"
	FeedTransportRedis     FeedTransport = "redis"
)

// FeedConfig contains realtime change-feed settings.
type FeedConfig struct {
	// Transport is "websocket" or "redis".
	Transport FeedTransport `yaml:"transport" mapstructure:"transport"`

	// URL is the websocket endpoint or redis address.
	URL string `yaml:"url" mapstructure:"url"`

	// Channel is the redis pub/sub channel name.
	Channel string `yaml:"channel" mapstructure:"channel"`

	// ReconnectInterval is the base delay between reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// CarrierConfig contains messaging carrier settings.
type CarrierConfig struct {
	// SendURL is the outbound send-proxy endpoint.
	SendURL string `yaml:"send_url" mapstructure:"send_url"`

	// WebhookAddr is the listen address for the inbound webhook server.
	WebhookAddr string `yaml:"webhook_addr" mapstructure:"webhook_addr"`
}

// AIConfig contains completion endpoint settings.
type AIConfig struct {
	// BaseURL is the chat-completions endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// APIKey is the bearer token, usually set via OPSINBOX_AI_API_KEY.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Model is the completion model name.
	Model string `yaml:"model" mapstructure:"model"`

	// Temperature for completions.
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`

	// MaxTokens caps the completion length.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// StorageConfig contains object storage settings.
type StorageConfig struct {
	// UploadURL is the upload endpoint that returns a public URL per file.
	UploadURL string `yaml:"upload_url" mapstructure:"upload_url"`
}

// InboxConfig contains sync engine settings.
type InboxConfig struct {
	// RequestTimeout bounds each backend call made by the stores.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	// StatePath is where local preferences and drafts are persisted.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// IdentityConfig identifies the sending team member.
type IdentityConfig struct {
	TeamMemberID int64  `yaml:"team_member_id" mapstructure:"team_member_id"`
	SenderName   string `yaml:"sender_name" mapstructure:"sender_name"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "opsinbox")

	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "opsinbox.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Feed: FeedConfig{
			Transport:         FeedTransportWebsocket,
			Channel:           "opsinbox:changes",
			ReconnectInterval: 2 * time.Second,
		},
		Carrier: CarrierConfig{
			WebhookAddr: ":8787",
		},
		AI: AIConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   512,
		},
		Inbox: InboxConfig{
			RequestTimeout: 15 * time.Second,
			StatePath:      filepath.Join(dataDir, "state.json"),
		},
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Feed.Transport {
	case FeedTransportWebsocket, FeedTransportRedis:
	default:
		return fmt.Errorf("feed.transport must be %q or %q", FeedTransportWebsocket, FeedTransportRedis)
	}
	if c.Feed.Transport == FeedTransportRedis && c.Feed.Channel == "" {
		return fmt.Errorf("feed.channel is required for redis transport")
	}
	if c.Inbox.RequestTimeout <= 0 {
		return fmt.Errorf("inbox.request_timeout must be positive")
	}
	return nil
}
