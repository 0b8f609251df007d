package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional unless explicitly specified.
		if l.configFile != "" {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Inbox.StatePath = expandTilde(cfg.Inbox.StatePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func expandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "opsinbox"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "opsinbox"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPSINBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("database.path", cfg.Database.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("feed.transport", string(cfg.Feed.Transport))
	v.SetDefault("feed.url", cfg.Feed.URL)
	v.SetDefault("feed.channel", cfg.Feed.Channel)
	v.SetDefault("feed.reconnect_interval", cfg.Feed.ReconnectInterval)

	v.SetDefault("carrier.send_url", cfg.Carrier.SendURL)
	v.SetDefault("carrier.webhook_addr", cfg.Carrier.WebhookAddr)

	v.SetDefault("ai.base_url", cfg.AI.BaseURL)
	v.SetDefault("ai.api_key", cfg.AI.APIKey)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.temperature", cfg.AI.Temperature)
	v.SetDefault("ai.max_tokens", cfg.AI.MaxTokens)

	v.SetDefault("storage.upload_url", cfg.Storage.UploadURL)

	v.SetDefault("inbox.request_timeout", cfg.Inbox.RequestTimeout)
	v.SetDefault("inbox.state_path", cfg.Inbox.StatePath)

	v.SetDefault("identity.team_member_id", cfg.Identity.TeamMemberID)
	v.SetDefault("identity.sender_name", cfg.Identity.SenderName)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// bindEnvVars binds environment variables for config keys. Viper's Unmarshal
// misses env vars on nested structs unless they are explicitly bound.
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"database.path",
		"logging.level",
		"logging.format",
		"feed.transport",
		"feed.url",
		"feed.channel",
		"feed.reconnect_interval",
		"carrier.send_url",
		"carrier.webhook_addr",
		"ai.base_url",
		"ai.api_key",
		"ai.model",
		"ai.temperature",
		"ai.max_tokens",
		"storage.upload_url",
		"inbox.request_timeout",
		"inbox.state_path",
		"identity.team_member_id",
		"identity.sender_name",
	}
	for _, key := range keys {
		envVar := "OPSINBOX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}
