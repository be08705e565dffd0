package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the mercure client configuration loaded from mercure.yml.
type Config struct {
	Version  string         `yaml:"version,omitempty" toml:"version,omitempty"`
	API      APIConfig      `yaml:"api,omitempty" toml:"api,omitempty"`
	Realtime RealtimeConfig `yaml:"realtime,omitempty" toml:"realtime,omitempty"`
	Avatar   AvatarConfig   `yaml:"avatar,omitempty" toml:"avatar,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty" toml:"session,omitempty"`

	// Extensions captures all other top-level keys (such as logging) for
	// consumers that decode them with UnmarshalExtension.
	Extensions map[string]interface{} `yaml:",inline" toml:"-"`
}

// APIConfig locates the HTTP backend.
type APIConfig struct {
	BaseURL       string `yaml:"base_url,omitempty" toml:"base_url,omitempty" validate:"required,url" jsonschema:"description=Backend origin (e.g. https://api.astracode.dev)"`
	AccountsPath  string `yaml:"accounts_path,omitempty" toml:"accounts_path,omitempty" validate:"omitempty,startswith=/" jsonschema:"description=Path of the accounts namespace"`
	MessagingPath string `yaml:"messaging_path,omitempty" toml:"messaging_path,omitempty" validate:"omitempty,startswith=/" jsonschema:"description=Path of the messaging namespace"`
	ProfilePath   string `yaml:"profile_path,omitempty" toml:"profile_path,omitempty" validate:"omitempty,startswith=/" jsonschema:"description=Path of the profile namespace"`
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout,omitempty" validate:"omitempty,duration" jsonschema:"description=Per-request timeout (e.g. 15s)"`
}

// RealtimeConfig configures the websocket channel.
type RealtimeConfig struct {
	URL            string `yaml:"url,omitempty" toml:"url,omitempty" validate:"required,url" jsonschema:"description=Websocket endpoint (e.g. wss://api.astracode.dev/accounts/messaging/ws)"`
	ReconnectDelay string `yaml:"reconnect_delay,omitempty" toml:"reconnect_delay,omitempty" validate:"omitempty,duration" jsonschema:"description=Delay before reconnecting after an unexpected close"`
	PingInterval   string `yaml:"ping_interval,omitempty" toml:"ping_interval,omitempty" validate:"omitempty,duration" jsonschema:"description=Keepalive ping interval; 0 disables pings"`
}

// AvatarConfig controls avatar URL resolution.
type AvatarConfig struct {
	Origin          string   `yaml:"origin,omitempty" toml:"origin,omitempty" validate:"omitempty,url" jsonschema:"description=Origin relative avatar paths resolve against"`
	DeprecatedHosts []string `yaml:"deprecated_hosts,omitempty" toml:"deprecated_hosts,omitempty" validate:"dive,hostname" jsonschema:"description=Hosts whose avatar links are dropped"`
	ThumbnailSize   int      `yaml:"thumbnail_size,omitempty" toml:"thumbnail_size,omitempty" validate:"gte=0,lte=1024" jsonschema:"description=Edge length of requested thumbnails"`
}

// SessionConfig controls where the session is persisted.
type SessionConfig struct {
	Path  string `yaml:"path,omitempty" toml:"path,omitempty" jsonschema:"description=Session file; defaults to the XDG state directory"`
	Watch *bool  `yaml:"watch,omitempty" toml:"watch,omitempty" jsonschema:"description=Follow logins and logouts made by other processes"`
}

// RequestTimeout returns the parsed API timeout.
func (c APIConfig) RequestTimeout() time.Duration {
	return parseDuration(c.Timeout, DefaultTimeout)
}

// ReconnectAfter returns the parsed reconnect delay.
func (c RealtimeConfig) ReconnectAfter() time.Duration {
	return parseDuration(c.ReconnectDelay, DefaultReconnectDelay)
}

// KeepAlive returns the parsed ping interval. Zero disables pings.
func (c RealtimeConfig) KeepAlive() time.Duration {
	return parseDuration(c.PingInterval, DefaultPingInterval)
}

// WatchEnabled reports whether the session file should be watched.
func (c SessionConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded mercure.yml into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// A missing key leaves the target zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
