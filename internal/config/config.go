// Package config provides configuration loading and defaults for the chatsync
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory. It
// carries the account to sign in with, poll cadences, notification
// preferences and logging settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/chatsync/internal/atomicfile"
	"tools.zach/dev/chatsync/internal/migrate"
	"tools.zach/dev/chatsync/internal/notify"
	"tools.zach/dev/chatsync/internal/sound"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Account identifies the chat server and the signed-in user.
	Account AccountConfig `toml:"account"`
	// Poll holds per-loop intervals and request shaping.
	Poll PollConfig `toml:"poll"`
	// Notify holds sound and mute preferences.
	Notify NotifyConfig `toml:"notify"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// AccountConfig identifies the chat server and the signed-in user.
type AccountConfig struct {
	// ServerURL is the base URL of the chat backend.
	ServerURL string `toml:"server_url"`
	// UserID is the local user. Empty means start logged out.
	UserID string `toml:"user_id"`
	// SessionCookie authenticates requests.
	SessionCookie string `toml:"session_cookie"`
}

// PollConfig holds loop intervals in milliseconds plus request shaping.
type PollConfig struct {
	ServersMS             int `toml:"servers_ms"`
	ChannelMessagesMS     int `toml:"channel_messages_ms"`
	DMListMS              int `toml:"dm_list_ms"`
	DMMessagesMS          int `toml:"dm_messages_ms"`
	PresenceMS            int `toml:"presence_ms"`
	CommandsMS            int `toml:"commands_ms"`
	PageSize              int `toml:"page_size"`
	RequestsPerSecond     int `toml:"requests_per_second"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// NotifyConfig holds sound and mute preferences.
type NotifyConfig struct {
	// MessageSound plays a sound for qualifying new messages.
	MessageSound bool `toml:"message_sound"`
	// VoiceJoinSound plays a sound when someone joins the local user's voice channel.
	VoiceJoinSound bool `toml:"voice_join_sound"`
	// RequireUnlock keeps sounds silent until the first console command.
	RequireUnlock bool `toml:"require_unlock"`
	// Muted lists glob patterns over entity paths that never notify.
	Muted []string `toml:"muted"`
	// MessageCommand is an argv run to play the message sound. Empty rings the terminal bell.
	MessageCommand []string `toml:"message_command,omitempty"`
	// VoiceJoinCommand is an argv run to play the voice-join sound.
	VoiceJoinCommand []string `toml:"voice_join_command,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Account: AccountConfig{
			ServerURL: "http://localhost:3000",
		},
		Poll: PollConfig{
			ServersMS:             2000,
			ChannelMessagesMS:     2000,
			DMListMS:              2500,
			DMMessagesMS:          2500,
			PresenceMS:            3000,
			CommandsMS:            3000,
			PageSize:              50,
			RequestsPerSecond:     10,
			RequestTimeoutSeconds: 15,
		},
		Notify: NotifyConfig{
			MessageSound:   true,
			VoiceJoinSound: true,
			RequireUnlock:  true,
			Muted:          []string{},
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Derived Values
// ///////////////////////////////////////////////

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Intervals returns the poll cadences as durations keyed by loop name.
func (p PollConfig) Intervals() map[string]time.Duration {
	return map[string]time.Duration{
		"servers":          ms(p.ServersMS),
		"channel-messages": ms(p.ChannelMessagesMS),
		"dm-list":          ms(p.DMListMS),
		"dm-messages":      ms(p.DMMessagesMS),
		"presence":         ms(p.PresenceMS),
		"commands":         ms(p.CommandsMS),
	}
}

// RequestTimeout returns the per-request timeout.
func (p PollConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// Preferences converts the notify section to policy preferences.
func (n NotifyConfig) Preferences() notify.Preferences {
	return notify.Preferences{
		MessageSound:   n.MessageSound,
		VoiceJoinSound: n.VoiceJoinSound,
		Muted:          append([]string(nil), n.Muted...),
	}
}

// SoundCommands returns the configured external sound commands.
func (n NotifyConfig) SoundCommands() map[sound.Kind][]string {
	cmds := map[sound.Kind][]string{}
	if len(n.MessageCommand) > 0 {
		cmds[sound.Message] = n.MessageCommand
	}
	if len(n.VoiceJoinCommand) > 0 {
		cmds[sound.VoiceJoin] = n.VoiceJoinCommand
	}
	return cmds
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing, zero or unparseable.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file at path. A missing file
// yields [DefaultConfig]. Older schema versions are migrated, backed up to
// path+".bak" and re-saved.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	migrated := migrate.Config.Needs(version)
	if migrated {
		if _, err := atomicfile.Backup(path, ".bak", data); err != nil {
			slog.Warn("failed to write config backup", "error", err)
		}
	}
	data, _, err = migrate.Config.Upgrade(data, version)
	if err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// Save writes the config to disk as plain TOML using an atomic write.
func (c *Config) Save(path string) error {
	return atomicfile.Encode(path, 0o600, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(c)
	})
}

// WriteDefault writes the annotated default configuration to path unless a
// file already exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}
	data, err := Render(DefaultConfig())
	if err != nil {
		return false, err
	}
	if err := atomicfile.Write(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Account.ServerURL == "" {
		return errors.New("account.server_url must be set")
	}
	u, err := url.Parse(c.Account.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid account.server_url %q: must be an absolute http(s) URL", c.Account.ServerURL)
	}

	intervals := []struct {
		key string
		val int
	}{
		{"servers_ms", c.Poll.ServersMS},
		{"channel_messages_ms", c.Poll.ChannelMessagesMS},
		{"dm_list_ms", c.Poll.DMListMS},
		{"dm_messages_ms", c.Poll.DMMessagesMS},
		{"presence_ms", c.Poll.PresenceMS},
		{"commands_ms", c.Poll.CommandsMS},
	}
	for _, iv := range intervals {
		if iv.val < 100 {
			return fmt.Errorf("poll.%s must be >= 100, got %d", iv.key, iv.val)
		}
	}

	if c.Poll.PageSize <= 0 || c.Poll.PageSize > 200 {
		return fmt.Errorf("poll.page_size must be in 1..200, got %d", c.Poll.PageSize)
	}
	if c.Poll.RequestsPerSecond <= 0 {
		return fmt.Errorf("poll.requests_per_second must be > 0, got %d", c.Poll.RequestsPerSecond)
	}
	if c.Poll.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("poll.request_timeout_seconds must be > 0, got %d", c.Poll.RequestTimeoutSeconds)
	}

	if bad, ok := notify.ValidatePatterns(c.Notify.Muted); !ok {
		return fmt.Errorf("invalid notify.muted pattern %q", bad)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	return nil
}
