// Package config provides the configuration schema, loader, hot-reload
// watcher and speech provider registry for voicenav.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Page drivers.
const (
	DriverDOM      = "dom"
	DriverChromium = "chromium"
)

// History persistence backends. The empty value keeps history in memory
// only.
const (
	HistoryJSONL    = "jsonl"
	HistoryPostgres = "postgres"
)

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Listening   ListeningConfig   `yaml:"listening"`
	Browser     BrowserConfig     `yaml:"browser"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Sync        SyncConfig        `yaml:"sync"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	History     HistoryConfig     `yaml:"history"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server binds (e.g. ":8080").
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`

	// LogFile, when set, receives the log through a rotating writer in
	// addition to stderr.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// AllowedOrigins lists host patterns of page clients allowed to open a
	// WebSocket from another origin (e.g. "*.example.com").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig selects the speech-to-text backends. Fallbacks are tried
// in order when the primary fails.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry configures one provider. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Language overrides listening.language for this provider.
	Language string `yaml:"language"`

	// Options holds provider-specific values, such as model_path for the
	// native whisper provider.
	Options map[string]any `yaml:"options"`
}

// ListeningConfig tunes recognition and feedback.
type ListeningConfig struct {
	Language string `yaml:"language"`

	// Keywords biases recognition towards page vocabulary.
	Keywords []string `yaml:"keywords"`

	SettleDelay      time.Duration `yaml:"settle_delay"`
	ResumeDelay      time.Duration `yaml:"resume_delay"`
	HighlightTimeout time.Duration `yaml:"highlight_timeout"`
	StatusRevert     time.Duration `yaml:"status_revert"`
	ScrollDelta      int           `yaml:"scroll_delta"`

	// NoSpeechTimeout ends a recognition run that hears only silence.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// UtteranceTimeout caps one recognition run.
	UtteranceTimeout time.Duration `yaml:"utterance_timeout"`

	// SilenceThresholdMS is the pause that ends an utterance for batch
	// transcription backends.
	SilenceThresholdMS int `yaml:"silence_threshold_ms"`

	// Suggestions enables did-you-mean hints when a click target is not
	// found.
	Suggestions *bool `yaml:"suggestions"`
}

// BrowserConfig selects how pages are driven.
type BrowserConfig struct {
	Driver string `yaml:"driver"`

	// ControlURL is the DevTools URL of a running Chromium. Empty launches
	// a local browser.
	ControlURL        string        `yaml:"control_url"`
	Headless          bool          `yaml:"headless"`
	Bin               string        `yaml:"bin"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// StartURL is opened for clients that do not name a page.
	StartURL string `yaml:"start_url"`
}

// PreferencesConfig selects where the global widget state is stored.
type PreferencesConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// SyncConfig holds the cross-tab re-initialisation delays.
type SyncConfig struct {
	TabSwitchDelay  time.Duration `yaml:"tab_switch_delay"`
	NavigationDelay time.Duration `yaml:"navigation_delay"`
}

// RateLimitConfig bounds commands per tab. A zero rate disables the limit.
type RateLimitConfig struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	Burst             int     `yaml:"burst"`
}

// HistoryConfig sizes the command history and optionally persists it.
type HistoryConfig struct {
	Capacity    int    `yaml:"capacity"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
