package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicenav/internal/prefs"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultLanguage         = "en-US"
	DefaultSettleDelay      = time.Second
	DefaultResumeDelay      = 500 * time.Millisecond
	DefaultStatusRevert     = 2 * time.Second
	DefaultScrollDelta      = 300
	DefaultTabSwitchDelay   = 500 * time.Millisecond
	DefaultNavigationDelay  = time.Second
	DefaultCommandsPerSec   = 5
	DefaultBurst            = 10
	DefaultHistoryCapacity  = 50
	DefaultMCPPath          = "/mcp"
	DefaultLogMaxSizeMB     = 50
	DefaultLogMaxBackups    = 3
	DefaultLogMaxAgeDays    = 28
	defaultPreferencesStore = prefs.BackendMemory
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICENAV_"

// ValidProviderNames lists the speech providers shipped with voicenav.
// Unknown names only produce a warning, since factories can be registered
// by embedders.
var ValidProviderNames = []string{"whisper", "whisper-native", "deepgram", "openai"}

// LookupFunc reads an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files (".env" when none
// is named) without overriding the existing environment. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path, applies defaults and VOICENAV_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates it. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

func parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.LogMaxSizeMB, DefaultLogMaxSizeMB)
	setDefault(&s.LogMaxBackups, DefaultLogMaxBackups)
	setDefault(&s.LogMaxAgeDays, DefaultLogMaxAgeDays)

	l := &cfg.Listening
	setDefault(&l.Language, DefaultLanguage)
	setDefault(&l.SettleDelay, DefaultSettleDelay)
	setDefault(&l.ResumeDelay, DefaultResumeDelay)
	setDefault(&l.StatusRevert, DefaultStatusRevert)
	setDefault(&l.ScrollDelta, DefaultScrollDelta)
	if l.Suggestions == nil {
		on := true
		l.Suggestions = &on
	}

	setDefault(&cfg.Browser.Driver, DriverDOM)
	setDefault(&cfg.Preferences.Backend, defaultPreferencesStore)
	setDefault(&cfg.Sync.TabSwitchDelay, DefaultTabSwitchDelay)
	setDefault(&cfg.Sync.NavigationDelay, DefaultNavigationDelay)
	if cfg.RateLimit.CommandsPerSecond == 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit = RateLimitConfig{CommandsPerSecond: DefaultCommandsPerSec, Burst: DefaultBurst}
	}
	setDefault(&cfg.History.Capacity, DefaultHistoryCapacity)
	setDefault(&cfg.MCP.Path, DefaultMCPPath)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

// ApplyEnv overrides secrets and deployment settings from VOICENAV_*
// variables:
//
//	VOICENAV_LISTEN_ADDR, VOICENAV_LOG_LEVEL
//	VOICENAV_STT_PROVIDER, VOICENAV_STT_BASE_URL, VOICENAV_STT_API_KEY
//	VOICENAV_DEEPGRAM_API_KEY, VOICENAV_OPENAI_API_KEY
//	VOICENAV_BROWSER_CONTROL_URL
//	VOICENAV_REDIS_ADDR, VOICENAV_REDIS_PASSWORD, VOICENAV_REDIS_DB
//	VOICENAV_POSTGRES_DSN
//
// Provider keys apply to the primary and every fallback of that name.
// VOICENAV_POSTGRES_DSN fills both the preferences and history DSN.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}
	if v, ok := get("LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := get("STT_PROVIDER"); ok {
		cfg.Providers.STT.Name = v
	}
	if v, ok := get("STT_BASE_URL"); ok {
		cfg.Providers.STT.BaseURL = v
	}
	if v, ok := get("STT_API_KEY"); ok {
		cfg.Providers.STT.APIKey = v
	}
	for _, name := range []string{"deepgram", "openai"} {
		v, ok := get(strings.ToUpper(name) + "_API_KEY")
		if !ok {
			continue
		}
		for _, e := range cfg.sttEntries() {
			if e.Name == name {
				e.APIKey = v
			}
		}
	}
	if v, ok := get("BROWSER_CONTROL_URL"); ok {
		cfg.Browser.ControlURL = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		cfg.Preferences.RedisAddr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		cfg.Preferences.RedisPassword = v
	}
	if v, ok := get("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Preferences.RedisDB = n
		} else {
			slog.Warn("config: ignoring invalid VOICENAV_REDIS_DB", "value", v)
		}
	}
	if v, ok := get("POSTGRES_DSN"); ok {
		cfg.Preferences.PostgresDSN = v
		cfg.History.PostgresDSN = v
	}
}

// sttEntries returns pointers to the primary and fallback entries.
func (cfg *Config) sttEntries() []*ProviderEntry {
	out := []*ProviderEntry{&cfg.Providers.STT}
	for i := range cfg.Providers.STTFallbacks {
		out = append(out, &cfg.Providers.STTFallbacks[i])
	}
	return out
}

// Validate checks cfg for coherent values and returns every problem found
// joined into one error.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Server.LogMaxSizeMB < 0 || cfg.Server.LogMaxBackups < 0 || cfg.Server.LogMaxAgeDays < 0 {
		fail("server log rotation limits must not be negative")
	}

	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		fail("providers.stt_fallbacks requires providers.stt")
	}
	for i, e := range cfg.sttEntries() {
		if i > 0 && e.Name == "" {
			fail("providers.stt_fallbacks[%d].name is required", i-1)
		}
		if e.Name != "" && !slices.Contains(ValidProviderNames, e.Name) {
			slog.Warn("config: unknown stt provider name; it must be registered by the embedder",
				"name", e.Name, "known", ValidProviderNames)
		}
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("config: providers.stt is not configured; voice recognition will be unavailable")
	}

	l := cfg.Listening
	for name, d := range map[string]time.Duration{
		"settle_delay":      l.SettleDelay,
		"resume_delay":      l.ResumeDelay,
		"highlight_timeout": l.HighlightTimeout,
		"status_revert":     l.StatusRevert,
		"no_speech_timeout": l.NoSpeechTimeout,
		"utterance_timeout": l.UtteranceTimeout,
	} {
		if d < 0 {
			fail("listening.%s must not be negative", name)
		}
	}
	if l.ScrollDelta < 0 {
		fail("listening.scroll_delta must not be negative")
	}
	if l.SilenceThresholdMS < 0 {
		fail("listening.silence_threshold_ms must not be negative")
	}

	switch cfg.Browser.Driver {
	case DriverDOM, DriverChromium:
	default:
		fail("browser.driver %q is invalid; valid values: dom, chromium", cfg.Browser.Driver)
	}

	p := cfg.Preferences
	switch p.Backend {
	case prefs.BackendMemory:
	case prefs.BackendFile:
		if p.Path == "" {
			fail("preferences.path is required for the file backend")
		}
	case prefs.BackendRedis:
		if p.RedisAddr == "" {
			fail("preferences.redis_addr is required for the redis backend")
		}
	case prefs.BackendPostgres:
		if p.PostgresDSN == "" {
			fail("preferences.postgres_dsn is required for the postgres backend")
		}
	default:
		fail("preferences.backend %q is invalid; valid values: memory, file, redis, postgres", p.Backend)
	}

	if cfg.Sync.TabSwitchDelay < 0 || cfg.Sync.NavigationDelay < 0 {
		fail("sync delays must not be negative")
	}
	if cfg.RateLimit.CommandsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		fail("ratelimit values must not be negative")
	}

	h := cfg.History
	if h.Capacity < 0 {
		fail("history.capacity must not be negative")
	}
	switch h.Backend {
	case "":
	case HistoryJSONL:
		if h.Path == "" {
			fail("history.path is required for the jsonl backend")
		}
	case HistoryPostgres:
		if h.PostgresDSN == "" {
			fail("history.postgres_dsn is required for the postgres backend")
		}
	default:
		fail("history.backend %q is invalid; valid values: jsonl, postgres", h.Backend)
	}

	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		fail("mcp.path %q must start with /", cfg.MCP.Path)
	}

	return errors.Join(errs...)
}
