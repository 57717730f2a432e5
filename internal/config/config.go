// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the streaming studio.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the studio server.
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

// Level converts l to a [slog.Level]. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Config.WithDefaults].
const (
	DefaultProvider           = "gemini"
	DefaultListenAddr         = ":8080"
	DefaultAssetBase          = "/assets"
	DefaultPollInterval       = 10 * time.Second
	DefaultSampleRate         = 24000
	DefaultGenerationTimeout  = 15 * time.Minute
	DefaultDriftTolerance     = 500 * time.Millisecond
	DefaultTimeUpdateInterval = 250 * time.Millisecond
	DefaultMaxEntriesPerKind  = 50
	DefaultHistoryEntries     = 200
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Preview    PreviewConfig    `yaml:"preview"`
	Capture    CaptureConfig    `yaml:"capture"`
	Library    LibraryConfig    `yaml:"library"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AssetBase is the URL prefix under which playable handles are served.
	AssetBase string `yaml:"asset_base"`
}

// ProvidersConfig selects the generation backends. Each entry names a
// provider registered in the [Registry].
type ProvidersConfig struct {
	Video ProviderEntry `yaml:"video"`
	TTS   ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when the primary speech backend fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty the key selected
	// through the credential gate is used.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values such as voice or aspect_ratio.
	Options map[string]any `yaml:"options"`
}

// Option returns the string option key, or "" when it is absent or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// GenerationConfig tunes the generation workflows.
type GenerationConfig struct {
	// PollInterval is how often a pending video operation is polled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SampleRate is the rate narration is resampled to before WAV encoding.
	SampleRate int `yaml:"sample_rate"`

	// Timeout bounds a single generation request end to end.
	Timeout time.Duration `yaml:"timeout"`
}

// PreviewConfig tunes the preview controller and headless elements.
type PreviewConfig struct {
	// DriftTolerance is the audio/video offset that triggers a resync.
	// Hot-reloadable.
	DriftTolerance time.Duration `yaml:"drift_tolerance"`

	// TimeUpdateInterval is the cadence of timeupdate events while playing.
	TimeUpdateInterval time.Duration `yaml:"time_update_interval"`
}

// CaptureConfig configures the capture device.
type CaptureConfig struct {
	// IngestURL is probed when capture starts. Empty means no device.
	IngestURL string `yaml:"ingest_url"`
}

// LibraryConfig bounds the in-memory asset libraries.
type LibraryConfig struct {
	MaxEntriesPerKind int `yaml:"max_entries_per_kind"`
}

// HistoryConfig bounds the activity log.
type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// WithDefaults returns a copy of cfg with every zero value replaced by its
// default.
func (cfg Config) WithDefaults() Config {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.AssetBase == "" {
		cfg.Server.AssetBase = DefaultAssetBase
	}
	if cfg.Providers.Video.Name == "" {
		cfg.Providers.Video.Name = DefaultProvider
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = DefaultProvider
	}
	if cfg.Generation.PollInterval <= 0 {
		cfg.Generation.PollInterval = DefaultPollInterval
	}
	if cfg.Generation.SampleRate <= 0 {
		cfg.Generation.SampleRate = DefaultSampleRate
	}
	if cfg.Generation.Timeout <= 0 {
		cfg.Generation.Timeout = DefaultGenerationTimeout
	}
	if cfg.Preview.DriftTolerance <= 0 {
		cfg.Preview.DriftTolerance = DefaultDriftTolerance
	}
	if cfg.Preview.TimeUpdateInterval <= 0 {
		cfg.Preview.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	if cfg.Library.MaxEntriesPerKind <= 0 {
		cfg.Library.MaxEntriesPerKind = DefaultMaxEntriesPerKind
	}
	if cfg.History.MaxEntries <= 0 {
		cfg.History.MaxEntries = DefaultHistoryEntries
	}
	return cfg
}
