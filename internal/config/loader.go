package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"video": {"gemini"},
	"tts":   {"gemini", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if base := cfg.Server.AssetBase; base != "" {
		if !strings.HasPrefix(base, "/") || strings.HasSuffix(base, "/") {
			errs = append(errs, fmt.Errorf("server.asset_base %q must start with / and must not end with /", base))
		}
		if base == "/api" || strings.HasPrefix(base, "/api/") {
			errs = append(errs, fmt.Errorf("server.asset_base %q collides with the API routes", base))
		}
	}

	// Providers
	validateProviderName("video", cfg.Providers.Video.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}

	// Generation
	errs = appendNegative(errs, "generation.poll_interval", cfg.Generation.PollInterval)
	errs = appendNegative(errs, "generation.timeout", cfg.Generation.Timeout)
	if sr := cfg.Generation.SampleRate; sr != 0 && (sr < 8000 || sr > 192000) {
		errs = append(errs, fmt.Errorf("generation.sample_rate %d is out of range [8000, 192000]", sr))
	}

	// Preview
	errs = appendNegative(errs, "preview.drift_tolerance", cfg.Preview.DriftTolerance)
	errs = appendNegative(errs, "preview.time_update_interval", cfg.Preview.TimeUpdateInterval)

	// Capture
	if raw := cfg.Capture.IngestURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("capture.ingest_url %q must be an absolute http(s) URL", raw))
		}
	} else {
		slog.Warn("capture.ingest_url is empty; the webcam source will stay awaiting a device")
	}

	// Library and history
	if cfg.Library.MaxEntriesPerKind < 0 {
		errs = append(errs, fmt.Errorf("library.max_entries_per_kind %d must not be negative", cfg.Library.MaxEntriesPerKind))
	}
	if cfg.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d must not be negative", cfg.History.MaxEntries))
	}

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %s must not be negative", field, d))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
