package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from an optional YAML file, an optional JSON
// blob and environment variables, in that order of increasing priority.
// Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// LoadResult is the resolved config plus non-fatal findings worth logging.
type LoadResult struct {
	Config   Config
	Warnings []string
}

// overlay mirrors Config with optional fields so a source only replaces what
// it actually sets.
type overlay struct {
	ListenAddr           *string  `json:"listen_addr" yaml:"listen_addr"`
	MetricsAddr          *string  `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel             *string  `json:"log_level" yaml:"log_level"`
	Engine               *string  `json:"engine" yaml:"engine"`
	Threshold            *float64 `json:"threshold" yaml:"threshold"`
	MinSpeechDurationMs  *int     `json:"min_speech_duration_ms" yaml:"min_speech_duration_ms"`
	MinSilenceDurationMs *int     `json:"min_silence_duration_ms" yaml:"min_silence_duration_ms"`
	SpeechPadMs          *int     `json:"speech_pad_ms" yaml:"speech_pad_ms"`
	Store                *string  `json:"store" yaml:"store"`
	CacheDir             *string  `json:"cache_dir" yaml:"cache_dir"`
	CompressionLevel     *int     `json:"compression_level" yaml:"compression_level"`
	DatabaseURL          *string  `json:"database_url" yaml:"database_url"`
	SourceIdentity       *string  `json:"source_identity" yaml:"source_identity"`
}

// Load resolves the adapter configuration.
func (l Loader) Load() (LoadResult, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Default()
	var warnings []string

	if path, ok := l.Lookup("NUPI_ADAPTER_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := applyYAMLFile(strings.TrimSpace(path), &cfg); err != nil {
			return LoadResult{}, err
		}
	}
	if raw, ok := l.Lookup("NUPI_ADAPTER_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return LoadResult{}, err
		}
	}

	overrideString(l.Lookup, "NUPI_ADAPTER_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "NUPI_METRICS_ADDR", &cfg.MetricsAddr)
	overrideString(l.Lookup, "NUPI_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "NUPI_VAD_ENGINE", &cfg.Engine)
	overrideString(l.Lookup, "NUPI_VAD_CACHE_STORE", &cfg.Store)
	if value, ok := l.Lookup("NUPI_VAD_CACHE_PATH"); ok && strings.TrimSpace(value) != "" {
		warnings = append(warnings, "NUPI_VAD_CACHE_PATH is deprecated, use NUPI_VAD_CACHE_DIR")
		cfg.CacheDir = strings.TrimSpace(value)
	}
	overrideString(l.Lookup, "NUPI_VAD_CACHE_DIR", &cfg.CacheDir)
	overrideString(l.Lookup, "NUPI_VAD_CACHE_DSN", &cfg.DatabaseURL)
	overrideString(l.Lookup, "NUPI_VAD_SOURCE_IDENTITY", &cfg.SourceIdentity)
	if err := overrideFloat(l.Lookup, "NUPI_VAD_THRESHOLD", &cfg.Threshold); err != nil {
		return LoadResult{}, err
	}
	for key, target := range map[string]*int{
		"NUPI_VAD_MIN_SPEECH_DURATION_MS":  &cfg.MinSpeechDurationMs,
		"NUPI_VAD_MIN_SILENCE_DURATION_MS": &cfg.MinSilenceDurationMs,
		"NUPI_VAD_SPEECH_PAD_MS":           &cfg.SpeechPadMs,
		"NUPI_VAD_CACHE_COMPRESSION_LEVEL": &cfg.CompressionLevel,
	} {
		if err := overrideInt(l.Lookup, key, target); err != nil {
			return LoadResult{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return LoadResult{}, err
	}
	if cfg.Store == StoreMemory {
		warnings = append(warnings, "cache store is \"memory\": analysis results will not survive a restart")
	}
	if cfg.SourceIdentity == "content" {
		warnings = append(warnings, "source_identity is \"content\": every request hashes the whole audio file, so cache hits slow down with file size")
	}
	if cfg.Engine == "stub" {
		warnings = append(warnings, "engine is \"stub\": results are deterministic and NOT based on audio content")
	}
	return LoadResult{Config: cfg, Warnings: warnings}, nil
}

func applyYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read NUPI_ADAPTER_CONFIG_FILE: %w", err)
	}
	var payload overlay
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	payload.apply(cfg)
	return nil
}

func applyJSON(raw string, cfg *Config) error {
	var payload overlay
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("config: decode NUPI_ADAPTER_CONFIG: %w", err)
	}
	payload.apply(cfg)
	return nil
}

func (o overlay) apply(cfg *Config) {
	setString(o.ListenAddr, &cfg.ListenAddr)
	setString(o.MetricsAddr, &cfg.MetricsAddr)
	setString(o.LogLevel, &cfg.LogLevel)
	setString(o.Engine, &cfg.Engine)
	setString(o.Store, &cfg.Store)
	setString(o.CacheDir, &cfg.CacheDir)
	setString(o.DatabaseURL, &cfg.DatabaseURL)
	setString(o.SourceIdentity, &cfg.SourceIdentity)
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.MinSpeechDurationMs != nil {
		cfg.MinSpeechDurationMs = *o.MinSpeechDurationMs
	}
	if o.MinSilenceDurationMs != nil {
		cfg.MinSilenceDurationMs = *o.MinSilenceDurationMs
	}
	if o.SpeechPadMs != nil {
		cfg.SpeechPadMs = *o.SpeechPadMs
	}
	if o.CompressionLevel != nil {
		cfg.CompressionLevel = *o.CompressionLevel
	}
}

func setString(value *string, target *string) {
	if value != nil && strings.TrimSpace(*value) != "" {
		*target = strings.TrimSpace(*value)
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
