package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
)

const (
	DefaultListenAddr           = "localhost:0"
	DefaultEngine               = "auto"
	DefaultThreshold            = 0.5
	DefaultMinSpeechDurationMs  = 250
	DefaultMinSilenceDurationMs = 100
	DefaultSpeechPadMs          = 30
	DefaultStore                = StoreDisk
	DefaultCompressionLevel     = 3
	DefaultSourceIdentity       = "stat"
)

// Cache store backends.
const (
	StoreDisk     = "disk"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the adapter configuration.
type Config struct {
	ListenAddr           string  `json:"listen_addr" yaml:"listen_addr"`
	MetricsAddr          string  `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel             string  `json:"log_level" yaml:"log_level"`
	Engine               string  `json:"engine" yaml:"engine"`
	Threshold            float64 `json:"threshold" yaml:"threshold"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms" yaml:"min_speech_duration_ms"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms" yaml:"min_silence_duration_ms"`
	SpeechPadMs          int     `json:"speech_pad_ms" yaml:"speech_pad_ms"`
	Store                string  `json:"store" yaml:"store"`
	CacheDir             string  `json:"cache_dir" yaml:"cache_dir"`
	CompressionLevel     int     `json:"compression_level" yaml:"compression_level"`
	DatabaseURL          string  `json:"database_url" yaml:"database_url"`
	// SourceIdentity is "stat" (path, size and mtime; constant cost) or
	// "content" (SHA-256 of the file on every call, so cache hits cost a
	// full read of the audio).
	SourceIdentity string `json:"source_identity" yaml:"source_identity"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		Engine:               DefaultEngine,
		Threshold:            DefaultThreshold,
		MinSpeechDurationMs:  DefaultMinSpeechDurationMs,
		MinSilenceDurationMs: DefaultMinSilenceDurationMs,
		SpeechPadMs:          DefaultSpeechPadMs,
		Store:                DefaultStore,
		CacheDir:             DefaultCacheDir(),
		CompressionLevel:     DefaultCompressionLevel,
		SourceIdentity:       DefaultSourceIdentity,
	}
}

// DefaultCacheDir is <user cache dir>/nupi/vad-analysis, falling back to the
// system temp dir when no user cache dir is known.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "nupi", "vad-analysis")
}

// Params returns the analysis parameters carried by the config.
func (c Config) Params() analysis.Params {
	return analysis.Params{
		Threshold:            c.Threshold,
		MinSpeechDurationMs:  c.MinSpeechDurationMs,
		MinSilenceDurationMs: c.MinSilenceDurationMs,
		SpeechPadMs:          c.SpeechPadMs,
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	switch c.Engine {
	case "auto", "silero", "energy", "stub":
	default:
		return fmt.Errorf("config: unknown engine %q (want auto, silero, energy or stub)", c.Engine)
	}
	switch c.Store {
	case StoreDisk:
		if strings.TrimSpace(c.CacheDir) == "" {
			return fmt.Errorf("config: cache_dir is required for the disk store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: database_url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q (want disk, postgres or memory)", c.Store)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		return fmt.Errorf("config: compression_level must be within [0, 22], got %d", c.CompressionLevel)
	}
	switch c.SourceIdentity {
	case "stat", "content":
	default:
		return fmt.Errorf("config: unknown source_identity %q (want stat or content)", c.SourceIdentity)
	}
	return c.ValidateVADParams()
}

// ValidateVADParams checks only the analysis parameters. Per-request
// overrides are validated with it.
func (c Config) ValidateVADParams() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
