package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	res, err := Loader{Lookup: mapLookup(nil)}.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", cfg.Threshold, DefaultThreshold)
	}
	if cfg.MinSpeechDurationMs != DefaultMinSpeechDurationMs {
		t.Errorf("MinSpeechDurationMs = %d, want %d", cfg.MinSpeechDurationMs, DefaultMinSpeechDurationMs)
	}
	if cfg.MinSilenceDurationMs != DefaultMinSilenceDurationMs {
		t.Errorf("MinSilenceDurationMs = %d, want %d", cfg.MinSilenceDurationMs, DefaultMinSilenceDurationMs)
	}
	if cfg.SpeechPadMs != DefaultSpeechPadMs {
		t.Errorf("SpeechPadMs = %d, want %d", cfg.SpeechPadMs, DefaultSpeechPadMs)
	}
	if cfg.Store != StoreDisk || cfg.CacheDir != DefaultCacheDir() {
		t.Errorf("store = %q at %q, want disk at %q", cfg.Store, cfg.CacheDir, DefaultCacheDir())
	}
	if cfg.Engine != DefaultEngine || cfg.SourceIdentity != DefaultSourceIdentity {
		t.Errorf("engine/identity = %q/%q, want %q/%q", cfg.Engine, cfg.SourceIdentity, DefaultEngine, DefaultSourceIdentity)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestLoaderJSON(t *testing.T) {
	res, err := Loader{Lookup: mapLookup(map[string]string{
		"NUPI_ADAPTER_CONFIG": `{"threshold":0.7,"min_speech_duration_ms":100,"listen_addr":"localhost:9999","store":"memory"}`,
	})}.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Threshold)
	}
	if cfg.MinSpeechDurationMs != 100 {
		t.Errorf("MinSpeechDurationMs = %d, want 100", cfg.MinSpeechDurationMs)
	}
	if cfg.ListenAddr != "localhost:9999" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "localhost:9999")
	}
	// Unset fields keep defaults.
	if cfg.MinSilenceDurationMs != DefaultMinSilenceDurationMs {
		t.Errorf("MinSilenceDurationMs = %d, want default %d", cfg.MinSilenceDurationMs, DefaultMinSilenceDurationMs)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "memory") {
		t.Errorf("warnings = %v, want one memory-store warning", res.Warnings)
	}
}

func TestLoaderYAMLFileThenJSONThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapter.yaml")
	yamlDoc := "threshold: 0.3\nmin_silence_duration_ms: 400\nengine: energy\ncache_dir: /tmp/from-yaml\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Loader{Lookup: mapLookup(map[string]string{
		"NUPI_ADAPTER_CONFIG_FILE": path,
		"NUPI_ADAPTER_CONFIG":      `{"threshold":0.4}`,
		"NUPI_VAD_THRESHOLD":       "0.8",
		"NUPI_VAD_CACHE_DIR":       "/tmp/from-env",
	})}.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8 (env wins)", cfg.Threshold)
	}
	if cfg.MinSilenceDurationMs != 400 {
		t.Errorf("MinSilenceDurationMs = %d, want 400 (from yaml)", cfg.MinSilenceDurationMs)
	}
	if cfg.Engine != "energy" {
		t.Errorf("Engine = %q, want energy (from yaml)", cfg.Engine)
	}
	if cfg.CacheDir != "/tmp/from-env" {
		t.Errorf("CacheDir = %q, want /tmp/from-env", cfg.CacheDir)
	}
}

func TestLoaderYAMLUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapter.yaml")
	if err := os.WriteFile(path, []byte("treshold: 0.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (Loader{Lookup: mapLookup(map[string]string{"NUPI_ADAPTER_CONFIG_FILE": path})}).Load(); err == nil {
		t.Fatal("expected error for misspelled yaml key")
	}
}

func TestLoaderJSONUnknownField(t *testing.T) {
	_, err := Loader{Lookup: mapLookup(map[string]string{
		"NUPI_ADAPTER_CONFIG": `{"treshold":0.3}`,
	})}.Load()
	if err == nil || !strings.Contains(err.Error(), "treshold") {
		t.Fatalf("err = %v, want rejection of misspelled json key", err)
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	res, err := Loader{Lookup: mapLookup(map[string]string{
		"NUPI_ADAPTER_CONFIG":              `{"threshold":0.3}`,
		"NUPI_ADAPTER_LISTEN_ADDR":         "127.0.0.1:5555",
		"NUPI_VAD_THRESHOLD":               "0.8",
		"NUPI_VAD_MIN_SPEECH_DURATION_MS":  "500",
		"NUPI_VAD_CACHE_STORE":             "postgres",
		"NUPI_VAD_CACHE_DSN":               "postgres://localhost/vad",
		"NUPI_VAD_CACHE_COMPRESSION_LEVEL": "0",
		"NUPI_VAD_SOURCE_IDENTITY":         "content",
	})}.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg := res.Config
	if cfg.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8 (env override)", cfg.Threshold)
	}
	if cfg.ListenAddr != "127.0.0.1:5555" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "127.0.0.1:5555")
	}
	if cfg.MinSpeechDurationMs != 500 {
		t.Errorf("MinSpeechDurationMs = %d, want 500", cfg.MinSpeechDurationMs)
	}
	if cfg.Store != StorePostgres || cfg.DatabaseURL != "postgres://localhost/vad" {
		t.Errorf("store = %q (%q), want postgres", cfg.Store, cfg.DatabaseURL)
	}
	if cfg.CompressionLevel != 0 {
		t.Errorf("CompressionLevel = %d, want 0", cfg.CompressionLevel)
	}
	if cfg.SourceIdentity != "content" {
		t.Errorf("SourceIdentity = %q, want content", cfg.SourceIdentity)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "hashes the whole audio file") {
		t.Errorf("warnings = %v, want one content-identity warning", res.Warnings)
	}
}

func TestLoaderDeprecatedCachePath(t *testing.T) {
	res, err := Loader{Lookup: mapLookup(map[string]string{
		"NUPI_VAD_CACHE_PATH": "/tmp/legacy",
	})}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if res.Config.CacheDir != "/tmp/legacy" {
		t.Errorf("CacheDir = %q, want /tmp/legacy", res.Config.CacheDir)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "deprecated") {
		t.Errorf("warnings = %v, want one deprecation warning", res.Warnings)
	}
}

func TestLoaderInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad json":          {"NUPI_ADAPTER_CONFIG": `{bad json}`},
		"bad float":         {"NUPI_VAD_THRESHOLD": "high"},
		"bad int":           {"NUPI_VAD_MIN_SPEECH_DURATION_MS": "250ms"},
		"threshold range":   {"NUPI_VAD_THRESHOLD": "1.5"},
		"negative duration": {"NUPI_VAD_MIN_SILENCE_DURATION_MS": "-1"},
		"unknown engine":    {"NUPI_VAD_ENGINE": "whisper"},
		"unknown store":     {"NUPI_VAD_CACHE_STORE": "redis"},
		"postgres no dsn":   {"NUPI_VAD_CACHE_STORE": "postgres"},
		"compression range": {"NUPI_VAD_CACHE_COMPRESSION_LEVEL": "23"},
		"unknown identity":  {"NUPI_VAD_SOURCE_IDENTITY": "inode"},
		"missing yaml file": {"NUPI_ADAPTER_CONFIG_FILE": "/nonexistent/adapter.yaml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := (Loader{Lookup: mapLookup(env)}).Load(); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestConfigParams(t *testing.T) {
	cfg := Default()
	cfg.Threshold = 0.6
	cfg.SpeechPadMs = 0
	p := cfg.Params()
	if p.Threshold != 0.6 || p.MinSpeechDurationMs != DefaultMinSpeechDurationMs ||
		p.MinSilenceDurationMs != DefaultMinSilenceDurationMs || p.SpeechPadMs != 0 {
		t.Errorf("Params() = %+v", p)
	}
}
