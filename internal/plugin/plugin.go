// Package plugin is the lifecycle shell around the analysis cache: it
// selects the engine and the store from configuration, exposes Execute and
// Lookup by audio path, and releases the store on Cleanup.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/store/disk"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/store/postgres"
)

var (
	// ErrNotInitialized is returned by calls made before Initialize or after
	// Cleanup.
	ErrNotInitialized = errors.New("plugin: not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("plugin: already initialized")
)

// Plugin runs cached VAD analyses of audio files.
type Plugin struct {
	log       *slog.Logger
	reg       prometheus.Registerer
	tp        trace.TracerProvider
	lookupEnv func(string) (string, bool)

	mu       sync.RWMutex
	cfg      config.Config
	engine   resolvedEngine
	store    cache.Store
	cache    *cache.Cache
	metrics  *cache.Metrics
	identity audio.IdentityMode
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRegisterer registers the cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Plugin) { p.reg = reg }
}

// WithTracerProvider sets the tracer provider passed to the cache.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Plugin) { p.tp = tp }
}

// WithLookupEnv replaces os.LookupEnv for NUPI_DEV_MODE.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(p *Plugin) {
		if fn != nil {
			p.lookupEnv = fn
		}
	}
}

// New returns an uninitialized Plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		log:       slog.Default(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "plugin")
	return p
}

// Initialize validates cfg, resolves the engine and opens the store. cfg
// supplies the default analysis parameters for Execute.
func (p *Plugin) Initialize(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache != nil {
		return ErrAlreadyInitialized
	}

	devMode := false
	if v, ok := p.lookupEnv("NUPI_DEV_MODE"); ok && v == "1" {
		devMode = true
	}
	eng, err := resolveEngine(cfg.Engine, cfg.Threshold, devMode, p.log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	if p.metrics == nil {
		p.metrics = cache.NewMetrics(p.reg)
	}
	analyzer := analysis.NewAnalyzer(eng.analyzer, eng.factory, audio.Decode)
	p.cfg = cfg
	p.engine = eng
	p.store = store
	p.identity = audio.IdentityMode(cfg.SourceIdentity)
	p.cache = cache.New(store, analyzer,
		cache.WithLogger(p.log),
		cache.WithMetrics(p.metrics),
		cache.WithTracerProvider(p.tp),
	)

	p.log.Info("plugin initialized",
		"engine", eng.kind,
		"analyzer", eng.analyzer,
		"store", cfg.Store,
		"source_identity", cfg.SourceIdentity,
		"threshold", cfg.Threshold,
		"min_speech_duration_ms", cfg.MinSpeechDurationMs,
	)
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.Store {
	case config.StoreDisk:
		s, err := disk.Open(cfg.CacheDir, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMemory:
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("plugin: unknown store %q", cfg.Store)
	}
}

// Defaults returns the analysis parameters set by Initialize.
func (p *Plugin) Defaults() analysis.Params {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Params()
}

// EngineName returns the resolved engine kind, empty before Initialize.
func (p *Plugin) EngineName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.kind
}

// Execute analyzes the audio at path with the default parameters.
func (p *Plugin) Execute(ctx context.Context, path string, force bool) (cache.Outcome, error) {
	return p.ExecuteWith(ctx, path, p.Defaults(), force)
}

// ExecuteWith analyzes the audio at path with params.
func (p *Plugin) ExecuteWith(ctx context.Context, path string, params analysis.Params, force bool) (cache.Outcome, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache == nil {
		return cache.Outcome{}, ErrNotInitialized
	}
	src, err := audio.NewSource(path, p.identity)
	if err != nil {
		return cache.Outcome{}, err
	}
	return p.cache.Analyze(ctx, src, params, force)
}

// Lookup returns the stored entry for path and params without analyzing.
func (p *Plugin) Lookup(ctx context.Context, path string, params analysis.Params) (cache.Entry, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache == nil {
		return cache.Entry{}, false, ErrNotInitialized
	}
	if err := params.Validate(); err != nil {
		return cache.Entry{}, false, fmt.Errorf("%w: %v", cache.ErrInvalidParams, err)
	}
	src, err := audio.NewSource(path, p.identity)
	if err != nil {
		return cache.Entry{}, false, err
	}
	return p.cache.Lookup(ctx, p.cache.Key(src, params))
}

// Cleanup closes the store. The Plugin can be initialized again afterwards.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		return nil
	}
	err := p.store.Close()
	p.cache = nil
	p.store = nil
	p.engine = resolvedEngine{}
	if err != nil {
		return fmt.Errorf("plugin: close store: %w", err)
	}
	p.log.Info("plugin cleaned up")
	return nil
}
