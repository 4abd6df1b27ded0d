// Package cache memoizes analysis results by a fingerprint of the source
// identity and the full parameter set. A miss runs the analyzer at most once
// per key no matter how many callers ask concurrently; a forced call always
// runs it and replaces the stored entry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
)

const tracerName = "github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"

// Analyzer produces a result for a source. Implementations keep no state
// between calls.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, src audio.Source, p analysis.Params) (analysis.Result, error)
}

// Resolution tells how an Analyze call was served.
type Resolution string

const (
	ResolutionHit        Resolution = "hit"
	ResolutionComputed   Resolution = "computed"
	ResolutionRecomputed Resolution = "recomputed"
)

// Outcome is the result of Analyze with its provenance.
type Outcome struct {
	Key        Key
	Result     analysis.Result
	Resolution Resolution
	CreatedAt  time.Time
}

// decision is settled before any inference starts.
type decision int

const (
	decideHit decision = iota
	decideMiss
	decideForced
)

// Cache fronts an Analyzer with a Store.
type Cache struct {
	store    Store
	analyzer Analyzer
	log      *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	flight singleflight.Group
	locks  *keyLocks
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the collectors. The default is an unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the clock used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a Cache over store and analyzer.
func New(store Store, analyzer Analyzer, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		analyzer: analyzer,
		log:      slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		now:      time.Now,
		locks:    newKeyLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.log = c.log.With("component", "cache")
	return c
}

// Key returns the fingerprint Analyze uses for src and p.
func (c *Cache) Key(src audio.Source, p analysis.Params) Key {
	return Fingerprint(src.Identity(), p, c.analyzer.Name())
}

// Lookup reads the entry for key. A missing entry returns ok == false and a
// nil error; only store failures are errors.
func (c *Cache) Lookup(ctx context.Context, key Key) (e Entry, ok bool, err error) {
	start := time.Now()
	e, err = c.store.Get(ctx, key)
	c.metrics.LookupSeconds.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		c.metrics.Lookups.WithLabelValues("hit").Inc()
		return e, true, nil
	case errors.Is(err, ErrNotFound):
		c.metrics.Lookups.WithLabelValues("miss").Inc()
		return Entry{}, false, nil
	default:
		c.metrics.Lookups.WithLabelValues("error").Inc()
		return Entry{}, false, &StorageError{Key: key, Op: "get", Err: err}
	}
}

// Analyze returns the result for src under p. Without force a stored entry
// is returned as is; otherwise the analyzer runs and its result replaces the
// entry. Concurrent misses on one key share a single analyzer run; forced
// runs on a key are serialized with it.
func (c *Cache) Analyze(ctx context.Context, src audio.Source, p analysis.Params, force bool) (out Outcome, err error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	key := c.Key(src, p)
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "cache.Analyze", trace.WithAttributes(
		attribute.String("vad.cache.key", string(key)),
		attribute.Bool("vad.cache.force", force),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			c.countFailure(err)
			c.log.Warn("analysis failed", "key", key.Short(), "source", src.Path, "force", force, "error", err)
		} else {
			span.SetAttributes(attribute.String("vad.cache.resolution", string(out.Resolution)))
			c.metrics.AnalyzeSeconds.WithLabelValues(string(out.Resolution)).Observe(time.Since(start).Seconds())
		}
		span.End()
	}()

	d, entry, err := c.decide(ctx, key, force)
	if err != nil {
		return Outcome{}, err
	}

	switch d {
	case decideHit:
		c.log.Debug("cache hit", "key", key.Short(), "source", src.Path)
		return Outcome{Key: key, Result: entry.Result, Resolution: ResolutionHit, CreatedAt: entry.CreatedAt}, nil
	case decideMiss:
		return c.shared(ctx, key, src, p)
	default:
		unlock, err := c.locks.lock(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		defer unlock()
		return c.compute(ctx, key, src, p, ResolutionRecomputed)
	}
}

// decide settles the three-way resolution. Only the non-forced path touches
// the store here.
func (c *Cache) decide(ctx context.Context, key Key, force bool) (decision, Entry, error) {
	if force {
		return decideForced, Entry{}, nil
	}
	e, ok, err := c.Lookup(ctx, key)
	switch {
	case err != nil:
		return 0, Entry{}, err
	case ok:
		return decideHit, e, nil
	default:
		return decideMiss, Entry{}, nil
	}
}

// shared joins or starts the single in-flight computation for key. The
// computation is detached from the caller's cancellation so one caller
// giving up does not fail the others; each caller still returns as soon as
// its own context is done.
func (c *Cache) shared(ctx context.Context, key Key, src audio.Source, p analysis.Params) (Outcome, error) {
	detached := context.WithoutCancel(ctx)
	leader := false
	ch := c.flight.DoChan(string(key), func() (any, error) {
		leader = true
		unlock, err := c.locks.lock(detached, key)
		if err != nil {
			return Outcome{}, err
		}
		defer unlock()

		// A forced run may have stored the key while we waited. The re-check
		// is not counted as a lookup.
		e, err := c.store.Get(detached, key)
		switch {
		case err == nil:
			return Outcome{Key: key, Result: e.Result, Resolution: ResolutionHit, CreatedAt: e.CreatedAt}, nil
		case !errors.Is(err, ErrNotFound):
			return Outcome{}, &StorageError{Key: key, Op: "get", Err: err}
		}
		return c.compute(detached, key, src, p, ResolutionComputed)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Outcome{}, r.Err
		}
		if !leader {
			c.metrics.SharedWaits.Inc()
		}
		out := r.Val.(Outcome)
		out.Result = out.Result.Clone()
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// compute runs the analyzer and stores its result. The caller holds the key
// lock.
func (c *Cache) compute(ctx context.Context, key Key, src audio.Source, p analysis.Params, res Resolution) (Outcome, error) {
	reason := "miss"
	if res == ResolutionRecomputed {
		reason = "forced"
	}
	c.metrics.Analyses.WithLabelValues(reason).Inc()

	start := time.Now()
	result, err := c.analyzer.Analyze(ctx, src, p)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Outcome{}, err
		}
		return Outcome{}, &AnalysisError{Key: key, Err: err}
	}
	if err := result.Validate(); err != nil {
		return Outcome{}, &AnalysisError{Key: key, Err: err}
	}

	entry := Entry{Key: key, Result: result, CreatedAt: c.now().UTC()}
	if err := c.store.Put(ctx, entry); err != nil {
		return Outcome{}, &StorageError{Key: key, Op: "put", Err: err}
	}

	c.log.Info("analysis stored",
		"key", key.Short(),
		"source", src.Path,
		"resolution", string(res),
		"ranges", len(result.Ranges),
		"total_speech", result.TotalSpeech(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Outcome{Key: key, Result: result, Resolution: res, CreatedAt: entry.CreatedAt}, nil
}

func (c *Cache) countFailure(err error) {
	switch {
	case errors.Is(err, ErrAnalysis):
		c.metrics.Failures.WithLabelValues("analysis").Inc()
	case errors.Is(err, ErrStorage):
		c.metrics.Failures.WithLabelValues("storage").Inc()
	}
}
