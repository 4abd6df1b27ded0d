package cache

import (
	"context"
	"time"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
)

// Entry is one stored analysis result.
type Entry struct {
	Key       Key
	Result    analysis.Result
	CreatedAt time.Time
}

// Store persists entries by key. Implementations must be safe for concurrent
// use, make Put an atomic upsert (a concurrent Get sees the old entry or the
// new one, never a mix) and make a completed Put visible to every later Get.
type Store interface {
	// Get returns the entry for key, ErrNotFound when there is none, or an
	// error wrapping ErrCorrupt when the stored bytes fail verification.
	Get(ctx context.Context, key Key) (Entry, error)
	// Put inserts or replaces the entry for e.Key.
	Put(ctx context.Context, e Entry) error
	// Close releases the store's handles.
	Close() error
}
