package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
)

// entryVersion is the envelope schema version.
const entryVersion = 1

type envelope struct {
	Version   int             `json:"version"`
	Key       Key             `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	Result    json.RawMessage `json:"result"`
	Checksum  string          `json:"checksum"`
}

// EncodeEntry serializes e with a checksum over the encoded result.
func EncodeEntry(e Entry) ([]byte, error) {
	result, err := json.Marshal(e.Result)
	if err != nil {
		return nil, fmt.Errorf("cache: encode result: %w", err)
	}
	data, err := json.Marshal(envelope{
		Version:   entryVersion,
		Key:       e.Key,
		CreatedAt: e.CreatedAt.UTC(),
		Result:    result,
		Checksum:  checksum(result),
	})
	if err != nil {
		return nil, fmt.Errorf("cache: encode entry: %w", err)
	}
	return data, nil
}

// DecodeEntry parses data stored under key. Any mismatch in version, key or
// checksum, and any result that fails validation, is reported as ErrCorrupt.
func DecodeEntry(key Key, data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != entryVersion {
		return Entry{}, fmt.Errorf("%w: schema version %d, want %d", ErrCorrupt, env.Version, entryVersion)
	}
	if env.Key != key {
		return Entry{}, fmt.Errorf("%w: stored under %s but names %s", ErrCorrupt, key.Short(), env.Key.Short())
	}
	if got := checksum(env.Result); got != env.Checksum {
		return Entry{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	var res analysis.Result
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := res.Validate(); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Entry{Key: env.Key, Result: res, CreatedAt: env.CreatedAt}, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
