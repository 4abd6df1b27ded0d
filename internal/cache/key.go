package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
)

// fingerprintVersion is bumped whenever the canonical form or the analysis
// semantics change, so older entries stop matching.
const fingerprintVersion = "v1"

// Key is the hex SHA-256 fingerprint of a source identity, a parameter set
// and an analyzer name.
type Key string

// Fingerprint derives the cache key. Every parameter takes part, so two
// parameter sets that differ in any field never share a key.
func Fingerprint(sourceID string, p analysis.Params, analyzer string) Key {
	canonical := fmt.Sprintf("%s|source=%s|threshold=%s|min_speech_ms=%d|min_silence_ms=%d|speech_pad_ms=%d|analyzer=%s",
		fingerprintVersion,
		strconv.Quote(sourceID),
		strconv.FormatFloat(p.Threshold, 'g', -1, 64),
		p.MinSpeechDurationMs,
		p.MinSilenceDurationMs,
		p.SpeechPadMs,
		strconv.Quote(analyzer),
	)
	sum := sha256.Sum256([]byte(canonical))
	return Key(hex.EncodeToString(sum[:]))
}

// Valid reports whether k has the shape Fingerprint produces. Stores that
// derive paths from keys reject anything else.
func (k Key) Valid() bool {
	if len(k) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short returns the first 12 characters, for logs.
func (k Key) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

func (k Key) String() string { return string(k) }
