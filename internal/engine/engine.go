// Package engine provides frame-level speech detectors. An engine consumes
// 16 kHz mono s16le PCM and emits one Result per inferred frame; it carries
// recurrent state between calls, so every analysis run owns its own instance.
package engine

import "errors"

// ExpectedSampleRate is the only input rate the engines accept.
const ExpectedSampleRate = 16000

// ErrWrongSampleRate is returned when PCM arrives at any other rate.
var ErrWrongSampleRate = errors.New("engine: unsupported sample rate, expected 16000 Hz")

// ErrNativeUnavailable indicates the Silero engine is not compiled in.
var ErrNativeUnavailable = errors.New("engine: silero backend not available (build without -tags silero)")

// Result holds the output of a single VAD frame.
type Result struct {
	IsSpeech   bool
	Confidence float32
}

// Engine processes audio chunks and returns per-frame VAD results.
type Engine interface {
	// ProcessChunk receives a PCM chunk and returns zero or more frame results.
	// Engines that infer on fixed windows buffer partial windows internally.
	ProcessChunk(pcm []byte, sampleRate uint32) ([]Result, error)
	// SetThreshold updates the speech probability threshold.
	SetThreshold(threshold float64)
	// FrameDurationMs is the audio duration each Result covers.
	FrameDurationMs() int
	// Reset clears internal state (e.g., between sources).
	Reset() error
	// Close releases resources.
	Close() error
}

// Factory creates a fresh engine configured with the given threshold.
type Factory func(threshold float64) (Engine, error)
