//go:build silero

package engine

import (
	_ "embed"
)

// sileroModelData is the Silero VAD v5 ONNX model. Copy
// src/silero_vad/data/silero_vad.onnx from a v5 release of
// github.com/snakers4/silero-vad to internal/engine/silero_vad.onnx before
// building with -tags silero.
//
//go:embed silero_vad.onnx
var sileroModelData []byte

// NativeName is the engine name used in cache fingerprints.
const NativeName = "silero-v5"

// NativeAvailable reports that the Silero VAD engine is compiled in.
func NativeAvailable() bool { return true }

// NewNativeEngine creates a SileroEngine with the given speech threshold.
func NewNativeEngine(threshold float64) (Engine, error) {
	return NewSileroEngine(threshold)
}
