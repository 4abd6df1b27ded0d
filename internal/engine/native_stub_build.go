//go:build !silero

package engine

// NativeName is the engine name used in cache fingerprints.
const NativeName = "silero-v5"

// NativeAvailable reports that no native engine is compiled in.
func NativeAvailable() bool { return false }

// NewNativeEngine returns ErrNativeUnavailable when built without the silero tag.
func NewNativeEngine(_ float64) (Engine, error) {
	return nil, ErrNativeUnavailable
}
