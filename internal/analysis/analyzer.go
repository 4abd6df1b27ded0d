package analysis

import (
	"context"
	"fmt"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/engine"
)

// chunkBytes is 20 ms of 16 kHz mono s16le, the chunk size a live stream
// delivers.
const chunkBytes = engine.ExpectedSampleRate / 50 * 2

// DecodeFunc turns a source into 16 kHz mono PCM.
type DecodeFunc func(audio.Source) (audio.PCM, error)

// Analyzer runs a fresh engine over a whole decoded source. It keeps no
// state between calls and is safe for concurrent use.
type Analyzer struct {
	name      string
	newEngine engine.Factory
	decode    DecodeFunc
}

// NewAnalyzer returns an Analyzer. name identifies the engine in cache
// fingerprints; decode defaults to audio.Decode when nil.
func NewAnalyzer(name string, newEngine engine.Factory, decode DecodeFunc) *Analyzer {
	if decode == nil {
		decode = audio.Decode
	}
	return &Analyzer{name: name, newEngine: newEngine, decode: decode}
}

// Name returns the analyzer identity.
func (a *Analyzer) Name() string { return a.name }

// Analyze decodes src, feeds it to a new engine in 20 ms chunks and segments
// the frame results. The context is checked between chunks. The returned
// result always passes Result.Validate.
func (a *Analyzer) Analyze(ctx context.Context, src audio.Source, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("analysis: %w", err)
	}
	pcm, err := a.decode(src)
	if err != nil {
		return Result{}, err
	}
	if pcm.SampleRate != engine.ExpectedSampleRate {
		return Result{}, fmt.Errorf("analysis: decoded %s at %d Hz: %w", src.Path, pcm.SampleRate, engine.ErrWrongSampleRate)
	}

	eng, err := a.newEngine(p.Threshold)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: create %s engine: %w", a.name, err)
	}
	defer eng.Close()

	frameMs := eng.FrameDurationMs()
	if frameMs <= 0 {
		return Result{}, fmt.Errorf("analysis: %s engine returned invalid frame duration: %d ms", a.name, frameMs)
	}

	frames := make([]engine.Result, 0, pcm.Duration().Milliseconds()/int64(frameMs)+1)
	for off := 0; off < len(pcm.Data); off += chunkBytes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		out, err := eng.ProcessChunk(pcm.Data[off:min(off+chunkBytes, len(pcm.Data))], engine.ExpectedSampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("analysis: %s engine at %d bytes: %w", a.name, off, err)
		}
		frames = append(frames, out...)
	}

	res := Segment(frames, frameMs, p, pcm.Duration().Seconds())
	if err := res.Validate(); err != nil {
		return Result{}, err
	}
	return res, nil
}
