//go:build silero

package engine

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// sileroWindowSize is the number of float32 samples per inference call.
	// Silero VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
	sileroWindowSize = 512

	// sileroStateSize is the hidden state dimension per layer.
	// Silero VAD v5 uses a combined state tensor of shape [2, 1, 128].
	sileroStateSize = 128
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// sileroTensors are the session's bound inputs and outputs, reused across runs.
type sileroTensors struct {
	input  *ort.Tensor[float32] // [1, 512]
	state  *ort.Tensor[float32] // [2, 1, 128]
	sr     *ort.Tensor[int64]   // [1]
	output *ort.Tensor[float32] // [1, 1]
	stateN *ort.Tensor[float32] // [2, 1, 128]
}

func (t *sileroTensors) inputs() []ort.Value  { return []ort.Value{t.input, t.state, t.sr} }
func (t *sileroTensors) outputs() []ort.Value { return []ort.Value{t.output, t.stateN} }

func (t *sileroTensors) destroy() {
	if t.input != nil {
		t.input.Destroy()
	}
	if t.state != nil {
		t.state.Destroy()
	}
	if t.sr != nil {
		t.sr.Destroy()
	}
	if t.output != nil {
		t.output.Destroy()
	}
	if t.stateN != nil {
		t.stateN.Destroy()
	}
	*t = sileroTensors{}
}

func newSileroTensors() (*sileroTensors, error) {
	t := &sileroTensors{}
	var err error
	fail := func(what string) (*sileroTensors, error) {
		t.destroy()
		return nil, fmt.Errorf("silero: create %s tensor: %w", what, err)
	}
	if t.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize)); err != nil {
		return fail("input")
	}
	if t.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize)); err != nil {
		return fail("state")
	}
	if t.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(ExpectedSampleRate)}); err != nil {
		return fail("sr")
	}
	if t.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fail("output")
	}
	if t.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize)); err != nil {
		return fail("stateN")
	}
	// onnxruntime_go does not guarantee zeroed memory.
	clear(t.state.GetData())
	clear(t.stateN.GetData())
	return t, nil
}

// SileroEngine runs Silero VAD v5 inference via ONNX Runtime.
type SileroEngine struct {
	session *ort.AdvancedSession
	tensors *sileroTensors

	// pcmBuf accumulates samples until a full 512-sample window is available.
	pcmBuf []float32

	threshold float64
}

func initORT() error {
	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// NewSileroEngine initializes ONNX Runtime once per process, loads the
// embedded model and binds a fresh set of tensors.
func NewSileroEngine(threshold float64) (*SileroEngine, error) {
	if len(sileroModelData) == 0 {
		return nil, fmt.Errorf("silero: model data is empty (build without silero tag?)")
	}
	if err := initORT(); err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}

	tensors, err := newSileroTensors()
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSessionWithONNXData(
		sileroModelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		tensors.inputs(),
		tensors.outputs(),
		nil,
	)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &SileroEngine{
		session:   session,
		tensors:   tensors,
		pcmBuf:    make([]float32, 0, sileroWindowSize*2),
		threshold: threshold,
	}, nil
}

// ProcessChunk buffers s16le samples and runs inference for every complete
// 512-sample window. It returns an empty slice until a window is filled.
func (e *SileroEngine) ProcessChunk(pcm []byte, sampleRate uint32) ([]Result, error) {
	if sampleRate != ExpectedSampleRate {
		return nil, ErrWrongSampleRate
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("silero: PCM buffer has odd length %d, expected even (s16le requires 2 bytes per sample)", len(pcm))
	}
	e.pcmBuf = append(e.pcmBuf, pcmToFloat32(pcm)...)

	var results []Result
	for len(e.pcmBuf) >= sileroWindowSize {
		prob, err := e.infer(e.pcmBuf[:sileroWindowSize])
		if err != nil {
			return nil, err
		}
		e.pcmBuf = e.pcmBuf[sileroWindowSize:]
		results = append(results, Result{
			IsSpeech:   float64(prob) >= e.threshold,
			Confidence: prob,
		})
	}
	return results, nil
}

// SetThreshold updates the speech probability threshold.
func (e *SileroEngine) SetThreshold(threshold float64) {
	e.threshold = threshold
}

// Reset clears the recurrent state and the sample buffer.
func (e *SileroEngine) Reset() error {
	if e.tensors != nil {
		clear(e.tensors.state.GetData())
	}
	e.pcmBuf = e.pcmBuf[:0]
	return nil
}

// FrameDurationMs returns 32: one 512-sample window at 16 kHz.
func (e *SileroEngine) FrameDurationMs() int {
	return sileroWindowSize * 1000 / ExpectedSampleRate
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (e *SileroEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return nil
}

// infer runs one inference on exactly 512 samples and carries stateN forward.
func (e *SileroEngine) infer(window []float32) (float32, error) {
	copy(e.tensors.input.GetData(), window)
	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	prob := e.tensors.output.GetData()[0]
	copy(e.tensors.state.GetData(), e.tensors.stateN.GetData())
	return prob, nil
}
