package engine

import (
	"fmt"
	"math"
)

const (
	// energyFrameSamples is 20 ms at 16 kHz.
	energyFrameSamples = 320

	// Frames quieter than energyFloorDB map to probability 0, frames louder
	// than energyCeilDB map to 1, linear in between.
	energyFloorDB = -55.0
	energyCeilDB  = -25.0
)

// EnergyEngine is a pure-Go detector that scores 20 ms frames by RMS level.
// It needs no native runtime and is content based, unlike StubEngine.
type EnergyEngine struct {
	pcmBuf    []float32
	threshold float64
}

// NewEnergyEngine returns an EnergyEngine with the given speech threshold.
func NewEnergyEngine(threshold float64) *EnergyEngine {
	return &EnergyEngine{
		pcmBuf:    make([]float32, 0, energyFrameSamples*2),
		threshold: threshold,
	}
}

// ProcessChunk buffers samples and emits one Result per complete 20 ms frame.
func (e *EnergyEngine) ProcessChunk(pcm []byte, sampleRate uint32) ([]Result, error) {
	if sampleRate != ExpectedSampleRate {
		return nil, ErrWrongSampleRate
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("energy: PCM buffer has odd length %d, expected even (s16le requires 2 bytes per sample)", len(pcm))
	}
	e.pcmBuf = append(e.pcmBuf, pcmToFloat32(pcm)...)

	var results []Result
	for len(e.pcmBuf) >= energyFrameSamples {
		prob := energyProbability(e.pcmBuf[:energyFrameSamples])
		e.pcmBuf = e.pcmBuf[energyFrameSamples:]
		results = append(results, Result{
			IsSpeech:   float64(prob) >= e.threshold,
			Confidence: prob,
		})
	}
	return results, nil
}

// SetThreshold updates the speech probability threshold.
func (e *EnergyEngine) SetThreshold(threshold float64) {
	e.threshold = threshold
}

// FrameDurationMs returns 20.
func (e *EnergyEngine) FrameDurationMs() int {
	return energyFrameSamples * 1000 / ExpectedSampleRate
}

// Reset drops buffered samples.
func (e *EnergyEngine) Reset() error {
	e.pcmBuf = e.pcmBuf[:0]
	return nil
}

// Close is a no-op.
func (e *EnergyEngine) Close() error {
	return nil
}

func energyProbability(frame []float32) float32 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	p := (db - energyFloorDB) / (energyCeilDB - energyFloorDB)
	return float32(math.Min(1, math.Max(0, p)))
}

// pcmToFloat32 converts PCM s16le bytes to float32 samples normalized to [-1, 1].
// Divides by 32768 (not 32767) so that the full int16 range [-32768, 32767] maps
// to [-1.0, ~0.99997], keeping all values strictly within [-1, 1].
func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}
