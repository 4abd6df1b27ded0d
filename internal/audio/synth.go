package audio

import (
	"fmt"
	"math"
	"os"
	"time"
)

// Burst is one stretch of synthetic audio: a voiced tone or silence.
type Burst struct {
	Duration time.Duration
	Voiced   bool
}

// Synthesize renders bursts as mono float samples. Voiced stretches are an
// amplitude-modulated 220 Hz tone, loud enough for any energy detector.
func Synthesize(bursts []Burst, sampleRate int) []float64 {
	var total int
	for _, b := range bursts {
		total += int(b.Duration * time.Duration(sampleRate) / time.Second)
	}
	out := make([]float64, 0, total)
	for _, b := range bursts {
		n := int(b.Duration * time.Duration(sampleRate) / time.Second)
		for i := 0; i < n; i++ {
			if !b.Voiced {
				out = append(out, 0)
				continue
			}
			t := float64(i) / float64(sampleRate)
			env := 0.6 + 0.2*math.Sin(2*math.Pi*4*t)
			out = append(out, env*math.Sin(2*math.Pi*220*t))
		}
	}
	return out
}

// WriteBurstsWAV synthesizes bursts into a 16-bit mono WAV file at path.
func WriteBurstsWAV(path string, bursts []Burst, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	if err := EncodeWAV(f, Synthesize(bursts, sampleRate), sampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
