package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// TargetSampleRate is the rate every decoded source is resampled to.
const TargetSampleRate = 16000

// resampleQuality trades CPU for fidelity; 4 is beep's recommended default.
const resampleQuality = 4

// ErrUnsupportedFormat is returned for file extensions no decoder handles.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// PCM is mono little-endian int16 audio.
type PCM struct {
	Data       []byte
	SampleRate int
}

// Samples returns the number of samples in the buffer.
func (p PCM) Samples() int { return len(p.Data) / 2 }

// Duration returns the playback length of the buffer.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Samples()) * time.Second / time.Duration(p.SampleRate)
}

// Decode reads the source and returns 16 kHz mono PCM. WAV, MP3 and FLAC are
// supported, selected by file extension.
func Decode(src Source) (PCM, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PCM{}, fmt.Errorf("%w: %s", ErrSourceNotFound, src.Path)
		}
		return PCM{}, fmt.Errorf("audio: open %s: %w", src.Path, err)
	}
	defer f.Close()

	streamer, format, err := decoderFor(src.Path, f)
	if err != nil {
		return PCM{}, err
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if int(format.SampleRate) != TargetSampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(TargetSampleRate), streamer)
	}

	data, err := drainMono16(s, streamer.Len(), int(format.SampleRate))
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode %s: %w", src.Path, err)
	}
	return PCM{Data: data, SampleRate: TargetSampleRate}, nil
}

func decoderFor(path string, f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		s, format, err = wav.Decode(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	if format.SampleRate <= 0 {
		s.Close()
		return nil, beep.Format{}, fmt.Errorf("audio: decode %s: invalid sample rate %d", path, format.SampleRate)
	}
	return s, format, nil
}

// drainMono16 streams s to completion, averaging both channels into s16le.
// srcLen and srcRate only size the output buffer.
func drainMono16(s beep.Streamer, srcLen, srcRate int) ([]byte, error) {
	estimate := 0
	if srcLen > 0 && srcRate > 0 {
		estimate = int(int64(srcLen)*TargetSampleRate/int64(srcRate)) + 1
	}
	out := make([]byte, 0, estimate*2)
	buf := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			v := int16(math.Round(clamp((frame[0]+frame[1])/2) * 32767))
			out = append(out, byte(v), byte(uint16(v)>>8))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// EncodeWAV writes mono float samples in [-1, 1] as a 16-bit WAV stream.
func EncodeWAV(w io.WriteSeeker, samples []float64, sampleRate int) error {
	pos := 0
	s := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy2(buf, samples[pos:])
		pos += n
		return n, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	if err := wav.Encode(w, s, format); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	return nil
}

func copy2(dst [][2]float64, src []float64) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i][0] = src[i]
		dst[i][1] = src[i]
	}
	return n
}
