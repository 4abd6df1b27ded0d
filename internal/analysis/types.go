// Package analysis turns decoded audio into speech ranges: it drives a
// frame-level engine over a whole source and folds the frames into ordered,
// non-overlapping ranges with aggregate metadata.
package analysis

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// Metadata keys present on every Result produced by Segment.
const (
	MetaTotalSpeech   = "total_speech"
	MetaAudioDuration = "audio_duration"
	MetaSpeechRatio   = "speech_ratio"
	MetaSegmentCount  = "segment_count"
)

// TotalSpeechTolerance is how far total_speech may drift from the summed
// range durations, in seconds.
const TotalSpeechTolerance = 0.01

// ErrInvalidResult marks analyzer output that breaks the range invariants.
var ErrInvalidResult = errors.New("analysis: invalid result")

// SpeechRange is one detected stretch of speech, in seconds from the start of
// the source.
type SpeechRange struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Duration returns End - Start.
func (r SpeechRange) Duration() float64 { return r.End - r.Start }

// Result is the outcome of analyzing one source.
type Result struct {
	Ranges   []SpeechRange      `json:"ranges"`
	Metadata map[string]float64 `json:"metadata"`
}

// TotalSpeech returns the total_speech metadata value.
func (r Result) TotalSpeech() float64 { return r.Metadata[MetaTotalSpeech] }

// Validate reports whether r satisfies the range invariants: every range has
// 0 <= start < end and confidence within [0, 1], ranges are ordered by start
// and do not overlap, every metadata value is finite, and total_speech
// matches the summed durations.
func (r Result) Validate() error {
	var sum float64
	for i, rg := range r.Ranges {
		if !finite(rg.Start) || !finite(rg.End) || !finite(rg.Confidence) {
			return fmt.Errorf("%w: range %d has a non-finite value", ErrInvalidResult, i)
		}
		if rg.Start < 0 {
			return fmt.Errorf("%w: range %d starts before zero (%g)", ErrInvalidResult, i, rg.Start)
		}
		if rg.Start >= rg.End {
			return fmt.Errorf("%w: range %d start %g not before end %g", ErrInvalidResult, i, rg.Start, rg.End)
		}
		if rg.Confidence < 0 || rg.Confidence > 1 {
			return fmt.Errorf("%w: range %d confidence %g outside [0, 1]", ErrInvalidResult, i, rg.Confidence)
		}
		if i > 0 {
			prev := r.Ranges[i-1]
			if rg.Start < prev.Start {
				return fmt.Errorf("%w: range %d starts before range %d", ErrInvalidResult, i, i-1)
			}
			if rg.Start < prev.End {
				return fmt.Errorf("%w: range %d overlaps range %d", ErrInvalidResult, i, i-1)
			}
		}
		sum += rg.Duration()
	}
	for name, v := range r.Metadata {
		if !finite(v) {
			return fmt.Errorf("%w: metadata %s is %g", ErrInvalidResult, name, v)
		}
	}
	total, ok := r.Metadata[MetaTotalSpeech]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidResult, MetaTotalSpeech)
	}
	if math.Abs(total-sum) > TotalSpeechTolerance {
		return fmt.Errorf("%w: %s %g differs from summed ranges %g", ErrInvalidResult, MetaTotalSpeech, total, sum)
	}
	return nil
}

// Equal reports whether r and o carry the same ranges and metadata, value
// for value.
func (r Result) Equal(o Result) bool {
	return slices.Equal(r.Ranges, o.Ranges) && maps.Equal(r.Metadata, o.Metadata)
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	return Result{
		Ranges:   slices.Clone(r.Ranges),
		Metadata: maps.Clone(r.Metadata),
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Params is the full parameter set of one analysis. Every field takes part in
// the cache fingerprint.
type Params struct {
	Threshold            float64 `json:"threshold"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms"`
	SpeechPadMs          int     `json:"speech_pad_ms"`
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.Threshold) || p.Threshold <= 0 || p.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0, 1), got %g", p.Threshold)
	}
	if p.MinSpeechDurationMs < 0 {
		return fmt.Errorf("min_speech_duration_ms must be >= 0, got %d", p.MinSpeechDurationMs)
	}
	if p.MinSilenceDurationMs < 0 {
		return fmt.Errorf("min_silence_duration_ms must be >= 0, got %d", p.MinSilenceDurationMs)
	}
	if p.SpeechPadMs < 0 {
		return fmt.Errorf("speech_pad_ms must be >= 0, got %d", p.SpeechPadMs)
	}
	return nil
}
