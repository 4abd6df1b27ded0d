package analysis

import (
	"math"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/engine"
)

// boundaryDetector applies hysteresis to thresholded frames: speech starts
// after minSpeechFrames consecutive speech frames and ends after
// minSilenceFrames consecutive silence frames.
type boundaryDetector struct {
	inSpeech      bool
	speechFrames  int
	silenceFrames int

	minSpeechFrames  int
	minSilenceFrames int
}

func newBoundaryDetector(p Params, frameDurationMs int) *boundaryDetector {
	return &boundaryDetector{
		minSpeechFrames:  max(1, ceilDiv(p.MinSpeechDurationMs, frameDurationMs)),
		minSilenceFrames: max(1, ceilDiv(p.MinSilenceDurationMs, frameDurationMs)),
	}
}

// ceilDiv returns the ceiling of a/b for non-negative a and positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// process consumes one frame. On a transition it also returns the length of
// the run that caused it, so callers can locate the run's first frame.
func (bd *boundaryDetector) process(isSpeech bool) (started, ended bool, runLen int) {
	if isSpeech {
		bd.speechFrames++
		bd.silenceFrames = 0
		if !bd.inSpeech && bd.speechFrames >= bd.minSpeechFrames {
			bd.inSpeech = true
			return true, false, bd.speechFrames
		}
		return false, false, 0
	}
	bd.silenceFrames++
	bd.speechFrames = 0
	if bd.inSpeech && bd.silenceFrames >= bd.minSilenceFrames {
		bd.inSpeech = false
		return false, true, bd.silenceFrames
	}
	return false, false, 0
}

// frameSpan is a half-open range of frame indexes.
type frameSpan struct {
	from, to int
}

// Segment folds per-frame engine results into speech ranges. A range starts
// at the first frame of the speech run that triggered onset and ends at the
// first frame of the silence run that triggered offset. Ranges are then
// padded by SpeechPadMs on both sides, clamped to [0, duration] and merged
// where the padding makes them overlap. Confidence is the mean frame
// confidence across the unpadded frames of the range.
func Segment(frames []engine.Result, frameDurationMs int, p Params, duration float64) Result {
	var spans []frameSpan
	if frameDurationMs > 0 {
		bd := newBoundaryDetector(p, frameDurationMs)
		start := 0
		for i, f := range frames {
			started, ended, run := bd.process(f.IsSpeech)
			switch {
			case started:
				start = i - run + 1
			case ended:
				spans = append(spans, frameSpan{from: start, to: i - run + 1})
			}
		}
		if bd.inSpeech {
			spans = append(spans, frameSpan{from: start, to: len(frames)})
		}
	}

	frameSec := float64(frameDurationMs) / 1000
	pad := float64(p.SpeechPadMs) / 1000

	type pending struct {
		span       frameSpan
		start, end float64
	}
	var merged []pending
	for _, sp := range spans {
		start := math.Max(0, float64(sp.from)*frameSec-pad)
		end := math.Min(duration, float64(sp.to)*frameSec+pad)
		if end <= start {
			continue
		}
		if n := len(merged); n > 0 && start <= merged[n-1].end {
			last := &merged[n-1]
			last.end = math.Max(last.end, end)
			last.span.to = sp.to
			continue
		}
		merged = append(merged, pending{span: sp, start: start, end: end})
	}

	res := Result{
		Ranges:   make([]SpeechRange, 0, len(merged)),
		Metadata: make(map[string]float64, 4),
	}
	var total float64
	for _, m := range merged {
		rg := SpeechRange{
			Start:      m.start,
			End:        m.end,
			Confidence: meanConfidence(frames[m.span.from:m.span.to]),
		}
		res.Ranges = append(res.Ranges, rg)
		total += rg.Duration()
	}

	res.Metadata[MetaTotalSpeech] = total
	res.Metadata[MetaAudioDuration] = duration
	res.Metadata[MetaSegmentCount] = float64(len(res.Ranges))
	if duration > 0 {
		res.Metadata[MetaSpeechRatio] = total / duration
	} else {
		res.Metadata[MetaSpeechRatio] = 0
	}
	return res
}

func meanConfidence(frames []engine.Result) float64 {
	if len(frames) == 0 {
		return 0
	}
	var sum float64
	for _, f := range frames {
		sum += float64(f.Confidence)
	}
	return math.Min(1, math.Max(0, sum/float64(len(frames))))
}
