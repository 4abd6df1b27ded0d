package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
)

func goodRun(res cache.Resolution, elapsed time.Duration) run {
	return run{
		Key:        cache.Key(strings.Repeat("ab", 32)),
		Resolution: res,
		Elapsed:    elapsed,
		Result: analysis.Result{
			Ranges: []analysis.SpeechRange{{Start: 0.5, End: 1.5, Confidence: 0.9}},
			Metadata: map[string]float64{
				analysis.MetaTotalSpeech:  1,
				analysis.MetaSegmentCount: 1,
			},
		},
	}
}

func TestParsePattern(t *testing.T) {
	bursts, err := parsePattern(defaultPattern)
	if err != nil {
		t.Fatal(err)
	}
	if len(bursts) != 5 {
		t.Fatalf("got %d bursts, want 5", len(bursts))
	}
	if bursts[1].Duration != time.Second || !bursts[1].Voiced || bursts[0].Voiced {
		t.Errorf("bursts = %+v", bursts)
	}

	for _, bad := range []string{"", "500ms", "+", "+abc", "-0s", "*1s"} {
		if _, err := parsePattern(bad); err == nil {
			t.Errorf("parsePattern(%q) succeeded, want error", bad)
		}
	}
}

func TestVerify(t *testing.T) {
	if p := verify(goodRun(cache.ResolutionRecomputed, time.Second), goodRun(cache.ResolutionHit, time.Millisecond), 100*time.Millisecond); len(p) != 0 {
		t.Fatalf("good runs reported problems: %v", p)
	}

	cases := map[string]func(cold, warm *run){
		"no ranges": func(cold, warm *run) {
			cold.Result = analysis.Result{Metadata: map[string]float64{analysis.MetaTotalSpeech: 0}}
			warm.Result = cold.Result
		},
		"total mismatch": func(cold, _ *run) {
			cold.Result.Metadata = map[string]float64{analysis.MetaTotalSpeech: 2}
		},
		"missing total": func(_, warm *run) {
			warm.Result.Metadata = map[string]float64{}
		},
		"ranges differ": func(_, warm *run) {
			warm.Result.Ranges = []analysis.SpeechRange{{Start: 0.5, End: 1.5, Confidence: 0.8}}
		},
		"not a hit": func(_, warm *run) {
			warm.Resolution = cache.ResolutionComputed
		},
		"slow warm": func(_, warm *run) {
			warm.Elapsed = 150 * time.Millisecond
		},
		"keys differ": func(_, warm *run) {
			warm.Key = cache.Key(strings.Repeat("cd", 32))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cold, warm := goodRun(cache.ResolutionRecomputed, time.Second), goodRun(cache.ResolutionHit, time.Millisecond)
			mutate(&cold, &warm)
			if p := verify(cold, warm, 100*time.Millisecond); len(p) == 0 {
				t.Error("no problem reported")
			}
		})
	}
}

func TestRunCheckPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	analyze := func(context.Context, string, bool) (run, error) { return run{}, boom }
	var out bytes.Buffer
	err := runCheck(context.Background(), &out, analyze, "x.wav", checkOptions{maxWarm: time.Second})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestSynthThenCheckInProcess(t *testing.T) {
	t.Setenv("NUPI_VAD_ENGINE", "energy")
	t.Setenv("NUPI_VAD_CACHE_STORE", "disk")
	t.Setenv("NUPI_VAD_CACHE_DIR", t.TempDir())

	path := filepath.Join(t.TempDir(), "speech.wav")

	var synthOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&synthOut)
	root.SetErr(&synthOut)
	root.SetArgs([]string{"synth", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("synth: %v\n%s", err, synthOut.String())
	}

	var out bytes.Buffer
	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"check", "--verbose", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("check: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "PASS") {
		t.Errorf("output has no PASS:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "resolution=hit") {
		t.Errorf("cached run not reported as a hit:\n%s", out.String())
	}
}
