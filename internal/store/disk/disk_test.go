package disk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
)

var params = analysis.Params{Threshold: 0.5, MinSpeechDurationMs: 250, MinSilenceDurationMs: 100, SpeechPadMs: 30}

func entry(id string, conf float64) cache.Entry {
	return cache.Entry{
		Key: cache.Fingerprint(id, params, "energy"),
		Result: analysis.Result{
			Ranges:   []analysis.SpeechRange{{Start: 0.47, End: 1.53, Confidence: conf}},
			Metadata: map[string]float64{analysis.MetaTotalSpeech: 1.06, analysis.MetaAudioDuration: 3},
		},
		CreatedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func openStore(t *testing.T, dir string, level int) *Store {
	t.Helper()
	s, err := Open(dir, level)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	for _, level := range []int{0, 3} {
		s := openStore(t, t.TempDir(), level)
		ctx := context.Background()
		e := entry("a", 0.9)

		if _, err := s.Get(ctx, e.Key); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("level %d: Get before Put: err = %v, want ErrNotFound", level, err)
		}
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("level %d: Put: %v", level, err)
		}
		got, err := s.Get(ctx, e.Key)
		if err != nil {
			t.Fatalf("level %d: Get: %v", level, err)
		}
		if !got.Result.Equal(e.Result) || !got.CreatedAt.Equal(e.CreatedAt) {
			t.Errorf("level %d: got %+v, want %+v", level, got, e)
		}

		raw, err := os.ReadFile(filepath.Join(s.Dir(), string(e.Key[:2]), string(e.Key)+entryExt))
		if err != nil {
			t.Fatal(err)
		}
		if compressed := bytes.HasPrefix(raw, zstdMagic); compressed != (level > 0) {
			t.Errorf("level %d: compressed = %v", level, compressed)
		}
	}
}

func TestPersistsAcrossReopenAndLevels(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e := entry("a", 0.9)

	w := openStore(t, dir, 19)
	if err := w.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	r := openStore(t, dir, 0)
	got, err := r.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get from reopened store: %v", err)
	}
	if !got.Result.Equal(e.Result) {
		t.Errorf("got %+v, want %+v", got.Result, e.Result)
	}
}

func TestOverwrite(t *testing.T) {
	s := openStore(t, t.TempDir(), 3)
	ctx := context.Background()
	if err := s.Put(ctx, entry("a", 0.5)); err != nil {
		t.Fatal(err)
	}
	newer := entry("a", 0.75)
	if err := s.Put(ctx, newer); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, newer.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result.Ranges[0].Confidence != 0.75 {
		t.Errorf("confidence = %g, want 0.75", got.Result.Ranges[0].Confidence)
	}

	files, err := filepath.Glob(filepath.Join(s.Dir(), "*", "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || strings.HasSuffix(files[0], ".tmp") {
		t.Errorf("files after overwrite = %v, want one entry file", files)
	}
}

func TestCorruptFile(t *testing.T) {
	cases := map[string][]byte{
		"garbage":    []byte("}{"),
		"bad zstd":   append(append([]byte{}, zstdMagic...), 0xde, 0xad, 0xbe, 0xef),
		"empty file": {},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			s := openStore(t, t.TempDir(), 3)
			e := entry("a", 0.9)
			if err := s.Put(context.Background(), e); err != nil {
				t.Fatal(err)
			}
			path, _ := s.path(e.Key)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get(context.Background(), e.Key); !errors.Is(err, cache.ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestEntryUnderWrongKey(t *testing.T) {
	s := openStore(t, t.TempDir(), 0)
	a, b := entry("a", 0.9), entry("b", 0.9)
	if err := s.Put(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	src, _ := s.path(a.Key)
	dst, _ := s.path(b.Key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), b.Key); !errors.Is(err, cache.ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestMalformedKey(t *testing.T) {
	s := openStore(t, t.TempDir(), 0)
	if _, err := s.Get(context.Background(), "../../etc/passwd"); err == nil || errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Get with traversal key: err = %v", err)
	}
	e := entry("a", 0.9)
	e.Key = "short"
	if err := s.Put(context.Background(), e); err == nil {
		t.Error("Put with malformed key succeeded")
	}
}

func TestConcurrentReadersSeeWholeEntries(t *testing.T) {
	s := openStore(t, t.TempDir(), 3)
	ctx := context.Background()
	key := entry("a", 0.1).Key
	if err := s.Put(ctx, entry("a", 0.1)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if err := s.Put(ctx, entry("a", float64(i%10)/10)); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for range 200 {
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("reader saw a partial entry: %v", err)
		}
	}
}
