package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/plugin"
)

// fakeExecutor records the last call and returns canned values.
type fakeExecutor struct {
	mu        sync.Mutex
	gotPath   string
	gotParams analysis.Params
	gotForce  bool
	out       cache.Outcome
	entry     cache.Entry
	found     bool
	err       error
}

func (f *fakeExecutor) ExecuteWith(_ context.Context, path string, params analysis.Params, force bool) (cache.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPath, f.gotParams, f.gotForce = path, params, force
	return f.out, f.err
}

func (f *fakeExecutor) Lookup(_ context.Context, path string, params analysis.Params) (cache.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPath, f.gotParams = path, params
	return f.entry, f.found, f.err
}

func (f *fakeExecutor) last() (string, analysis.Params, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotPath, f.gotParams, f.gotForce
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer serves exec on a loopback listener and returns a client
// and the raw connection.
func startTestServer(t *testing.T, exec Executor, cfg config.Config) (*Client, *grpc.ClientConn) {
	t.Helper()

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	grpcServer := grpc.NewServer(grpc.MaxRecvMsgSize(MaxRequestBytes))
	RegisterAnalysisServiceServer(grpcServer, New(exec, cfg, quietLogger()))
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		grpcServer.Stop()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
	})
	return NewClient(conn), conn
}

func sampleOutcome() cache.Outcome {
	return cache.Outcome{
		Key:        cache.Fingerprint("id", config.Default().Params(), "energy-rms-v1"),
		Resolution: cache.ResolutionHit,
		CreatedAt:  time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC),
		Result: analysis.Result{
			Ranges: []analysis.SpeechRange{
				{Start: 0.47, End: 1.53, Confidence: 0.9876543210123},
				{Start: 1.97, End: 2.53, Confidence: 1},
			},
			Metadata: map[string]float64{analysis.MetaTotalSpeech: 1.62, analysis.MetaSegmentCount: 2},
		},
	}
}

func TestAnalyzeAppliesOverrides(t *testing.T) {
	fe := &fakeExecutor{out: sampleOutcome()}
	cfg := config.Default()
	client, _ := startTestServer(t, fe, cfg)

	threshold, pad := 0.7, 0
	resp, err := client.Analyze(context.Background(), AnalyzeRequest{
		Path:   "/audio/a.wav",
		Force:  true,
		Params: ParamOverrides{Threshold: &threshold, SpeechPadMs: &pad},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := cfg.Params()
	want.Threshold = 0.7
	want.SpeechPadMs = 0
	if path, params, force := fe.last(); params != want || path != "/audio/a.wav" || !force {
		t.Errorf("executor got %q %+v force=%v, want %+v force=true", path, params, force, want)
	}

	exp := sampleOutcome()
	if resp.Key != exp.Key || resp.Resolution != exp.Resolution || !resp.CreatedAt.Equal(exp.CreatedAt) {
		t.Errorf("header = %s/%s/%v", resp.Key, resp.Resolution, resp.CreatedAt)
	}
	if !resp.Result.Equal(exp.Result) {
		t.Errorf("result changed on the wire:\n got %+v\nwant %+v", resp.Result, exp.Result)
	}
}

func TestAnalyzeUsesDefaults(t *testing.T) {
	fe := &fakeExecutor{out: sampleOutcome()}
	cfg := config.Default()
	cfg.Threshold = 0.42
	client, _ := startTestServer(t, fe, cfg)

	if _, err := client.Analyze(context.Background(), AnalyzeRequest{Path: "/audio/a.wav"}); err != nil {
		t.Fatal(err)
	}
	if _, params, force := fe.last(); params != cfg.Params() || force {
		t.Errorf("executor got %+v force=%v, want defaults %+v", params, force, cfg.Params())
	}
}

func TestAnalyzeInvalidRequests(t *testing.T) {
	fe := &fakeExecutor{out: sampleOutcome()}
	_, conn := startTestServer(t, fe, config.Default())

	cases := map[string]map[string]any{
		"missing path":      {"force": true},
		"path not string":   {"path": 3},
		"force not bool":    {"path": "/a.wav", "force": "yes"},
		"unknown field":     {"path": "/a.wav", "threshold": 0.5},
		"params not object": {"path": "/a.wav", "params": 0.5},
		"unknown param":     {"path": "/a.wav", "params": map[string]any{"window_ms": 32}},
		"fractional ms":     {"path": "/a.wav", "params": map[string]any{"min_speech_duration_ms": 12.5}},
		"threshold range":   {"path": "/a.wav", "params": map[string]any{"threshold": 1.5}},
		"negative pad":      {"path": "/a.wav", "params": map[string]any{"speech_pad_ms": -10}},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			in, err := structpb.NewStruct(fields)
			if err != nil {
				t.Fatal(err)
			}
			err = conn.Invoke(context.Background(), analyzeMethod, in, new(structpb.Struct))
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("code = %v (%v), want InvalidArgument", status.Code(err), err)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	key := cache.Key("k")
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: /a.wav", audio.ErrSourceNotFound), codes.NotFound},
		{fmt.Errorf("%w: threshold", cache.ErrInvalidParams), codes.InvalidArgument},
		{&cache.AnalysisError{Key: key, Err: errors.New("bad model")}, codes.FailedPrecondition},
		{&cache.StorageError{Key: key, Op: "get", Err: errors.New("refused")}, codes.Unavailable},
		{&cache.StorageError{Key: key, Op: "get", Err: fmt.Errorf("%w: checksum", cache.ErrCorrupt)}, codes.DataLoss},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("surprise"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			client, _ := startTestServer(t, &fakeExecutor{err: tc.err}, config.Default())
			_, err := client.Analyze(context.Background(), AnalyzeRequest{Path: "/a.wav"})
			if status.Code(err) != tc.want {
				t.Errorf("code = %v (%v), want %v", status.Code(err), err, tc.want)
			}
		})
	}
}

func TestLookupRPC(t *testing.T) {
	out := sampleOutcome()
	fe := &fakeExecutor{}
	client, _ := startTestServer(t, fe, config.Default())

	resp, err := client.Lookup(context.Background(), LookupRequest{Path: "/a.wav"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Found {
		t.Errorf("absent entry reported as found: %+v", resp)
	}

	fe.mu.Lock()
	fe.found = true
	fe.entry = cache.Entry{Key: out.Key, Result: out.Result, CreatedAt: out.CreatedAt}
	fe.mu.Unlock()

	resp, err = client.Lookup(context.Background(), LookupRequest{Path: "/a.wav"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Key != out.Key || !resp.Result.Equal(out.Result) {
		t.Errorf("lookup = %+v, want %+v", resp, out)
	}
}

func TestEndToEndWithPlugin(t *testing.T) {
	cfg := config.Default()
	cfg.Engine = "energy"
	cfg.Store = config.StoreMemory

	p := plugin.New(plugin.WithLogger(quietLogger()), plugin.WithRegisterer(prometheus.NewRegistry()))
	if err := p.Initialize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Cleanup() })
	client, _ := startTestServer(t, p, cfg)

	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := audio.WriteBurstsWAV(path, []audio.Burst{
		{Duration: 500 * time.Millisecond},
		{Duration: time.Second, Voiced: true},
		{Duration: 500 * time.Millisecond},
	}, audio.TargetSampleRate); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	cold, err := client.Analyze(ctx, AnalyzeRequest{Path: path, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if cold.Resolution != cache.ResolutionRecomputed || len(cold.Result.Ranges) != 1 {
		t.Fatalf("cold = %s with %d ranges", cold.Resolution, len(cold.Result.Ranges))
	}
	warm, err := client.Analyze(ctx, AnalyzeRequest{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if warm.Resolution != cache.ResolutionHit || !warm.Result.Equal(cold.Result) {
		t.Errorf("warm = %s, equal %v", warm.Resolution, warm.Result.Equal(cold.Result))
	}

	if _, err := client.Analyze(ctx, AnalyzeRequest{Path: filepath.Join(t.TempDir(), "nope.wav")}); status.Code(err) != codes.NotFound {
		t.Errorf("missing file: code = %v", status.Code(err))
	}
}
