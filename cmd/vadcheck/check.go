package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/plugin"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/server"
)

// run is one analysis as seen by the check, wherever it was served.
type run struct {
	Key        cache.Key
	Resolution cache.Resolution
	Result     analysis.Result
	Elapsed    time.Duration
}

type analyzeFunc func(ctx context.Context, path string, force bool) (run, error)

type checkOptions struct {
	addr      string
	timeout   time.Duration
	maxWarm   time.Duration
	verbose   bool
	overrides server.ParamOverrides
}

func newCheckCmd() *cobra.Command {
	var (
		opts       checkOptions
		threshold  float64
		minSpeech  int
		minSilence int
		pad        int
	)
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Analyze a file twice (forced, then cached) and verify the cache",
		Long: "Run a forced analysis followed by a cached one. The check passes when\n" +
			"speech was found, total_speech matches the ranges, both runs return\n" +
			"identical ranges and the cached run is a fast hit.\n\n" +
			"Without --addr the analysis runs in-process using the adapter's\n" +
			"NUPI_* environment configuration.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("threshold") {
				opts.overrides.Threshold = &threshold
			}
			if flags.Changed("min-speech") {
				opts.overrides.MinSpeechDurationMs = &minSpeech
			}
			if flags.Changed("min-silence") {
				opts.overrides.MinSilenceDurationMs = &minSilence
			}
			if flags.Changed("pad") {
				opts.overrides.SpeechPadMs = &pad
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var (
				analyze analyzeFunc
				closeFn func() error
				err     error
			)
			if opts.addr != "" {
				analyze, closeFn, err = remoteAnalyzer(opts)
			} else {
				analyze, closeFn, err = localAnalyzer(ctx, opts, cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			defer closeFn()

			return runCheck(ctx, cmd.OutOrStdout(), analyze, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "address of a running adapter; empty runs in-process")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline")
	f.DurationVar(&opts.maxWarm, "max-warm", 100*time.Millisecond, "upper bound for the cached run")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print every speech range")
	f.Float64Var(&threshold, "threshold", config.DefaultThreshold, "speech probability threshold")
	f.IntVar(&minSpeech, "min-speech", config.DefaultMinSpeechDurationMs, "minimum speech duration in ms")
	f.IntVar(&minSilence, "min-silence", config.DefaultMinSilenceDurationMs, "minimum silence duration in ms")
	f.IntVar(&pad, "pad", config.DefaultSpeechPadMs, "speech padding in ms")
	return cmd
}

// localAnalyzer runs the plugin in this process.
func localAnalyzer(ctx context.Context, opts checkOptions, logOut io.Writer) (analyzeFunc, func() error, error) {
	loaded, err := config.Loader{}.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg := loaded.Config
	if err := opts.overrides.Apply(&cfg); err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	for _, warn := range loaded.Warnings {
		logger.Warn(warn)
	}

	p := plugin.New(plugin.WithLogger(logger))
	if err := p.Initialize(ctx, cfg); err != nil {
		return nil, nil, err
	}
	params := cfg.Params()
	analyze := func(ctx context.Context, path string, force bool) (run, error) {
		start := time.Now()
		out, err := p.ExecuteWith(ctx, path, params, force)
		if err != nil {
			return run{}, err
		}
		return run{Key: out.Key, Resolution: out.Resolution, Result: out.Result, Elapsed: time.Since(start)}, nil
	}
	return analyze, p.Cleanup, nil
}

// remoteAnalyzer calls a running adapter over gRPC.
func remoteAnalyzer(opts checkOptions) (analyzeFunc, func() error, error) {
	conn, err := grpc.NewClient(opts.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", opts.addr, err)
	}
	client := server.NewClient(conn)
	analyze := func(ctx context.Context, path string, force bool) (run, error) {
		start := time.Now()
		resp, err := client.Analyze(ctx, server.AnalyzeRequest{Path: path, Force: force, Params: opts.overrides})
		if err != nil {
			return run{}, err
		}
		return run{Key: resp.Key, Resolution: resp.Resolution, Result: resp.Result, Elapsed: time.Since(start)}, nil
	}
	return analyze, conn.Close, nil
}

func runCheck(ctx context.Context, w io.Writer, analyze analyzeFunc, path string, opts checkOptions) error {
	cold, err := analyze(ctx, path, true)
	if err != nil {
		return fmt.Errorf("forced run: %w", err)
	}
	printRun(w, "forced", cold, opts.verbose)

	warm, err := analyze(ctx, path, false)
	if err != nil {
		return fmt.Errorf("cached run: %w", err)
	}
	printRun(w, "cached", warm, opts.verbose)

	problems := verify(cold, warm, opts.maxWarm)
	if len(problems) == 0 {
		fmt.Fprintln(w, "PASS")
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(w, "FAIL: %s\n", p)
	}
	return fmt.Errorf("%d check(s) failed", len(problems))
}

func printRun(w io.Writer, label string, r run, verbose bool) {
	fmt.Fprintf(w, "%-7s key=%s resolution=%s ranges=%d total_speech=%.3fs elapsed=%s\n",
		label, r.Key.Short(), r.Resolution, len(r.Result.Ranges),
		r.Result.Metadata[analysis.MetaTotalSpeech], r.Elapsed.Round(time.Microsecond))
	if !verbose {
		return
	}
	for i, sr := range r.Result.Ranges {
		fmt.Fprintf(w, "  [%d] %.3f-%.3f conf=%.3f\n", i, sr.Start, sr.End, sr.Confidence)
	}
}

// verify lists everything wrong with a forced run followed by a cached one.
func verify(cold, warm run, maxWarm time.Duration) []string {
	var problems []string
	if len(cold.Result.Ranges) == 0 {
		problems = append(problems, "no speech ranges detected")
	}
	for _, r := range []struct {
		label string
		run   run
	}{{"forced", cold}, {"cached", warm}} {
		total, ok := r.run.Result.Metadata[analysis.MetaTotalSpeech]
		if !ok {
			problems = append(problems, r.label+" run: metadata has no total_speech")
			continue
		}
		var sum float64
		for _, sr := range r.run.Result.Ranges {
			sum += sr.Duration()
		}
		if math.Abs(total-sum) > analysis.TotalSpeechTolerance {
			problems = append(problems, fmt.Sprintf("%s run: total_speech %.4f differs from summed ranges %.4f", r.label, total, sum))
		}
	}
	if cold.Key != warm.Key {
		problems = append(problems, fmt.Sprintf("keys differ: %s vs %s", cold.Key.Short(), warm.Key.Short()))
	}
	if !cold.Result.Equal(warm.Result) {
		problems = append(problems, "cached ranges differ from the forced run")
	}
	if warm.Resolution != cache.ResolutionHit {
		problems = append(problems, fmt.Sprintf("cached run resolution is %q, want %q", warm.Resolution, cache.ResolutionHit))
	}
	if warm.Elapsed >= maxWarm {
		problems = append(problems, fmt.Sprintf("cached run took %s, want under %s", warm.Elapsed, maxWarm))
	}
	return problems
}
