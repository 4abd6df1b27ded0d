package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
)

const defaultPattern = "-500ms +1s -400ms +600ms -500ms"

func newSynthCmd() *cobra.Command {
	var (
		pattern string
		rate    int
	)
	cmd := &cobra.Command{
		Use:   "synth <out.wav>",
		Short: "Write a synthetic WAV file with known speech bursts",
		Long: "Write a 16-bit mono WAV file built from a burst pattern. Each token is a\n" +
			"duration prefixed with + for a voiced tone or - for silence.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bursts, err := parsePattern(pattern)
			if err != nil {
				return err
			}
			if rate <= 0 {
				return fmt.Errorf("--rate must be positive, got %d", rate)
			}
			if err := audio.WriteBurstsWAV(args[0], bursts, rate); err != nil {
				return err
			}
			var total time.Duration
			for _, b := range bursts {
				total += b.Duration
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d Hz, %d bursts)\n", args[0], total, rate, len(bursts))
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", defaultPattern, "burst pattern, e.g. \"-500ms +1s -400ms\"")
	cmd.Flags().IntVar(&rate, "rate", 44100, "sample rate in Hz")
	return cmd
}

func parsePattern(s string) ([]audio.Burst, error) {
	var bursts []audio.Burst
	for _, tok := range strings.Fields(s) {
		if len(tok) < 2 || (tok[0] != '+' && tok[0] != '-') {
			return nil, fmt.Errorf("invalid burst %q: want +<duration> or -<duration>", tok)
		}
		d, err := time.ParseDuration(tok[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid burst %q: %w", tok, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid burst %q: duration must be positive", tok)
		}
		bursts = append(bursts, audio.Burst{Duration: d, Voiced: tok[0] == '+'})
	}
	if len(bursts) == 0 {
		return nil, fmt.Errorf("empty burst pattern")
	}
	return bursts, nil
}
