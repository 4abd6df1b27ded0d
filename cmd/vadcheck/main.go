// Command vadcheck exercises the analysis cache end to end: one forced
// analysis followed by a cached one, checked for identical ranges and a fast
// warm path.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version as provided by goreleaser.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vadcheck",
		Short:         "Verify cached VAD analysis of audio files",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newCheckCmd(), newSynthCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
