// Command nvoverlay runs trace-driven simulations of the NVM snapshot
// engine.
package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var rootCmd = &cobra.Command{
	Use: "nvoverlay",
	Short: "Trace-driven simulator of coherence-driven multi-versioned " +
		"NVM snapshots",
	Long: `nvoverlay consumes per-core memory event traces and maintains, at
cache-line granularity, the version history needed to reconstruct any
epoch-aligned snapshot of the working set from the modeled NVM image.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
