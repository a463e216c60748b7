package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/nvoverlay/nvoverlay"
	"github.com/sarchlab/nvoverlay/tracer"
)

var (
	repackIn    string
	repackOut   string
	repackCores int
)

var repackCmd = &cobra.Command{
	Use:   "repack",
	Short: "Rewrite a trace with dense serial numbers",
	Long: `repack replays the memory events of a trace into a fresh set of
stream files, dropping instruction and cycle markers and reassigning dense
serials. Useful after trimming or concatenating traces by hand.`,
	Run: func(cmd *cobra.Command, args []string) {
		reader := tracer.NewReader(repackIn, repackCores)
		defer reader.Close()

		writer := tracer.NewWriter(repackOut, repackCores)
		defer writer.Close()

		_, count := nvoverlay.Run(reader, writer)
		fmt.Printf("Repacked %d events into %s\n", count, repackOut)
	},
}

func init() {
	repackCmd.Flags().StringVar(&repackIn, "in", "", "input trace base path")
	repackCmd.Flags().StringVar(&repackOut, "out", "",
		"output trace base path")
	repackCmd.Flags().IntVar(&repackCores, "cores", 1,
		"number of per-core streams")
	_ = repackCmd.MarkFlagRequired("in")
	_ = repackCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(repackCmd)
}
