package main

import (
	"github.com/spf13/cobra"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
)

// parseWorkerCmd is re-executed by parser.Isolated for one parse. It skips
// config loading; everything it needs arrives as flags.
var parseWorkerCmd = &cobra.Command{
	Use:               parser.WorkerCommand,
	Hidden:            true,
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	PersistentPostRun: func(*cobra.Command, []string) {},
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		limits := parser.Limits{}
		limits.MaxRows, _ = cmd.Flags().GetInt("max-rows")
		limits.MaxCells, _ = cmd.Flags().GetInt("max-cells")
		limits.MaxChars, _ = cmd.Flags().GetInt("max-chars")
		return parser.RunWorker(parser.Kind(kind), in, out, limits)
	},
}

func init() {
	def := parser.DefaultLimits()
	parseWorkerCmd.Flags().String("kind", "", "document kind (xlsx, docx)")
	parseWorkerCmd.Flags().String("in", "", "input document path")
	parseWorkerCmd.Flags().String("out", "", "result path")
	parseWorkerCmd.Flags().Int("max-rows", def.MaxRows, "row limit")
	parseWorkerCmd.Flags().Int("max-cells", def.MaxCells, "cell limit")
	parseWorkerCmd.Flags().Int("max-chars", def.MaxChars, "character limit")
	for _, f := range []string{"kind", "in", "out"} {
		_ = parseWorkerCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(parseWorkerCmd)
}
