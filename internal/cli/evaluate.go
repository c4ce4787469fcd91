package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"structure-signals/internal/app"
)

var (
	evaluateSymbol string
	evaluateJSON   bool

	replaySymbol string
	replayBars   int
	replayCSV    string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate current structure for one instrument without publishing",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.EvaluateOptions{
			Symbol: evaluateSymbol,
			JSON:   evaluateJSON,
		}
		return getApp().Evaluate(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Walk historical candles forward through the signal lifecycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayBars <= 0 {
			return fmt.Errorf("--bars must be greater than zero")
		}
		opts := app.ReplayOptions{
			Symbol: replaySymbol,
			Bars:   replayBars,
			CSV:    replayCSV,
		}
		return getApp().Replay(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateSymbol, "symbol", "", "Instrument symbol (defaults to the first configured)")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the analysis as JSON")

	replayCmd.Flags().StringVar(&replaySymbol, "symbol", "", "Instrument symbol (defaults to the first configured)")
	replayCmd.Flags().IntVar(&replayBars, "bars", 1000, "Number of historical candles to replay")
	replayCmd.Flags().StringVar(&replayCSV, "csv", "", "Optional path to write replayed candidates as CSV")
}
