package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"structure-signals/internal/app"
)

var (
	showLimit   int
	closePrice  string
	closeReason string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent published candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Display a candidate and its lifecycle events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Force-close a stuck candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CloseOptions{
			ID:     args[0],
			Price:  closePrice,
			Reason: closeReason,
		}
		return getApp().Close(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of candidates to display")

	closeCmd.Flags().StringVar(&closePrice, "price", "", "Exit price recorded for an ENTRY_HIT candidate")
	closeCmd.Flags().StringVar(&closeReason, "reason", "", "Reason stored with the lifecycle event")
}
