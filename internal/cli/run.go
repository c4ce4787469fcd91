package cli

import (
	"github.com/spf13/cobra"

	"structure-signals/internal/app"
)

var runWorkers []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the producer, monitor and sweeper workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), runWorkers)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runWorkers, "workers", app.AllWorkers, "Workers to run in this process (producer, monitor, sweeper)")
}
