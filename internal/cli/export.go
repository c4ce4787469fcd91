package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"structure-signals/internal/app"
)

var (
	exportFrom    string
	exportTo      string
	exportPNGPath string
	exportCSVPath string
	exportMaxRows int

	migrateDir string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export candidates as CSV and/or a cumulative pips chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxRows: exportMaxRows,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), cmd.OutOrStdout(), migrateDir)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum candidates to export (defaults to config)")

	migrateCmd.Flags().StringVar(&migrateDir, "dir", "", "Migrations directory (defaults to database.migrations_path)")
}
