package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func (a *app) anomalyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Session anomaly detection",
	}

	var days int
	scan := &cobra.Command{
		Use:   "scan IDENTITY",
		Short: "Scan one identity's sessions and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				window := days
				if window == 0 {
					window = rt.file.Anomaly.Runner.WindowDays
				}
				report, err := rt.engine.ScanAnomalies(ctx, args[0], window)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	scan.Flags().IntVar(&days, "days", 0, "Look-back window in days, defaults to anomaly.runner.window_days")
	cmd.AddCommand(scan)
	return cmd
}
