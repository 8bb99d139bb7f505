package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/launch"
	"github.com/spf13/cobra"
)

var errLaunchSyncDisabled = errors.New("launch.sync is disabled; a change from the CLI would not reach running servers")

func (a *app) launchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Inspect and change the shared launch mode",
	}
	cmd.AddCommand(a.launchGetCommand(), a.launchSetCommand(), a.launchPromoteCommand())
	return cmd
}

func (a *app) launchGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current launch mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.LoadLaunchMode(ctx); err != nil {
					return err
				}
				return printMode(cmd.OutOrStdout(), rt.engine.LaunchMode())
			})
		},
	}
}

func (a *app) launchSetCommand() *cobra.Command {
	var (
		canary     bool
		percentage int
		emergency  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change fields of the launch mode",
		Long: `Change fields of the shared launch mode. Only flags that are given change.

      $ trustplane launch set --canary --percentage=5
      $ trustplane launch set --emergency=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var update trustplane.LaunchUpdate
			flags := cmd.Flags()
			if flags.Changed("canary") {
				update.Canary = &canary
			}
			if flags.Changed("percentage") {
				update.TrafficPercentage = &percentage
			}
			if flags.Changed("emergency") {
				update.EmergencyMode = &emergency
			}
			if update.Canary == nil && update.TrafficPercentage == nil && update.EmergencyMode == nil {
				return errors.New("nothing to change: pass --canary, --percentage or --emergency")
			}

			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if !rt.file.Launch.Sync {
					return errLaunchSyncDisabled
				}
				mode, err := rt.engine.SetLaunchMode(ctx, update)
				if err != nil {
					return err
				}
				return printMode(cmd.OutOrStdout(), mode)
			})
		},
	}
	cmd.Flags().BoolVar(&canary, "canary", false, "Enable canary gating")
	cmd.Flags().IntVar(&percentage, "percentage", 0, "Share of traffic admitted while canary is on (0-100)")
	cmd.Flags().BoolVar(&emergency, "emergency", false, "Enable emergency degrade on eligible routes")
	return cmd
}

func (a *app) launchPromoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Move the canary to the next rollout step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if !rt.file.Launch.Sync {
					return errLaunchSyncDisabled
				}
				if err := rt.engine.LoadLaunchMode(ctx); err != nil {
					return err
				}
				mode, err := rt.engine.PromoteCanary(ctx)
				if err != nil {
					return err
				}
				return printMode(cmd.OutOrStdout(), mode)
			})
		},
	}
}

func printMode(w io.Writer, mode launch.Mode) error {
	return writeJSON(w, mode)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
