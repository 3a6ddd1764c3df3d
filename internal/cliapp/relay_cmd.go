package cliapp

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/automation"
	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/relay"
)

func newRelayCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Control the bubble-in-bubble relay daemon",
	}

	root.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Enable the relay in config and install its background service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app.Config.Relay.Enabled = true
			if err := config.Save(app.Paths.ConfigFile(), app.Config); err != nil {
				return err
			}
			desc, err := automation.InstallRelay()
			if err != nil {
				return err
			}
			if desc != "" {
				fmt.Fprintln(cmd.OutOrStdout(), desc)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable the relay in config and remove its background service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app.Config.Relay.Enabled = false
			if err := config.Save(app.Paths.ConfigFile(), app.Config); err != nil {
				return err
			}
			desc, err := automation.RemoveRelay()
			if err != nil {
				return err
			}
			if desc != "" {
				fmt.Fprintln(cmd.OutOrStdout(), desc)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the relay is enabled and its transport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "enabled=%v port=%d\n", app.Config.Relay.Enabled, app.Config.Relay.Port)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "daemon",
		Short: "Run the relay accept loop in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			selfPath, err := os.Executable()
			if err != nil {
				return err
			}
			d := relay.NewDaemon(
				app.Paths.RelaySock(), app.Paths.RelayPortFile(), app.Paths.RelayTokens(), app.Paths.RelayLog(),
				app.Store, app.Repos, app.Logger,
			)
			d.Dispatch = relay.DefaultDispatch(selfPath)
			ln, err := d.Listen()
			if err != nil {
				return fmt.Errorf("starting relay listener: %w", err)
			}
			defer ln.Close()
			app.Logger.Info("relay daemon listening")
			return d.Serve(cmd.Context(), ln)
		},
	})

	return root
}
