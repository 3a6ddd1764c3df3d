package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/remote"
)

func newRemoteCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "remote",
		Short: "Manage the default remote SSH host bubble self-deploys to",
	}

	root.AddCommand(&cobra.Command{
		Use:   "set-default HOST",
		Short: "Set the default remote host spec (e.g. user@host:port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := remote.ParseHost(args[0]); err != nil {
				return fmt.Errorf("invalid host spec: %w", err)
			}
			app.Config.Remote.DefaultHost = args[0]
			return config.Save(app.Paths.ConfigFile(), app.Config)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "clear-default",
		Short: "Clear the default remote host",
		RunE: func(_ *cobra.Command, _ []string) error {
			app.Config.Remote.DefaultHost = ""
			return config.Save(app.Paths.ConfigFile(), app.Config)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the default remote host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.Config.Remote.DefaultHost == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no default remote host set")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.Config.Remote.DefaultHost)
			return nil
		},
	})

	return root
}
