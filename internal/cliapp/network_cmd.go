package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/network"
)

func newNetworkCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "network",
		Short: "Manage the per-bubble egress allowlist",
	}

	root.AddCommand(&cobra.Command{
		Use:   "apply NAME",
		Short: "Apply the configured egress allowlist to a running bubble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := network.ValidateDomains(app.Config.Network.Allowlist); err != nil {
				return err
			}
			return network.Apply(cmd.Context(), app.RT, args[0], app.Config.Network.Allowlist)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove the egress allowlist from a bubble, restoring open network access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return network.Remove(cmd.Context(), app.RT, args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status NAME",
		Short: "Report whether the egress allowlist is active on a bubble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("active: %v\n", network.IsActive(cmd.Context(), app.RT, args[0]))
			return nil
		},
	})

	return root
}
