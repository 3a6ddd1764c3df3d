package cliapp

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/automation"
)

func newAutomationCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "automation",
		Short: "Install periodic git-update and image-refresh jobs",
	}

	root.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the periodic jobs for this platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			installed, err := automation.Install()
			if err != nil {
				return err
			}
			for _, line := range installed {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Remove the periodic jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := automation.Remove()
			if err != nil {
				return err
			}
			for _, line := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report which periodic jobs are installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := automation.Status()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(status))
			for name := range status {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s installed=%v\n", name, status[name])
			}
			return nil
		},
	})

	return root
}
