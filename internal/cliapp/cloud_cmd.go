package cliapp

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kim-em/bubble/internal/cloud"
	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/secrets"
)

func newCloudCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "cloud",
		Short: "Provision and control bubble's own cloud host",
	}

	var serverType, location, idleTimeout string
	provision := &cobra.Command{
		Use:   "provision",
		Short: "Create the cloud host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			st, err := c.Provision(cmd.Context(), serverType, location, idleTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (%s)\n", st.ServerName, st.IPv4)
			return nil
		},
	}
	provision.Flags().StringVar(&serverType, "type", "", "Hetzner server type (defaults to config, then cx43)")
	provision.Flags().StringVar(&location, "location", "", "Hetzner location (defaults to config, then fsn1)")
	provision.Flags().StringVar(&idleTimeout, "idle-timeout", "", "seconds of inactivity before auto-shutdown (default 900)")
	root.AddCommand(provision)

	root.AddCommand(&cobra.Command{
		Use:   "destroy",
		Short: "Delete the cloud host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			return c.Destroy(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Power off the cloud host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			return c.Stop(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Power on the cloud host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			return c.Start(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report the cloud host's state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			st, status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not provisioned")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", st.ServerName, status, st.IPv4)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "ssh",
		Short: "Open an interactive SSH session on the cloud host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cloudClient(app)
			if err != nil {
				return err
			}
			h, err := cloud.GetRemoteHost(cmd.Context(), c)
			if err != nil {
				return err
			}
			argv := h.SSHCmd(nil)
			sshCmd := exec.Command(argv[0], argv[1:]...)
			sshCmd.Stdin, sshCmd.Stdout, sshCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
			return sshCmd.Run()
		},
	})

	defaultCmd := &cobra.Command{
		Use:   "default [on|off]",
		Short: "Show or set whether `bubble open --cloud` is implied by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "default=%v\n", app.Config.Cloud.Default)
				return nil
			}
			switch args[0] {
			case "on":
				app.Config.Cloud.Default = true
			case "off":
				app.Config.Cloud.Default = false
			default:
				return fmt.Errorf("want \"on\" or \"off\", got %q", args[0])
			}
			return config.Save(app.Paths.ConfigFile(), app.Config)
		},
	}
	root.AddCommand(defaultCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored cloud provider API token",
	}
	tokenCmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Prompt for and store the cloud provider token in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("not a terminal; set HETZNER_TOKEN instead")
			}
			fmt.Fprint(cmd.OutOrStdout(), "Cloud provider token: ")
			tok, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			if len(tok) == 0 {
				return fmt.Errorf("empty token")
			}
			return secrets.Store(secrets.KeyCloudToken, string(tok))
		},
	})
	tokenCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored cloud provider token",
		RunE: func(_ *cobra.Command, _ []string) error {
			return secrets.Delete(secrets.KeyCloudToken)
		},
	})
	root.AddCommand(tokenCmd)

	return root
}
