package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/config"
)

var validEditors = map[string]bool{"vscode": true, "shell": true, "emacs": true, "neovim": true}

func newEditorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "editor [CHOICE]",
		Short: "Show or set the default editor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), app.Config.Editor)
				return nil
			}
			choice := args[0]
			if !validEditors[choice] {
				return fmt.Errorf("unknown editor %q (want one of vscode, shell, emacs, neovim)", choice)
			}
			app.Config.Editor = choice
			return config.Save(app.Paths.ConfigFile(), app.Config)
		},
	}
}
