package cliapp

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// knownSubcommands are the first-level dispatch targets; anything else
// before the first flag is implicitly routed to "open" (spec.md §9).
var knownSubcommands = map[string]bool{
	"open": true, "list": true, "pause": true, "destroy": true,
	"cleanup": true, "doctor": true, "editor": true,
	"images": true, "git": true, "network": true, "automation": true,
	"relay": true, "remote": true, "cloud": true,
	"help": true, "completion": true,
}

// PreprocessArgs implements the implicit-default-subcommand dispatch:
// if the first argument is neither a flag nor a known subcommand name,
// "open" is prepended so `bubble myrepo` behaves like `bubble open
// myrepo`. Arguments that start with a flag are returned unchanged.
func PreprocessArgs(args []string) []string {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			break
		}
		if knownSubcommands[a] {
			return args
		}
		break
	}
	if len(args) == 0 {
		return args
	}
	if strings.HasPrefix(args[0], "-") {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, "open")
	out = append(out, args...)
	return out
}

// NewRootCmd builds the full bubble command tree against app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "bubble",
		Short:         "Provision isolated per-task container dev environments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			app.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}

	root.AddCommand(
		newOpenCmd(app),
		newListCmd(app),
		newPauseCmd(app),
		newDestroyCmd(app),
		newCleanupCmd(app),
		newDoctorCmd(app),
		newEditorCmd(app),
		newImagesCmd(app),
		newGitCmd(app),
		newNetworkCmd(app),
		newAutomationCmd(app),
		newRelayCmd(app),
		newRemoteCmd(app),
		newCloudCmd(app),
	)
	return root
}
