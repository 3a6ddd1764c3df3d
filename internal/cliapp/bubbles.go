package cliapp

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/clean"
	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/lakecache"
	"github.com/kim-em/bubble/internal/relay"
	"github.com/kim-em/bubble/internal/runtime"
)

// removeRelayToken drops name's relay token(s), if relay is enabled,
// so a destroyed container's token can't be replayed against the
// daemon afterwards.
func removeRelayToken(app *App, name string) {
	if !app.Config.Relay.Enabled {
		return
	}
	if err := relay.RemoveToken(app.Paths.RelayTokens(), name); err != nil {
		app.Logger.Warn("removing relay token failed", "name", name, "error", err)
	}
}

// snapshotLakeCache archives a Lean bubble's .lake directory into the
// durable snapshot cache before it's destroyed, so a later bubble for
// the same repo+toolchain can skip rebuilding it (the live shared
// mount a running Lean bubble uses is lost once the container is
// gone, see internal/hooks.LeanHook.SharedMounts).
func snapshotLakeCache(ctx context.Context, app *App, name string) {
	info, ok := app.Lifecycle.Get(name)
	if !ok || info.BaseImage != "lean" {
		return
	}
	repoShort := config.RepoShortName(info.OrgRepo)
	projectDir := "/home/user/" + repoShort
	lakeDir := filepath.Join(app.Paths.DataDir, "lake-snapshots")
	if err := lakecache.Populate(ctx, app.RT, name, projectDir, lakeDir, repoShort); err != nil {
		app.Logger.Warn("lake cache snapshot failed", "name", name, "error", err)
	}
}

// stateColor returns the fatih/color SprintFunc for a container state,
// or a no-op formatter when stdout isn't a terminal.
func stateColor(s runtime.State) func(a ...any) string {
	if !stdoutIsTerminal() {
		return fmt.Sprint
	}
	switch s {
	case runtime.StateRunning:
		return color.New(color.FgGreen).SprintFunc()
	case runtime.StateFrozen:
		return color.New(color.FgYellow).SprintFunc()
	case runtime.StateStopped:
		return color.New(color.FgRed).SprintFunc()
	default:
		return fmt.Sprint
	}
}

func newListCmd(app *App) *cobra.Command {
	var asJSON, verbose, cleanCheck bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known bubbles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			containers, err := app.RT.ListContainers(cmd.Context(), !cleanCheck)
			if err != nil {
				return err
			}
			sort.Slice(containers, func(i, j int) bool { return containers[i].Name < containers[j].Name })

			type row struct {
				Name  string `json:"name"`
				State string `json:"state"`
				Info  any    `json:"info,omitempty"`
				Clean string `json:"clean,omitempty"`
			}
			var rows []row
			for _, c := range containers {
				r := row{Name: c.Name, State: string(c.State)}
				if verbose || asJSON {
					if info, ok := app.Lifecycle.Get(c.Name); ok {
						r.Info = info
					}
				}
				if cleanCheck && c.State == runtime.StateRunning {
					r.Clean = clean.Check(cmd.Context(), app.RT, app.Lifecycle, c.Name).Summary()
				}
				rows = append(rows, r)
			}

			if asJSON {
				return printJSON(cmd, rows)
			}
			for _, r := range rows {
				line := fmt.Sprintf("%-30s %s", r.Name, stateColor(runtime.State(r.State))(r.State))
				if r.Clean != "" {
					line += " (" + r.Clean + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit a JSON array instead of a table")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include registered bubble metadata")
	cmd.Flags().BoolVarP(&cleanCheck, "clean", "c", false, "run the clean-state check on every running bubble")
	return cmd
}

func newPauseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause NAME",
		Short: "Freeze a running bubble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RT.Freeze(cmd.Context(), args[0])
		},
	}
}

func newDestroyCmd(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "destroy NAME",
		Short: "Delete a bubble and its registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !force {
				if !confirm(cmd, fmt.Sprintf("destroy %q?", name)) {
					return errAborted
				}
			}
			snapshotLakeCache(cmd.Context(), app, name)
			if err := app.RT.Delete(cmd.Context(), name, force); err != nil {
				return err
			}
			removeRelayToken(app, name)
			return app.Lifecycle.Unregister(name)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation and force-delete the container")
	return cmd
}

func newCleanupCmd(app *App) *cobra.Command {
	var dryRun, force, all bool
	var ageDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Destroy bubbles whose clean-state check passes (or are stale)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			containers, err := app.RT.ListContainers(cmd.Context(), true)
			if err != nil {
				return err
			}
			var toDelete []string
			for _, c := range containers {
				if c.State != runtime.StateRunning && c.State != runtime.StateStopped && c.State != runtime.StateFrozen {
					continue
				}
				if all {
					toDelete = append(toDelete, c.Name)
					continue
				}
				if ageDays > 0 {
					info, ok := app.Lifecycle.Get(c.Name)
					if ok && daysSince(info.CreatedAt) >= ageDays {
						toDelete = append(toDelete, c.Name)
					}
					continue
				}
				if c.State == runtime.StateRunning {
					status := clean.Check(cmd.Context(), app.RT, app.Lifecycle, c.Name)
					if status.Clean {
						toDelete = append(toDelete, c.Name)
					}
				}
			}

			for _, name := range toDelete {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", name)
				if dryRun {
					continue
				}
				if !force && !confirm(cmd, fmt.Sprintf("destroy %q?", name)) {
					continue
				}
				snapshotLakeCache(cmd.Context(), app, name)
				if err := app.RT.Delete(cmd.Context(), name, true); err != nil {
					app.Logger.Warn("cleanup: delete failed", "name", name, "error", err)
					continue
				}
				removeRelayToken(app, name)
				_ = app.Lifecycle.Unregister(name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print what would be destroyed without destroying it")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "don't confirm before destroying")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "destroy every bubble regardless of clean state")
	cmd.Flags().IntVar(&ageDays, "age", 0, "destroy bubbles older than this many days instead of clean-checking them")
	return cmd
}

func daysSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(time.Since(t).Hours() / 24)
}
