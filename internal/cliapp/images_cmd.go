package cliapp

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/images"
)

// withSpinner runs fn while driving an indeterminate progress bar on
// stderr, since images.Builder reports no incremental progress of its
// own. A non-terminal stdout (CI logs, --machine-readable callers)
// gets no bar at all.
func withSpinner(description string, fn func() error) error {
	if !stdoutIsTerminal() {
		return fn()
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = bar.Add(1)
			case <-done:
				return
			}
		}
	}()
	err := fn()
	close(done)
	_ = bar.Finish()
	return err
}

func newImagesCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "images",
		Short: "Manage base and toolchain container images",
	}

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known images and whether they've been built",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := make([]string, 0, len(images.Table))
			for name := range images.Table {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				built := app.RT.ImageExists(cmd.Context(), name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s built=%v\n", name, built)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "build NAME",
		Short: "Build an image (and any missing parent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpinner(fmt.Sprintf("building %s", args[0]), func() error {
				return app.Builder.Build(cmd.Context(), args[0])
			})
		},
	})

	var all bool
	deleteCmd := &cobra.Command{
		Use:   "delete [NAME]",
		Short: "Delete one image, or every known image with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				for name := range images.Table {
					if err := app.RT.ImageDelete(cmd.Context(), name); err != nil {
						app.Logger.Warn("deleting image failed", "image", name, "error", err)
					}
				}
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("NAME is required unless --all is set")
			}
			return app.RT.ImageDelete(cmd.Context(), args[0])
		},
	}
	deleteCmd.Flags().BoolVar(&all, "all", false, "delete every known image")
	root.AddCommand(deleteCmd)

	return root
}
