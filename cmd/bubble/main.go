// Command bubble provisions and manages isolated per-task container dev
// environments. See internal/cliapp for the command tree and
// internal/cliapp/app.go for how its collaborators are wired together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kim-em/bubble/internal/cliapp"
	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/images"
	"github.com/kim-em/bubble/internal/metrics"
	"github.com/kim-em/bubble/internal/scheduler"
	"github.com/kim-em/bubble/internal/vscode"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	images.VSCodeCommitFunc = vscode.LocalCommit

	paths := config.ResolvePaths()
	if err := paths.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	app, err := cliapp.New(cfg, paths, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	app.Metrics = metrics.New()
	sched := scheduler.New(logger)
	sched.RegisterCadence("image-refresh", cfg.Images.Refresh, func(ctx context.Context) {
		if err := app.Builder.Build(ctx, "base"); err != nil {
			logger.Warn("scheduled image refresh failed", "error", err)
		}
	})
	sched.Start()
	defer sched.Stop()
	app.Scheduler = sched

	root := cliapp.NewRootCmd(app)
	root.SetArgs(cliapp.PreprocessArgs(os.Args[1:]))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
