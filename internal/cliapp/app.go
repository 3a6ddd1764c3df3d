// Package cliapp wires every bubble collaborator package into a cobra
// command tree, the way cmd/copilot/commands composes devclaw's serve/
// chat/setup commands against a shared *copilot.Assistant. Here the
// shared object is App: one instance of every stateful collaborator
// (runtime, registries, builder, scheduler, metrics), constructed once
// in cmd/bubble/main.go and threaded through each newXCmd constructor.
package cliapp

import (
	"context"
	"log/slog"
	"os"

	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/images"
	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/metrics"
	"github.com/kim-em/bubble/internal/prcache"
	"github.com/kim-em/bubble/internal/provisioner"
	"github.com/kim-em/bubble/internal/reporegistry"
	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/scheduler"
	"github.com/kim-em/bubble/internal/secrets"
)

// App bundles every collaborator a command might need. New constructs
// every field eagerly except Metrics, Scheduler and PRCache: Metrics and
// Scheduler are assigned by the caller after New, and PRCache is opened
// lazily by OpenPRCache; each stays nil until then.
type App struct {
	Config config.Config
	Paths  config.Paths
	Logger *slog.Logger

	RT        runtime.ContainerRuntime
	Repos     *reporegistry.RepoRegistry
	Store     *gitstore.Store
	Lifecycle *lifecycle.Registry
	Builder   *images.Builder

	Metrics   *metrics.Registry
	Scheduler *scheduler.Scheduler
	PRCache   *prcache.Cache
}

// New constructs an App from loaded configuration, paths, and a logger.
// It does not start the scheduler or open the PR cache — callers that
// need those (the daemon-ish commands: relay daemon, the scheduled
// image-refresh job) arrange them explicitly via Scheduler/PRCache.
func New(cfg config.Config, paths config.Paths, logger *slog.Logger) (*App, error) {
	rt := runtime.NewIncusRuntime(logger)

	a := &App{
		Config:    cfg,
		Paths:     paths,
		Logger:    logger,
		RT:        rt,
		Repos:     reporegistry.New(paths.ReposFile()),
		Store:     gitstore.New(paths.GitDir()),
		Lifecycle: lifecycle.New(paths.RegistryFile()),
		Builder:   images.NewBuilder(rt, logger),
	}
	a.Builder.MarkerFile = paths.VSCodeMarkerFile()

	provisioner.GitHubTokenFunc = func() string {
		if t := os.Getenv("GITHUB_TOKEN"); t != "" {
			return t
		}
		return secrets.Get(secrets.KeyGitHubToken)
	}
	provisioner.LookupPRHeadFunc = func(ctx context.Context, orgRepo string, pr int) (provisioner.GitHubPRHead, error) {
		cache, cerr := a.OpenPRCache()
		if cerr == nil {
			if entry, ok := cache.Lookup(orgRepo, pr, prcache.DefaultTTL); ok {
				return provisioner.GitHubPRHead{Ref: entry.HeadRef, SHA: entry.HeadSHA}, nil
			}
		}
		head, err := provisioner.FetchPRHead(ctx, orgRepo, pr)
		if err != nil {
			return provisioner.GitHubPRHead{}, err
		}
		if cerr == nil {
			_ = cache.Store(orgRepo, pr, head.SHA, head.Ref)
		}
		return head, nil
	}

	return a, nil
}

// OpenPRCache lazily opens the PR head cache, since most commands never
// touch it.
func (a *App) OpenPRCache() (*prcache.Cache, error) {
	if a.PRCache != nil {
		return a.PRCache, nil
	}
	c, err := prcache.Open(a.Paths.PRCacheFile())
	if err != nil {
		return nil, err
	}
	a.PRCache = c
	return c, nil
}
