package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/hooks"
	"github.com/kim-em/bubble/internal/images"
	"github.com/kim-em/bubble/internal/lakecache"
	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/network"
	"github.com/kim-em/bubble/internal/relay"
	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/target"
)

// CreateFlags mirrors spec.md §4.5's create-pipeline inputs.
type CreateFlags struct {
	Editor         string
	NoInteractive  bool
	Network        bool
	CustomName     string
	NoClone        bool
	ForceLocal     bool
	MachineReadable bool
}

// CreateResult describes the outcome of Create, whether it reattached
// to an existing bubble or provisioned a new one.
type CreateResult struct {
	Name       string
	Reattached bool
	ProjectDir string
	Hook       hooks.Hook
}

// Pipeline wires the per-create state machine of spec.md §4.5 against
// concrete collaborators.
type Pipeline struct {
	RT        runtime.ContainerRuntime
	Store     *gitstore.Store
	Lifecycle *lifecycle.Registry
	Builder   *images.Builder
	Config    config.Config
	DataDir   string
	Logger    *slog.Logger
}

// Create runs the full provisioning state machine for t.
func (p *Pipeline) Create(ctx context.Context, t target.Target, flags CreateFlags) (CreateResult, error) {
	if err := t.Validate(); err != nil {
		return CreateResult{}, fmt.Errorf("invalid target: %w", err)
	}

	existing, err := p.findExisting(ctx, t, flags.CustomName)
	if err != nil {
		return CreateResult{}, err
	}
	if existing != "" {
		if err := p.reattach(ctx, existing); err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Name: existing, Reattached: true, ProjectDir: "/home/user/" + t.ShortName()}, nil
	}

	name, err := p.generateUniqueName(ctx, t, flags.CustomName)
	if err != nil {
		return CreateResult{}, err
	}

	refSource, mountName, barePath, err := p.resolveRefSource(ctx, t, flags.NoClone)
	if err != nil {
		return CreateResult{}, err
	}

	hook := hooks.Select(ctx, barePath, t.Ref)
	imageName := "base"
	if hook != nil {
		imageName = hook.ImageName()
	}
	if err := p.ensureImage(ctx, imageName); err != nil {
		return CreateResult{}, err
	}

	var deps []hooks.GitDependency
	if hook != nil {
		deps = hook.GitDependencies(ctx, barePath, t.Ref)
	}
	depPaths := p.prefetchDeps(ctx, deps)

	if _, err := p.RT.Launch(ctx, name, imageName); err != nil {
		return CreateResult{}, fmt.Errorf("launching %s: %w", name, err)
	}
	if err := images.WaitForContainer(ctx, p.RT, name, 60*time.Second); err != nil {
		return CreateResult{}, err
	}

	if err := MountMainRef(ctx, p.RT, name, refSource, mountName); err != nil {
		return CreateResult{}, err
	}
	for repoShort, path := range depPaths {
		if err := MountDependency(ctx, p.RT, name, repoShort, path); err != nil {
			p.Logger.Warn("mounting dependency failed", "repo", repoShort, "error", err)
		}
	}
	if hook != nil {
		if err := MountSharedHookDirs(ctx, p.RT, name, p.DataDir, hook.SharedMounts()); err != nil {
			return CreateResult{}, err
		}
	}
	if p.Config.Relay.Enabled {
		paths := config.Paths{DataDir: p.DataDir}
		if err := MountRelayDevice(ctx, p.RT, name, false, "", p.Config.Relay.Port, paths.RelaySock()); err != nil {
			p.Logger.Warn("mounting relay device failed", "error", err)
		} else if err := p.writeRelayToken(ctx, name, paths.RelayTokens()); err != nil {
			p.Logger.Warn("writing relay token failed", "error", err)
		}
	}

	projectDir := "/home/user/" + t.ShortName()
	originURL := fmt.Sprintf("https://github.com/%s.git", t.OrgRepo())
	if err := CloneAndCheckout(ctx, p.RT, name, mountName, originURL, projectDir, t); err != nil {
		return CreateResult{}, err
	}
	if hook != nil {
		if err := hook.PostClone(ctx, p.RT, name, projectDir); err != nil {
			p.Logger.Warn("post-clone hook action failed", "error", err)
		}
		if hook.Name() == "Lean 4" {
			lakeDir := filepath.Join(p.DataDir, "lake-snapshots")
			repoShort := config.RepoShortName(t.OrgRepo())
			if _, err := lakecache.Inject(ctx, p.RT, name, projectDir, lakeDir, repoShort); err != nil {
				p.Logger.Warn("lake cache inject failed", "error", err)
			}
		}
	}

	domains := append([]string{}, p.Config.Network.Allowlist...)
	if hook != nil {
		domains = append(domains, hook.NetworkDomains()...)
	}
	if flags.Network {
		if err := network.Apply(ctx, p.RT, name, domains); err != nil {
			return CreateResult{}, fmt.Errorf("applying network allowlist: %w", err)
		}
	}

	prNum := 0
	if t.Kind == target.KindPR {
		prNum, _ = strconv.Atoi(t.Ref)
	}
	commit, err := p.RT.Exec(ctx, name, []string{"su", "-", "user", "-c", fmt.Sprintf("cd %s && git rev-parse HEAD", projectDir)})
	if err != nil {
		p.Logger.Warn("reading checked-out commit failed", "error", err)
		commit = ""
	}
	if err := p.Lifecycle.Register(name, lifecycle.BubbleInfo{
		OrgRepo:   t.OrgRepo(),
		Branch:    branchOf(t),
		Commit:    strings.TrimSpace(commit),
		PR:        prNum,
		BaseImage: imageName,
	}); err != nil {
		return CreateResult{}, fmt.Errorf("registering bubble: %w", err)
	}

	return CreateResult{Name: name, ProjectDir: projectDir, Hook: hook}, nil
}

// writeRelayToken generates a per-container relay token and pushes it
// into the container at /bubble/relay-token, so in-bubble relay clients
// can authenticate against the daemon's token registry.
func (p *Pipeline) writeRelayToken(ctx context.Context, container, tokensPath string) error {
	token, err := relay.GenerateToken(tokensPath, container)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "bubble-relay-token-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return p.RT.PushFile(ctx, container, tmp.Name(), "/bubble/relay-token")
}

func branchOf(t target.Target) string {
	if t.Kind == target.KindBranch {
		return t.Ref
	}
	return ""
}

func (p *Pipeline) findExisting(ctx context.Context, t target.Target, customName string) (string, error) {
	containers, err := p.RT.ListContainers(ctx, true)
	if err != nil {
		return "", err
	}
	byName := map[string]bool{}
	for _, c := range containers {
		byName[c.Name] = true
	}

	if customName != "" && byName[customName] {
		return customName, nil
	}
	if byName[t.Original] {
		return t.Original, nil
	}

	prNum := 0
	if t.Kind == target.KindPR {
		prNum, _ = strconv.Atoi(t.Ref)
	}
	if name, _, ok := p.Lifecycle.FindByTarget(t.OrgRepo(), prNum, branchOf(t)); ok && byName[name] {
		return name, nil
	}
	return "", nil
}

func (p *Pipeline) generateUniqueName(ctx context.Context, t target.Target, customName string) (string, error) {
	containers, err := p.RT.ListContainers(ctx, true)
	if err != nil {
		return "", err
	}
	existing := map[string]bool{}
	for _, c := range containers {
		existing[c.Name] = true
	}

	base := customName
	if base == "" {
		source := string(t.Kind)
		if t.Kind == target.KindRepo {
			source = "main"
		}
		base = GenerateName(config.RepoShortName(t.OrgRepo()), source, t.Ref)
	}
	return DeduplicateName(base, existing)
}

// resolveRefSource implements spec.md §4.5 "Ref source resolution".
func (p *Pipeline) resolveRefSource(ctx context.Context, t target.Target, noClone bool) (refSource, mountName, barePath string, err error) {
	if t.LocalPath != "" {
		return t.LocalPath, filepath.Base(t.LocalPath) + ".git", t.LocalPath, nil
	}

	barePath = p.Store.BareRepoPath(t.OrgRepo())
	if noClone && !p.Store.RepoIsKnown(t.OrgRepo()) {
		return "", "", "", fmt.Errorf("bare repo for %s not present and --no-clone was set", t.OrgRepo())
	}
	if _, err := p.Store.InitBareRepo(t.OrgRepo()); err != nil {
		return "", "", "", err
	}
	if t.Kind == target.KindPR {
		refspec := fmt.Sprintf("+refs/pull/%s/head:refs/pull/%s/head", t.Ref, t.Ref)
		_ = p.Store.FetchRef(t.OrgRepo(), refspec)
	}
	return barePath, t.Repo + ".git", barePath, nil
}

func (p *Pipeline) ensureImage(ctx context.Context, imageName string) error {
	if p.RT.ImageExists(ctx, imageName) {
		return nil
	}
	if isToolchainVariant(imageName) {
		if p.RT.ImageExists(ctx, "lean") {
			go func() {
				bg := context.Background()
				version := versionFromToolchainImage(imageName)
				if err := p.Builder.BuildLeanToolchainImage(bg, version); err != nil {
					p.Logger.Warn("background toolchain build failed", "image", imageName, "error", err)
				}
			}()
			return nil
		}
		if err := p.Builder.Build(ctx, "lean"); err != nil {
			return err
		}
		return nil
	}
	return p.Builder.Build(ctx, imageName)
}

func isToolchainVariant(imageName string) bool {
	return len(imageName) > 5 && imageName[:5] == "lean-"
}

func versionFromToolchainImage(imageName string) string {
	return imageName[len("lean-"):]
}

func (p *Pipeline) prefetchDeps(ctx context.Context, deps []hooks.GitDependency) map[string]string {
	out := map[string]string{}
	for _, d := range deps {
		if _, err := p.Store.InitBareRepo(d.OrgRepo); err != nil {
			p.Logger.Warn("prefetch dep bare repo failed", "repo", d.OrgRepo, "error", err)
			continue
		}
		if ok, err := p.Store.EnsureRevAvailable(d.OrgRepo, d.Rev); err != nil || !ok {
			p.Logger.Warn("prefetch dep rev unavailable", "repo", d.OrgRepo, "rev", d.Rev, "error", err)
			continue
		}
		repoShort := config.RepoShortName(d.OrgRepo)
		out[repoShort] = p.Store.BareRepoPath(d.OrgRepo)
	}
	return out
}

// reattach unfreezes or starts an existing container as needed.
func (p *Pipeline) reattach(ctx context.Context, name string) error {
	containers, err := p.RT.ListContainers(ctx, true)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if c.Name != name {
			continue
		}
		switch c.State {
		case runtime.StateFrozen:
			return p.RT.Unfreeze(ctx, name)
		case runtime.StateStopped:
			return p.RT.Start(ctx, name)
		default:
			return nil
		}
	}
	return fmt.Errorf("container %q not found during reattach", name)
}
