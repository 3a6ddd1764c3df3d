package cliapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/cloud"
	"github.com/kim-em/bubble/internal/provisioner"
	"github.com/kim-em/bubble/internal/remote"
	"github.com/kim-em/bubble/internal/secrets"
	"github.com/kim-em/bubble/internal/target"
	"github.com/kim-em/bubble/internal/vscode"
)

// openResult is the machine-readable JSON object emitted as the last
// stdout line when --machine-readable is set (spec.md §6).
type openResult struct {
	Status     string `json:"status"`
	Name       string `json:"name,omitempty"`
	ProjectDir string `json:"project_dir,omitempty"`
	OrgRepo    string `json:"org_repo,omitempty"`
	Image      string `json:"image,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Message    string `json:"message,omitempty"`
}

func newOpenCmd(app *App) *cobra.Command {
	var (
		editorFlag      string
		useShell        bool
		useEmacs        bool
		useNeovim       bool
		sshHost         string
		useCloud        bool
		useLocal        bool
		noInteractive   bool
		network         bool
		noNetwork       bool
		name            string
		showPath        bool
		machineReadable bool
		noClone         bool
	)

	cmd := &cobra.Command{
		Use:   "open TARGET",
		Short: "Open (or reattach to) a bubble for TARGET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			editor := resolveEditor(app.Config.Editor, editorFlag, useShell, useEmacs, useNeovim)

			if !useLocal && !useCloud && sshHost == "" {
				if app.Config.Cloud.Default {
					useCloud = true
				} else {
					sshHost = app.Config.Remote.DefaultHost
				}
			}
			if useLocal {
				sshHost, useCloud = "", false
			}
			if useCloud || sshHost != "" {
				remoteArgs := remoteOpenArgv(args[0], editor, noInteractive, network, noNetwork, name, noClone)
				if useCloud {
					return dispatchRemoteOpen(app, func() (remote.Host, error) {
						c, err := cloudClient(app)
						if err != nil {
							return remote.Host{}, err
						}
						return cloud.GetRemoteHost(cmd.Context(), c)
					}, remoteArgs, machineReadable)
				}
				h, err := remote.ParseHost(sshHost)
				if err != nil {
					return fmt.Errorf("parsing --ssh host: %w", err)
				}
				return dispatchRemoteOpen(app, func() (remote.Host, error) { return h, nil }, remoteArgs, machineReadable)
			}

			t, err := target.Parse(args[0], app.Repos)
			if err != nil {
				var perr *target.ParseError
				if !noInteractive && errors.As(err, &perr) && len(perr.Candidates) > 0 {
					if choice := disambiguate(err.Error(), perr.Candidates); choice != "" {
						t, err = target.Parse(choice, app.Repos)
					}
				}
				if err != nil {
					return err
				}
			}

			pipeline := &provisioner.Pipeline{
				RT:        app.RT,
				Store:     app.Store,
				Lifecycle: app.Lifecycle,
				Builder:   app.Builder,
				Config:    app.Config,
				DataDir:   app.Paths.DataDir,
				Logger:    app.Logger,
			}
			applyNetwork := network && !noNetwork

			var res provisioner.CreateResult
			err = withSpinner(fmt.Sprintf("opening %s", t.ShortName()), func() error {
				var createErr error
				res, createErr = pipeline.Create(cmd.Context(), t, provisioner.CreateFlags{
					Editor:          editor,
					NoInteractive:   noInteractive,
					Network:         applyNetwork,
					CustomName:      name,
					NoClone:         noClone,
					MachineReadable: machineReadable,
				})
				return createErr
			})
			if err != nil {
				if machineReadable {
					return emitMachineReadable(openResult{Status: "error", Message: err.Error()})
				}
				return err
			}

			if editor == "vscode" && !noInteractive {
				writeWorkspaceFile(cmd.Context(), app, res)
				if err := vscode.AddSSHConfig(res.Name, "user"); err != nil {
					app.Logger.Warn("adding vscode ssh config failed", "error", err)
				} else if err := vscode.Open(res.Name, "/home/user/"+t.ShortName()); err != nil {
					app.Logger.Warn("launching vscode failed", "error", err)
				}
			}

			status := "created"
			if res.Reattached {
				status = "reattached"
			}
			if showPath {
				fmt.Fprintln(cmd.OutOrStdout(), "/home/user/"+t.ShortName())
			}
			if machineReadable {
				return emitMachineReadable(openResult{
					Status:     status,
					Name:       res.Name,
					ProjectDir: "/home/user/" + t.ShortName(),
					OrgRepo:    t.OrgRepo(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status, res.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&editorFlag, "editor", "", "editor to launch (vscode|shell|emacs|neovim)")
	cmd.Flags().BoolVar(&useShell, "shell", false, "open a shell instead of an editor")
	cmd.Flags().BoolVar(&useEmacs, "emacs", false, "open with Emacs")
	cmd.Flags().BoolVar(&useNeovim, "neovim", false, "open with Neovim")
	cmd.Flags().StringVar(&sshHost, "ssh", "", "dispatch to a remote bubble host over SSH")
	cmd.Flags().BoolVar(&useCloud, "cloud", false, "dispatch to the configured cloud host")
	cmd.Flags().BoolVar(&useLocal, "local", false, "force local execution, ignoring any configured remote default")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "never prompt or launch an editor")
	cmd.Flags().BoolVar(&network, "network", false, "apply the egress allowlist to the new bubble")
	cmd.Flags().BoolVar(&noNetwork, "no-network", false, "never apply the egress allowlist")
	cmd.Flags().StringVar(&name, "name", "", "explicit bubble name instead of a generated one")
	cmd.Flags().BoolVar(&showPath, "path", false, "print the in-container project path")
	cmd.Flags().BoolVar(&machineReadable, "machine-readable", false, "emit a final JSON status line")
	cmd.Flags().BoolVar(&noClone, "no-clone", false, "fail instead of cloning if the repo isn't already mirrored")

	return cmd
}

// remoteOpenArgv rebuilds the flag set a remote "bubble open" invocation
// needs, since a self-deployed invocation doesn't share this process's
// parsed cobra flags.
func remoteOpenArgv(targetStr, editor string, noInteractive, network, noNetwork bool, name string, noClone bool) []string {
	argv := []string{targetStr}
	if editor != "" {
		argv = append(argv, "--editor", editor)
	}
	if noInteractive {
		argv = append(argv, "--no-interactive")
	}
	if network {
		argv = append(argv, "--network")
	}
	if noNetwork {
		argv = append(argv, "--no-network")
	}
	if name != "" {
		argv = append(argv, "--name", name)
	}
	if noClone {
		argv = append(argv, "--no-clone")
	}
	return argv
}

func resolveEditor(configured, flag string, shell, emacs, neovim bool) string {
	switch {
	case shell:
		return "shell"
	case emacs:
		return "emacs"
	case neovim:
		return "neovim"
	case flag != "":
		return flag
	default:
		return configured
	}
}

func emitMachineReadable(r openResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if r.Status == "error" {
		return fmt.Errorf("%s", r.Message)
	}
	return nil
}

// dispatchRemoteOpen self-deploys (if needed) and runs "bubble open" on
// a remote host, relaying its machine-readable result (spec.md §4.9).
func dispatchRemoteOpen(app *App, hostFn func() (remote.Host, error), args []string, machineReadable bool) error {
	h, err := hostFn()
	if err != nil {
		return err
	}
	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating local binary: %w", err)
	}
	if err := remote.EnsureDeployed(h, selfPath, "dev"); err != nil {
		return fmt.Errorf("deploying to %s: %w", h.SpecString(), err)
	}
	if machineReadable {
		res, err := remote.RemoteOpen(h, args, os.Stdout)
		if err != nil {
			return err
		}
		fmt.Println(string(res.Raw))
		return nil
	}
	return remote.Dispatch(h, append([]string{"open"}, args...))
}

// writeWorkspaceFile asks res's selected hook (if any) for a workspace
// file and, if it offers one, pushes it into the container next to the
// project directory before the editor attaches (SPEC_FULL.md §D.4).
func writeWorkspaceFile(ctx context.Context, app *App, res provisioner.CreateResult) {
	if res.Hook == nil || res.ProjectDir == "" {
		return
	}
	content, ok := res.Hook.WorkspaceFile(res.ProjectDir)
	if !ok {
		return
	}
	tmp, err := os.CreateTemp("", "bubble-workspace-*")
	if err != nil {
		app.Logger.Warn("creating workspace file tempfile failed", "error", err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		app.Logger.Warn("writing workspace file tempfile failed", "error", err)
		return
	}
	tmp.Close()

	remotePath := filepath.Dir(res.ProjectDir) + "/" + filepath.Base(res.ProjectDir) + ".code-workspace"
	if err := app.RT.PushFile(ctx, res.Name, tmp.Name(), remotePath); err != nil {
		app.Logger.Warn("pushing workspace file failed", "error", err)
	}
}

// cloudClient builds an internal/cloud.Client using the token from
// $HETZNER_TOKEN, else from the OS keyring; with neither set it returns
// an error pointing the caller at `bubble cloud token set`.
func cloudClient(app *App) (*cloud.Client, error) {
	token := os.Getenv("HETZNER_TOKEN")
	if token == "" {
		token = secrets.Get(secrets.KeyCloudToken)
	}
	if token == "" {
		return nil, fmt.Errorf("no cloud provider token; set HETZNER_TOKEN or run `bubble cloud token set`")
	}
	return cloud.NewClient(token, app.Paths, app.Config.Cloud), nil
}
