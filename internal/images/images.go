// Package images implements bubble's declarative image build graph
// (spec.md §4.4), grounded on original_source/bubble/images/builder.py.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kim-em/bubble/internal/runtime"
	"github.com/kim-em/bubble/internal/vscode"
)

// Spec describes one buildable image: the setup script to run and the
// parent image (another entry in Table, or a runtime-remote reference).
type Spec struct {
	Script string
	Parent string
}

// Table is the static image hierarchy. Scripts are looked up under
// ScriptsDir by name.
var Table = map[string]Spec{
	"base": {Script: "base.sh", Parent: "images:ubuntu/24.04"},
	"lean": {Script: "lean.sh", Parent: "base"},
}

// ScriptsDir is the on-disk directory holding the setup scripts
// referenced by Table; a relative path resolves against the working
// directory. The scripts are not embedded in the binary.
var ScriptsDir = "internal/images/scripts"

// VSCodeCommitFunc returns the VS Code commit hash to embed in built
// images, or "" if none is discoverable. Overridable for tests; the real
// implementation lives in internal/vscode.
var VSCodeCommitFunc = func() string { return "" }

// Builder builds images against a ContainerRuntime.
type Builder struct {
	rt         runtime.ContainerRuntime
	logger     *slog.Logger
	MarkerFile string // path to the persisted VS Code commit marker, empty disables the optimization
}

func NewBuilder(rt runtime.ContainerRuntime, logger *slog.Logger) *Builder {
	return &Builder{rt: rt, logger: logger}
}

// readScript reads the setup script for a Table entry from ScriptsDir.
func readScript(name string) (string, error) {
	path := filepath.Join(ScriptsDir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script %s: %w", name, err)
	}
	return string(b), nil
}

// Build builds imageName, recursively building any missing parent that
// is itself a Table entry.
func (b *Builder) Build(ctx context.Context, imageName string) error {
	spec, ok := Table[imageName]
	if !ok {
		available := make([]string, 0, len(Table))
		for k := range Table {
			available = append(available, k)
		}
		return fmt.Errorf("unknown image %q, available: %s", imageName, strings.Join(available, ", "))
	}

	if _, isOwn := Table[spec.Parent]; isOwn && !b.rt.ImageExists(ctx, spec.Parent) {
		if err := b.Build(ctx, spec.Parent); err != nil {
			return fmt.Errorf("building parent %s: %w", spec.Parent, err)
		}
	}

	buildName := imageName + "-builder"
	b.logger.Info("building image", "image", imageName)

	// Force-delete any stale builder container from a previous failed run.
	_ = b.rt.Delete(ctx, buildName, true)

	if _, err := b.rt.Launch(ctx, buildName, spec.Parent); err != nil {
		return fmt.Errorf("launching builder for %s: %w", imageName, err)
	}
	if err := WaitForContainer(ctx, b.rt, buildName, 60*time.Second); err != nil {
		return err
	}

	script, err := readScript(spec.Script)
	if err != nil {
		return err
	}
	commit := VSCodeCommitFunc()
	if commit != "" && (b.MarkerFile == "" || vscode.ReadMarker(b.MarkerFile) != commit) {
		script = fmt.Sprintf("export VSCODE_COMMIT=%s\n%s", shellQuote(commit), script)
	}

	if _, err := b.rt.Exec(ctx, buildName, []string{"bash", "-c", script}); err != nil {
		return fmt.Errorf("running setup script for %s: %w", imageName, err)
	}
	if commit != "" && b.MarkerFile != "" {
		if err := vscode.WriteMarker(b.MarkerFile, commit); err != nil {
			b.logger.Warn("writing vscode commit marker failed", "error", err)
		}
	}

	if err := b.rt.Stop(ctx, buildName); err != nil {
		return fmt.Errorf("stopping builder for %s: %w", imageName, err)
	}
	if err := b.rt.Publish(ctx, buildName, imageName); err != nil {
		return fmt.Errorf("publishing %s: %w", imageName, err)
	}
	if err := b.rt.Delete(ctx, buildName, false); err != nil {
		return fmt.Errorf("deleting builder for %s: %w", imageName, err)
	}

	b.logger.Info("image built", "image", imageName)
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WaitForContainer implements the three-phase readiness probe of
// spec.md §4.4.1. Phases 1-2 are platform-independent; phase 3's Linux
// firewall workaround is handled by waitPhase3, a single implementation
// that returns early when eth0 already has an IPv4 address.
func WaitForContainer(ctx context.Context, rt runtime.ContainerRuntime, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	// Phase 1: the container answers exec at all.
	for {
		if _, err := rt.Exec(ctx, name, []string{"true"}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %q not ready after %s", name, timeout)
		}
		time.Sleep(time.Second)
	}

	// Phase 2: DHCP + DNS, up to 15s.
	dnsDeadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(dnsDeadline) {
		if _, err := rt.Exec(ctx, name, []string{"timeout", "3", "getent", "hosts", "github.com"}); err == nil {
			return nil
		}
		time.Sleep(time.Second)
	}

	// Phase 3: Linux host firewall workarounds.
	if err := waitPhase3(ctx, rt, name); err != nil {
		return err
	}

	if _, err := rt.Exec(ctx, name, []string{"timeout", "3", "getent", "hosts", "github.com"}); err != nil {
		return fmt.Errorf("container %q not ready after %s: %w", name, timeout, err)
	}
	return nil
}

// waitPhase3 performs the Linux-only bridge IP / resolv.conf workaround.
// Grounded on spec.md §4.4.1; guarded so it's a no-op when eth0 already
// has an IPv4 address (i.e. on non-Linux hosts or healthy bridges).
func waitPhase3(ctx context.Context, rt runtime.ContainerRuntime, name string) error {
	out, err := rt.Exec(ctx, name, []string{"sh", "-c", "ip -4 addr show eth0 | grep -q 'inet '"})
	if err == nil {
		_ = out
		return nil
	}

	gateway, err := bridgeGateway(ctx)
	if err != nil {
		return fmt.Errorf("determining bridge gateway: %w", err)
	}
	staticIP := staticAddrFor(gateway)
	if _, err := rt.Exec(ctx, name, []string{"ip", "addr", "add", staticIP + "/24", "dev", "eth0"}); err != nil {
		return fmt.Errorf("assigning static address to %s: %w", name, err)
	}

	if _, err := rt.Exec(ctx, name, []string{"timeout", "3", "getent", "hosts", "github.com"}); err == nil {
		return nil
	}

	if _, err := rt.Exec(ctx, name, []string{"systemctl", "stop", "systemd-resolved"}); err != nil {
		return fmt.Errorf("stopping systemd-resolved in %s: %w", name, err)
	}
	if _, err := rt.Exec(ctx, name, []string{"sh", "-c", "echo nameserver 127.0.0.53 > /etc/resolv.conf"}); err != nil {
		return fmt.Errorf("rewriting resolv.conf in %s: %w", name, err)
	}
	if err := rt.AddDevice(ctx, name, runtime.DeviceSpec{
		Name: "dns-udp", Type: "proxy",
		Props: map[string]string{"listen": "udp:127.0.0.53:53", "connect": fmt.Sprintf("udp:%s:53", gateway)},
	}); err != nil {
		return fmt.Errorf("adding dns-udp proxy device: %w", err)
	}
	if err := rt.AddDevice(ctx, name, runtime.DeviceSpec{
		Name: "dns-tcp", Type: "proxy",
		Props: map[string]string{"listen": "tcp:127.0.0.53:53", "connect": fmt.Sprintf("tcp:%s:53", gateway)},
	}); err != nil {
		return fmt.Errorf("adding dns-tcp proxy device: %w", err)
	}
	return nil
}

// bridgeGateway returns the incus bridge's gateway IPv4 address.
func bridgeGateway(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "incus", "network", "get", "incusbr0", "ipv4.address").Output()
	if err != nil {
		return "", err
	}
	cidr := strings.TrimSpace(string(out))
	ip := strings.SplitN(cidr, "/", 2)[0]
	return ip, nil
}

// staticAddrFor returns the .200 address in gateway's /24.
func staticAddrFor(gateway string) string {
	parts := strings.Split(gateway, ".")
	if len(parts) != 4 {
		return gateway
	}
	return fmt.Sprintf("%s.%s.%s.200", parts[0], parts[1], parts[2])
}
