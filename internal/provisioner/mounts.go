package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kim-em/bubble/internal/hooks"
	"github.com/kim-em/bubble/internal/runtime"
)

var deviceSanitize = regexp.MustCompile(`[._]`)

// depDeviceName derives the ≤63-char device name for a dependency
// repo's read-only git mount, per spec.md §4.5 "Mounts".
func depDeviceName(repoShort string) string {
	name := "dep-" + deviceSanitize.ReplaceAllString(repoShort, "-")
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// MountMainRef attaches a read-only mount of the main ref source
// (either the local repo's git dir, or the bare mirror) at
// /shared/git/<mountName>.
func MountMainRef(ctx context.Context, rt runtime.ContainerRuntime, container, sourcePath, mountName string) error {
	return rt.AddDisk(ctx, container, "git-main", sourcePath, "/shared/git/"+mountName, true)
}

// MountDependency attaches a read-only mount for one hook-reported git
// dependency's bare repo.
func MountDependency(ctx context.Context, rt runtime.ContainerRuntime, container, repoShort, barePath string) error {
	return rt.AddDisk(ctx, container, depDeviceName(repoShort), barePath, "/shared/git/"+repoShort+".git", true)
}

// MountSharedHookDirs creates (if needed) each hook-requested shared
// host directory under dataDir, chmods it 0777, attaches it as a
// writable disk, and writes a profile.d script exporting its env var
// inside the container.
func MountSharedHookDirs(ctx context.Context, rt runtime.ContainerRuntime, container, dataDir string, mounts []hooks.SharedMount) error {
	var profileLines []string
	for _, m := range mounts {
		hostDir := filepath.Join(dataDir, m.HostDirName)
		if err := os.MkdirAll(hostDir, 0o777); err != nil {
			return fmt.Errorf("creating shared dir %s: %w", hostDir, err)
		}
		if err := os.Chmod(hostDir, 0o777); err != nil {
			return err
		}
		deviceName := "shared-" + deviceSanitize.ReplaceAllString(m.HostDirName, "-")
		if err := rt.AddDisk(ctx, container, deviceName, hostDir, m.ContainerPath, false); err != nil {
			return fmt.Errorf("mounting shared dir %s: %w", m.HostDirName, err)
		}
		profileLines = append(profileLines, fmt.Sprintf("export %s=%s", m.EnvVar, m.ContainerPath))
	}
	if len(profileLines) == 0 {
		return nil
	}

	script := strings.Join(profileLines, "\n") + "\n"
	tmp, err := os.CreateTemp("", "bubble-shared-*.sh")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	return rt.PushFile(ctx, container, tmp.Name(), "/etc/profile.d/bubble-shared.sh")
}

// MountRelayDevice attaches the relay proxy device to container, per
// spec.md §4.5 "Relay device": on macOS it connects to the host-bridge
// TCP port; on Linux it connects to the relay's Unix socket. Inside the
// container the relay listens at unix:/bubble/relay.sock.
func MountRelayDevice(ctx context.Context, rt runtime.ContainerRuntime, container string, darwin bool, hostBridgeIP string, port int, sockPath string) error {
	props := map[string]string{
		"listen": "unix:/bubble/relay.sock",
		"bind":   "container",
		"uid":    "1001",
		"gid":    "1001",
		"mode":   "0660",
	}
	if darwin {
		props["connect"] = fmt.Sprintf("tcp:%s:%d", hostBridgeIP, port)
	} else {
		props["connect"] = "unix:" + sockPath
	}
	return rt.AddDevice(ctx, container, runtime.DeviceSpec{Name: "relay", Type: "proxy", Props: props})
}
