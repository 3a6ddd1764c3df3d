package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// IncusRuntime shells out to the incus CLI, grounded on
// original_source/bubble/runtime/incus.py.
type IncusRuntime struct {
	logger *slog.Logger
}

// NewIncusRuntime returns a ContainerRuntime backed by the incus binary.
func NewIncusRuntime(logger *slog.Logger) *IncusRuntime {
	return &IncusRuntime{logger: logger}
}

func (r *IncusRuntime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "incus", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("incus %s: %w: %s", strings.Join(args, " "), err, detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *IncusRuntime) runJSON(ctx context.Context, args []string, out any) error {
	raw, err := r.run(ctx, append(args, "--format=json")...)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func (r *IncusRuntime) IsAvailable(ctx context.Context) bool {
	_, err := r.run(ctx, "version")
	return err == nil
}

func (r *IncusRuntime) Launch(ctx context.Context, name, image string) (ContainerInfo, error) {
	if _, err := r.run(ctx, "launch", image, name); err != nil {
		return ContainerInfo{}, err
	}
	return r.getInfo(ctx, name)
}

type incusNetAddr struct {
	Family  string `json:"family"`
	Address string `json:"address"`
}

type incusContainer struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	State     struct {
		Network map[string]struct {
			Addresses []incusNetAddr `json:"addresses"`
		} `json:"network"`
		Disk map[string]struct {
			Usage int64 `json:"usage"`
		} `json:"disk"`
	} `json:"state"`
}

func stateFromIncus(status string) State {
	switch status {
	case "Running":
		return StateRunning
	case "Stopped":
		return StateStopped
	case "Frozen":
		return StateFrozen
	default:
		return State(strings.ToLower(status))
	}
}

func parseIncusTimestamp(raw string) time.Time {
	if raw == "" || strings.HasPrefix(raw, "0001-") {
		return time.Time{}
	}
	raw = strings.TrimSuffix(raw, "Z")
	if i := strings.Index(raw, "."); i != -1 {
		frac := raw[i+1:]
		if len(frac) > 6 {
			frac = frac[:6]
		}
		raw = raw[:i] + "." + frac
	}
	t, err := time.Parse("2006-01-02T15:04:05.000000", raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseIncusContainer(c incusContainer) ContainerInfo {
	info := ContainerInfo{
		Name:      c.Name,
		State:     stateFromIncus(c.Status),
		CreatedAt: parseIncusTimestamp(c.CreatedAt),
	}
	if eth0, ok := c.State.Network["eth0"]; ok {
		for _, a := range eth0.Addresses {
			if a.Family == "inet" {
				info.IPv4 = a.Address
				break
			}
		}
	}
	if root, ok := c.State.Disk["root"]; ok {
		info.DiskUsage = root.Usage
	}
	return info
}

func (r *IncusRuntime) getInfo(ctx context.Context, name string) (ContainerInfo, error) {
	var data []incusContainer
	if err := r.runJSON(ctx, []string{"list", name}, &data); err != nil {
		return ContainerInfo{}, err
	}
	if len(data) == 0 {
		return ContainerInfo{}, fmt.Errorf("container %q not found", name)
	}
	return parseIncusContainer(data[0]), nil
}

func (r *IncusRuntime) ListContainers(ctx context.Context, fast bool) ([]ContainerInfo, error) {
	args := []string{"list"}
	if fast {
		args = append(args, "--fast")
	}
	var data []incusContainer
	if err := r.runJSON(ctx, args, &data); err != nil {
		return nil, err
	}
	out := make([]ContainerInfo, len(data))
	for i, c := range data {
		out[i] = parseIncusContainer(c)
	}
	return out, nil
}

func (r *IncusRuntime) Start(ctx context.Context, name string) error {
	_, err := r.run(ctx, "start", name)
	return err
}

func (r *IncusRuntime) Stop(ctx context.Context, name string) error {
	_, err := r.run(ctx, "stop", name)
	return err
}

func (r *IncusRuntime) Freeze(ctx context.Context, name string) error {
	_, err := r.run(ctx, "pause", name)
	return err
}

// Unfreeze resumes a frozen container; incus uses the same "start" verb
// for both cold-start and unpause.
func (r *IncusRuntime) Unfreeze(ctx context.Context, name string) error {
	_, err := r.run(ctx, "start", name)
	return err
}

func (r *IncusRuntime) Delete(ctx context.Context, name string, force bool) error {
	args := []string{"delete", name}
	if force {
		args = append(args, "--force")
	}
	_, err := r.run(ctx, args...)
	return err
}

func (r *IncusRuntime) Exec(ctx context.Context, name string, command []string) (string, error) {
	args := append([]string{"exec", name, "--"}, command...)
	return r.run(ctx, args...)
}

func (r *IncusRuntime) AddDevice(ctx context.Context, name string, dev DeviceSpec) error {
	args := []string{"config", "device", "add", name, dev.Name, dev.Type}
	for k, v := range dev.Props {
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	_, err := r.run(ctx, args...)
	return err
}

func (r *IncusRuntime) AddDisk(ctx context.Context, name, deviceName, source, path string, readonly bool) error {
	props := map[string]string{"source": source, "path": path}
	if readonly {
		props["readonly"] = "true"
	}
	return r.AddDevice(ctx, name, DeviceSpec{Name: deviceName, Type: "disk", Props: props})
}

func (r *IncusRuntime) Publish(ctx context.Context, name, alias string) error {
	if info, err := r.getInfo(ctx, name); err == nil && info.State == StateRunning {
		if err := r.Stop(ctx, name); err != nil {
			return err
		}
	}
	if r.ImageExists(ctx, alias) {
		if err := r.ImageDelete(ctx, alias); err != nil {
			return err
		}
	}
	_, err := r.run(ctx, "publish", name, "--alias", alias)
	return err
}

func (r *IncusRuntime) ImageExists(ctx context.Context, alias string) bool {
	_, err := r.run(ctx, "image", "show", alias)
	return err == nil
}

func (r *IncusRuntime) ImageDelete(ctx context.Context, alias string) error {
	_, err := r.run(ctx, "image", "delete", alias)
	return err
}

func (r *IncusRuntime) ListImages(ctx context.Context) ([]ImageInfo, error) {
	var raw []map[string]any
	if err := r.runJSON(ctx, []string{"image", "list"}, &raw); err != nil {
		return nil, err
	}
	out := make([]ImageInfo, 0, len(raw))
	for _, item := range raw {
		img := ImageInfo{}
		for _, alias := range aliasesOf(item) {
			img.Alias = alias
			break
		}
		out = append(out, img)
	}
	return out, nil
}

func aliasesOf(item map[string]any) []string {
	raw, ok := item["aliases"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, a := range raw {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := m["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func (r *IncusRuntime) PushFile(ctx context.Context, name, localPath, remotePath string) error {
	_, err := r.run(ctx, "file", "push", localPath, name+remotePath)
	return err
}

func (r *IncusRuntime) PullFile(ctx context.Context, name, remotePath, localPath string) error {
	_, err := r.run(ctx, "file", "pull", name+remotePath, localPath)
	return err
}
