package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Fake is an in-memory ContainerRuntime for tests that drive the
// provisioner and image builder without a real container daemon.
type Fake struct {
	mu         sync.Mutex
	containers map[string]ContainerInfo
	images     map[string]ImageInfo
	ExecFunc   func(name string, command []string) (string, error)
	PullFunc   func(name, remotePath, localPath string) error
}

// NewFake returns an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{
		containers: map[string]ContainerInfo{},
		images:     map[string]ImageInfo{},
	}
}

func (f *Fake) IsAvailable(ctx context.Context) bool { return true }

func (f *Fake) Launch(ctx context.Context, name, image string) (ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[name]; exists {
		return ContainerInfo{}, fmt.Errorf("container %q already exists", name)
	}
	info := ContainerInfo{Name: name, Image: image, State: StateRunning, IPv4: "10.0.0.2"}
	f.containers[name] = info
	return info, nil
}

func (f *Fake) ListContainers(ctx context.Context, fast bool) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContainerInfo, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) setState(name string, state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	info.State = state
	f.containers[name] = info
	return nil
}

func (f *Fake) Start(ctx context.Context, name string) error    { return f.setState(name, StateRunning) }
func (f *Fake) Stop(ctx context.Context, name string) error     { return f.setState(name, StateStopped) }
func (f *Fake) Freeze(ctx context.Context, name string) error   { return f.setState(name, StateFrozen) }
func (f *Fake) Unfreeze(ctx context.Context, name string) error { return f.setState(name, StateRunning) }

func (f *Fake) Delete(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("container %q not found", name)
	}
	delete(f.containers, name)
	return nil
}

func (f *Fake) Exec(ctx context.Context, name string, command []string) (string, error) {
	f.mu.Lock()
	_, ok := f.containers[name]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("container %q not found", name)
	}
	if f.ExecFunc != nil {
		return f.ExecFunc(name, command)
	}
	return "", nil
}

func (f *Fake) AddDevice(ctx context.Context, name string, dev DeviceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("container %q not found", name)
	}
	return nil
}

func (f *Fake) AddDisk(ctx context.Context, name, deviceName, source, path string, readonly bool) error {
	return f.AddDevice(ctx, name, DeviceSpec{Name: deviceName, Type: "disk"})
}

func (f *Fake) Publish(ctx context.Context, name, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("container %q not found", name)
	}
	f.images[alias] = ImageInfo{Alias: alias}
	return nil
}

func (f *Fake) ImageExists(ctx context.Context, alias string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[alias]
	return ok
}

func (f *Fake) ImageDelete(ctx context.Context, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, alias)
	return nil
}

func (f *Fake) ListImages(ctx context.Context) ([]ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ImageInfo, 0, len(f.images))
	for _, img := range f.images {
		out = append(out, img)
	}
	return out, nil
}

func (f *Fake) PushFile(ctx context.Context, name, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("container %q not found", name)
	}
	return nil
}

func (f *Fake) PullFile(ctx context.Context, name, remotePath, localPath string) error {
	f.mu.Lock()
	_, ok := f.containers[name]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("container %q not found", name)
	}
	if f.PullFunc != nil {
		return f.PullFunc(name, remotePath, localPath)
	}
	return os.WriteFile(localPath, nil, 0o644)
}
