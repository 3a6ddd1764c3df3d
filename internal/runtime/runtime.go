// Package runtime defines the container-runtime contract bubble builds
// images and containers through, and a CLI-shelling implementation backed
// by incus, in the style of the teacher's sandbox executors (exec_docker.go).
package runtime

import (
	"context"
	"time"
)

// State is a container's lifecycle state.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFrozen  State = "frozen"
)

// ContainerInfo describes a single container as reported by the runtime.
type ContainerInfo struct {
	Name        string
	State       State
	IPv4        string
	Image       string
	DiskUsage   int64
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// ImageInfo describes a published image.
type ImageInfo struct {
	Alias     string
	Size      int64
	CreatedAt time.Time
}

// DeviceSpec describes a device to attach to a container (disk mount,
// proxy, etc). Props carries the runtime-specific key=value pairs.
type DeviceSpec struct {
	Name  string
	Type  string
	Props map[string]string
}

// ContainerRuntime is the abstraction every bubble component (provisioner,
// image builder, relay) programs against; it is deliberately narrow so a
// fake implementation can back tests without a real container daemon.
type ContainerRuntime interface {
	IsAvailable(ctx context.Context) bool

	Launch(ctx context.Context, name, image string) (ContainerInfo, error)
	ListContainers(ctx context.Context, fast bool) ([]ContainerInfo, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Freeze(ctx context.Context, name string) error
	Unfreeze(ctx context.Context, name string) error
	Delete(ctx context.Context, name string, force bool) error
	Exec(ctx context.Context, name string, command []string) (string, error)

	AddDevice(ctx context.Context, name string, dev DeviceSpec) error
	AddDisk(ctx context.Context, name, deviceName, source, path string, readonly bool) error

	Publish(ctx context.Context, name, alias string) error
	ImageExists(ctx context.Context, alias string) bool
	ImageDelete(ctx context.Context, alias string) error
	ListImages(ctx context.Context) ([]ImageInfo, error)

	PushFile(ctx context.Context, name, localPath, remotePath string) error
	PullFile(ctx context.Context, name, remotePath, localPath string) error
}
