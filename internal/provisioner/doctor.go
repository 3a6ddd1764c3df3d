package provisioner

import (
	"context"
	"fmt"

	"github.com/kim-em/bubble/internal/lifecycle"
	"github.com/kim-em/bubble/internal/runtime"
)

// Discrepancy is one mismatch found by Reconcile between the runtime's
// actual containers and the lifecycle registry.
type Discrepancy struct {
	Name string
	// Kind is either "orphaned_registry_entry" (registered but the
	// container doesn't exist) or "unregistered_container" (a container
	// exists but isn't registered; every runtime container is checked,
	// with no filter on its name or image).
	Kind string
}

const (
	KindOrphanedRegistryEntry = "orphaned_registry_entry"
	KindUnregisteredContainer = "unregistered_container"
)

// Reconcile implements spec.md §5's doctor routine: list the runtime's
// containers, diff against the lifecycle registry in both directions.
// It never mutates state itself; callers decide what to do with the
// discrepancies (interactive confirmation, machine-readable report).
func Reconcile(ctx context.Context, rt runtime.ContainerRuntime, reg *lifecycle.Registry) ([]Discrepancy, error) {
	containers, err := rt.ListContainers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	live := make(map[string]bool, len(containers))
	for _, c := range containers {
		live[c.Name] = true
	}

	registered := reg.All()

	var out []Discrepancy
	for name := range registered {
		if !live[name] {
			out = append(out, Discrepancy{Name: name, Kind: KindOrphanedRegistryEntry})
		}
	}
	for name := range live {
		if _, ok := registered[name]; !ok {
			out = append(out, Discrepancy{Name: name, Kind: KindUnregisteredContainer})
		}
	}
	return out, nil
}

// Resolve removes an orphaned registry entry. Unregistered containers
// are left alone: a container with no registry entry might be unrelated
// to bubble, so doctor only ever reports it, never deletes it.
func Resolve(d Discrepancy, reg *lifecycle.Registry) error {
	if d.Kind != KindOrphanedRegistryEntry {
		return nil
	}
	return reg.Unregister(d.Name)
}
