package runtime

import (
	"context"

	"github.com/opskit/stevedore/pkg/types"
)

// Runtime is the container runtime surface the reconciler drives. It is an
// interface so deployment logic can be exercised against a fake runtime in
// tests.
type Runtime interface {
	// ContainerExists reports whether a container with the name exists,
	// running or stopped.
	ContainerExists(ctx context.Context, name string) (bool, error)

	// StopContainer stops the named container. Absence is not an error.
	StopContainer(ctx context.Context, name string) error

	// RemoveContainer removes the named container. Absence is not an error.
	RemoveContainer(ctx context.Context, name string) error

	// PruneVolumes removes every volume whose name contains the pattern.
	// Destructive; returns the names that were removed.
	PruneVolumes(ctx context.Context, pattern string) ([]string, error)

	// EnsureNetwork creates the network if it does not exist.
	EnsureNetwork(ctx context.Context, network *types.Network) error

	// EnsureVolume creates the named volume if it does not exist.
	EnsureVolume(ctx context.Context, volume *types.Volume) error

	// BuildImage builds the service image from its build context.
	BuildImage(ctx context.Context, image, contextDir string) error

	// RunContainer creates and starts a container per the service
	// definition and returns the container ID.
	RunContainer(ctx context.Context, svc *types.Service) (string, error)

	// Logs returns the last tail lines of the named container's log.
	Logs(ctx context.Context, name string, tail int) ([]string, error)
}
