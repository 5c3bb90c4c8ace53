package bootstrap

import (
	"context"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/remote"
)

// Bootstrapper ensures the container runtime is present and running on the
// deployment target. Every step is idempotent: tools already installed are
// probed and left alone.
type Bootstrapper struct {
	runner remote.Runner
}

// New creates a bootstrapper over the given runner.
func New(runner remote.Runner) *Bootstrapper {
	return &Bootstrapper{runner: runner}
}

// Ensure installs the container runtime if it is absent and makes sure the
// daemon is up. Failures are fatal to the run.
func (b *Bootstrapper) Ensure(ctx context.Context) error {
	logger := log.WithComponent("bootstrap")

	if b.have(ctx, "docker") {
		logger.Debug().Msg("container runtime already installed")
	} else {
		logger.Info().Msg("installing container runtime")
		if _, err := b.runner.Run(ctx, remote.Command{
			Name:    "sh",
			Args:    []string{"-c", "curl -fsSL https://get.docker.com | sh"},
			Timeout: 10 * time.Minute,
		}); err != nil {
			return &errdefs.BootstrapError{Step: "install-runtime", Err: err}
		}
	}

	// The daemon may be installed but stopped after a reboot
	if _, err := b.runner.Run(ctx, remote.Command{
		Name: "sh",
		Args: []string{"-c", "systemctl is-active --quiet docker || sudo systemctl start docker"},
	}); err != nil {
		return &errdefs.BootstrapError{Step: "start-daemon", Err: err}
	}

	if _, err := b.runner.Run(ctx, remote.Command{
		Name:    "docker",
		Args:    []string{"info"},
		Timeout: 30 * time.Second,
	}); err != nil {
		return &errdefs.BootstrapError{Step: "verify-daemon", Err: err}
	}

	logger.Info().Msg("container runtime ready")
	return nil
}

// have probes for a binary on the remote PATH. command -v is a shell
// builtin, so it goes through sh for both runner implementations.
func (b *Bootstrapper) have(ctx context.Context, name string) bool {
	_, err := b.runner.Run(ctx, remote.Command{
		Name:    "sh",
		Args:    []string{"-c", "command -v " + name},
		Timeout: 10 * time.Second,
	})
	return err == nil
}
