package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/remote"
	"github.com/opskit/stevedore/pkg/types"
)

// DockerRuntime drives the docker CLI on the deployment target through a
// remote.Runner. The target only needs a docker binary in PATH; no API
// socket is exposed over the network.
type DockerRuntime struct {
	runner  remote.Runner
	workDir string // Remote application directory; build contexts resolve against it
}

// NewDockerRuntime creates a docker-CLI-backed runtime.
func NewDockerRuntime(runner remote.Runner, workDir string) *DockerRuntime {
	return &DockerRuntime{runner: runner, workDir: workDir}
}

// Runner exposes the underlying runner so exec probes can reuse it.
func (d *DockerRuntime) Runner() remote.Runner {
	return d.runner
}

// ContainerExists reports whether a container with the name exists.
func (d *DockerRuntime) ContainerExists(ctx context.Context, name string) (bool, error) {
	out, err := d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"ps", "-aq", "--filter", "name=^" + name + "$"},
	})
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	return strings.TrimSpace(out.Stdout) != "", nil
}

// StopContainer stops the named container if it exists.
func (d *DockerRuntime) StopContainer(ctx context.Context, name string) error {
	exists, err := d.ContainerExists(ctx, name)
	if err != nil || !exists {
		return err
	}
	_, err = d.runner.Run(ctx, remote.Command{
		Name:    "docker",
		Args:    []string{"stop", name},
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// RemoveContainer removes the named container if it exists.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, name string) error {
	exists, err := d.ContainerExists(ctx, name)
	if err != nil || !exists {
		return err
	}
	_, err = d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"rm", "-f", name},
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// PruneVolumes removes every volume whose name contains pattern. This is
// used to clear corrupted state between rollouts; each removal is logged
// because the substring match can be broad on a shared host.
func (d *DockerRuntime) PruneVolumes(ctx context.Context, pattern string) ([]string, error) {
	logger := log.WithComponent("runtime")

	out, err := d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"volume", "ls", "-q"},
	})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}

	var removed []string
	for _, name := range strings.Fields(out.Stdout) {
		if !strings.Contains(name, pattern) {
			continue
		}
		logger.Warn().Str("volume", name).Str("pattern", pattern).Msg("pruning volume")
		if _, err := d.runner.Run(ctx, remote.Command{
			Name: "docker",
			Args: []string{"volume", "rm", name},
		}); err != nil {
			// A volume still attached to a container is skipped, not fatal
			logger.Warn().Err(err).Str("volume", name).Msg("volume prune skipped")
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// EnsureNetwork creates the network when it is missing.
func (d *DockerRuntime) EnsureNetwork(ctx context.Context, network *types.Network) error {
	_, err := d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"network", "inspect", network.Name},
	})
	if err == nil {
		return nil
	}
	if network.External {
		return fmt.Errorf("external network %s does not exist", network.Name)
	}

	driver := network.Driver
	if driver == "" {
		driver = "bridge"
	}
	_, err = d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"network", "create", "--driver", driver, network.Name},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", network.Name, err)
	}
	logger := log.WithComponent("runtime")
	logger.Info().Str("network", network.Name).Msg("network created")
	return nil
}

// EnsureVolume creates the named volume when it is missing.
func (d *DockerRuntime) EnsureVolume(ctx context.Context, volume *types.Volume) error {
	_, err := d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"volume", "inspect", volume.Name},
	})
	if err == nil {
		return nil
	}
	if volume.External {
		return fmt.Errorf("external volume %s does not exist", volume.Name)
	}

	driver := volume.Driver
	if driver == "" {
		driver = "local"
	}
	_, err = d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"volume", "create", "--driver", driver, volume.Name},
	})
	if err != nil {
		return fmt.Errorf("create volume %s: %w", volume.Name, err)
	}
	logger := log.WithComponent("runtime")
	logger.Info().Str("volume", volume.Name).Msg("volume created")
	return nil
}

// BuildImage builds the image from the service's build context. Builds are
// given a generous budget; a cold cache on a small host is slow.
func (d *DockerRuntime) BuildImage(ctx context.Context, image, contextDir string) error {
	logger := log.WithComponent("runtime")
	logger.Info().Str("image", image).Str("context", contextDir).Msg("building image")
	_, err := d.runner.Run(ctx, remote.Command{
		Name:    "docker",
		Args:    []string{"build", "-t", image, contextDir},
		Dir:     d.workDir,
		Timeout: 15 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("build %s: %w", image, err)
	}
	return nil
}

// RunContainer creates and starts a container per the service definition.
func (d *DockerRuntime) RunContainer(ctx context.Context, svc *types.Service) (string, error) {
	args := []string{"run", "-d", "--name", svc.ContainerName}

	if svc.RestartPolicy != "" {
		args = append(args, "--restart", string(svc.RestartPolicy))
	}
	for _, env := range svc.Env {
		args = append(args, "-e", env)
	}
	for _, p := range svc.Ports {
		spec := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
		if p.Protocol != "" && p.Protocol != "tcp" {
			spec += "/" + p.Protocol
		}
		args = append(args, "-p", spec)
	}
	for _, m := range svc.Volumes {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	// docker run only accepts one network; the rest are connected after
	for i, n := range svc.Networks {
		if i == 0 {
			args = append(args, "--network", n)
		}
	}
	args = append(args, svc.Image)

	out, err := d.runner.Run(ctx, remote.Command{
		Name:    "docker",
		Args:    args,
		Dir:     d.workDir,
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return "", fmt.Errorf("run %s: %w", svc.ContainerName, err)
	}
	containerID := strings.TrimSpace(out.Stdout)

	for i, n := range svc.Networks {
		if i == 0 {
			continue
		}
		if _, err := d.runner.Run(ctx, remote.Command{
			Name: "docker",
			Args: []string{"network", "connect", n, svc.ContainerName},
		}); err != nil {
			return containerID, fmt.Errorf("connect %s to %s: %w", svc.ContainerName, n, err)
		}
	}

	return containerID, nil
}

// Logs returns the last tail lines of the container log.
func (d *DockerRuntime) Logs(ctx context.Context, name string, tail int) ([]string, error) {
	out, err := d.runner.Run(ctx, remote.Command{
		Name: "docker",
		Args: []string{"logs", "--tail", fmt.Sprintf("%d", tail), name},
	})
	if err != nil {
		return nil, fmt.Errorf("logs %s: %w", name, err)
	}
	// docker writes container stderr to stderr; both streams are diagnostics
	combined := out.Stdout
	if out.Stderr != "" {
		combined += out.Stderr
	}
	lines := strings.Split(strings.TrimRight(combined, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}
