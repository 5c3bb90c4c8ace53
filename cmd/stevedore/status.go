package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opskit/stevedore/pkg/deploy"
	"github.com/opskit/stevedore/pkg/reach"
	"github.com/opskit/stevedore/pkg/remote"
	"github.com/opskit/stevedore/pkg/runtime"
	"github.com/opskit/stevedore/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the deployed services once",
	Long: `Run a single probe pass against every service in the topology and
check the public endpoint, without deploying anything. Connects over
SSH when --host is given, otherwise inspects the local machine.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("source", "s", ".", "Local working tree")
	statusCmd.Flags().StringP("manifest", "f", "", "Topology manifest, relative to the source dir")
	statusCmd.Flags().String("host", "", "Target host (empty inspects the local machine)")
	statusCmd.Flags().String("user", "", "SSH user")
	statusCmd.Flags().String("key", "", "SSH private key file")
	statusCmd.Flags().Int("port", 0, "SSH port")
	statusCmd.Flags().String("domain", "", "Public hostname for the reachability check")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig(cmd)
	sourceDir, _ := cmd.Flags().GetString("source")

	topo, err := loadTopology(sourceDir, cfg.ManifestPath)
	if err != nil {
		return err
	}

	var runner remote.Runner
	if cfg.Host == "" {
		runner = remote.NewLocalRunner()
	} else {
		sshRunner, err := remote.Dial(remote.SSHConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			PrivateKeyPath: cfg.KeyPath,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.Host, err)
		}
		defer sshRunner.Close()
		runner = sshRunner
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	rt := runtime.NewDockerRuntime(runner, cfg.RemoteDir)
	checkers := deploy.NewCheckerFactory(cfg.Host, rt)

	degraded := false
	fmt.Printf("%-20s %-10s %s\n", "SERVICE", "RUNNING", "PROBE")
	for _, svc := range topo.Services {
		running, err := rt.ContainerExists(ctx, svc.ContainerName)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", svc.ContainerName, err)
		}

		probe := "-"
		if svc.HealthCheck != nil {
			probeCtx, cancelProbe := context.WithTimeout(ctx, probeTimeout(svc))
			result := checkers(svc).Check(probeCtx)
			cancelProbe()
			if result.Healthy {
				probe = "healthy"
			} else {
				probe = fmt.Sprintf("unhealthy (%s)", result.Message)
				degraded = true
			}
		}
		if !running {
			degraded = true
		}
		fmt.Printf("%-20s %-10v %s\n", svc.Name, running, probe)
	}

	if cfg.Domain != "" {
		verdict := reach.NewVerifier(cfg.Domain).Verify(ctx)
		fmt.Printf("\nReachability: %s\n", verdict)
		if verdict != types.ReachableEncrypted {
			degraded = true
		}
	}

	if degraded {
		return fmt.Errorf("one or more services degraded")
	}
	return nil
}

func probeTimeout(svc *types.Service) time.Duration {
	if svc.HealthCheck.Timeout > 0 {
		return svc.HealthCheck.Timeout
	}
	return 5 * time.Second
}
