package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opskit/stevedore/pkg/archive"
	"github.com/opskit/stevedore/pkg/bootstrap"
	"github.com/opskit/stevedore/pkg/config"
	"github.com/opskit/stevedore/pkg/deploy"
	"github.com/opskit/stevedore/pkg/health"
	"github.com/opskit/stevedore/pkg/journal"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/metrics"
	"github.com/opskit/stevedore/pkg/reach"
	"github.com/opskit/stevedore/pkg/reconciler"
	"github.com/opskit/stevedore/pkg/remote"
	"github.com/opskit/stevedore/pkg/runtime"
	"github.com/opskit/stevedore/pkg/topology"
	"github.com/opskit/stevedore/pkg/types"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the working tree to a host",
	Long: `Ship the source directory to the target, make sure Docker is
installed and running, replace the containers described by the topology
manifest, wait for every service to become healthy, and verify the
public endpoint answers over HTTPS.

Examples:
  # Deploy the current directory to a remote host
  stevedore deploy --host 203.0.113.7 --domain app.example.com

  # Deploy to the local machine
  stevedore deploy --source ./myapp`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringP("source", "s", ".", "Local working tree to deploy")
	deployCmd.Flags().StringP("manifest", "f", "", "Topology manifest, relative to the source dir")
	deployCmd.Flags().String("host", "", "Target host (empty deploys locally)")
	deployCmd.Flags().String("user", "", "SSH user")
	deployCmd.Flags().String("key", "", "SSH private key file")
	deployCmd.Flags().Int("port", 0, "SSH port")
	deployCmd.Flags().String("dir", "", "Application directory on the target")
	deployCmd.Flags().String("domain", "", "Public hostname for the reachability check")
	deployCmd.Flags().String("prune-pattern", "", "Remove dangling volumes whose name contains this substring")
	deployCmd.Flags().Duration("poll-interval", 0, "Spacing between readiness probes")
	deployCmd.Flags().Int("poll-attempts", 0, "Probe budget per service")
	deployCmd.Flags().Int("log-tail", reconciler.DefaultLogTail, "Log lines captured per degraded service")
	deployCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address for the run")
	deployCmd.Flags().String("journal", "", "Run history database file")

	rootCmd.AddCommand(deployCmd)
}

// resolveConfig layers command-line flags over the environment.
func resolveConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()

	if v, _ := cmd.Flags().GetString("manifest"); v != "" {
		cfg.ManifestPath = v
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.User = v
	}
	if v, _ := cmd.Flags().GetString("key"); v != "" {
		cfg.KeyPath = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		cfg.RemoteDir = v
	}
	if v, _ := cmd.Flags().GetString("domain"); v != "" {
		cfg.Domain = v
	}
	if cmd.Flags().Changed("prune-pattern") {
		cfg.PrunePattern, _ = cmd.Flags().GetString("prune-pattern")
	}
	if v, _ := cmd.Flags().GetDuration("poll-interval"); v > 0 {
		cfg.PollInterval = v
	}
	if v, _ := cmd.Flags().GetInt("poll-attempts"); v > 0 {
		cfg.PollAttempts = v
	}
	if v, _ := cmd.Flags().GetString("journal"); v != "" {
		cfg.JournalPath = v
	}
	return cfg
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig(cmd)
	sourceDir, _ := cmd.Flags().GetString("source")
	logTail, _ := cmd.Flags().GetInt("log-tail")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	topo, err := loadTopology(sourceDir, cfg.ManifestPath)
	if err != nil {
		return err
	}

	// Cancel the run cleanly on Ctrl+C; containers already replaced stay up.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		shutdown := metrics.Serve(metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	var (
		runner   remote.Runner
		transfer deploy.Transferrer
	)
	if cfg.Host == "" {
		// Local rollout: the working tree is already in place.
		runner = remote.NewLocalRunner()
		cfg.RemoteDir = sourceDir
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
		transfer = archive.NewTransferrer(sshRunner.Client(), sshRunner)
	}

	rt := runtime.NewDockerRuntime(runner, cfg.RemoteDir)
	poller := health.NewPoller(cfg.PollInterval, cfg.PollAttempts)
	recon := reconciler.New(rt, poller, deploy.NewCheckerFactory(cfg.Host, rt), cfg.PrunePattern)

	var verifier deploy.Verifier
	if cfg.Domain != "" {
		verifier = reach.NewVerifier(cfg.Domain)
	}

	pipeline := deploy.NewPipeline(deploy.Config{
		Topology:  topo,
		SourceDir: pickSourceDir(sourceDir, cfg.Host),
		RemoteDir: cfg.RemoteDir,
		Host:      cfg.Host,
		Domain:    cfg.Domain,
		LogTail:   logTail,
	}, transfer, bootstrap.New(runner), recon, poller, verifier, rt)

	outcome := pipeline.Run(ctx)
	recordRun(cfg.JournalPath, outcome)
	report(outcome)

	if outcome.Err != "" {
		return fmt.Errorf("deployment failed: %s", outcome.Err)
	}
	if outcome.Degraded {
		return fmt.Errorf("deployment completed degraded")
	}
	return nil
}

func loadTopology(sourceDir, manifest string) (*types.Topology, error) {
	path := manifest
	if !filepath.IsAbs(path) {
		path = filepath.Join(sourceDir, manifest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return topology.Load(data)
}

// pickSourceDir returns the directory to ship, or empty for local rollouts
// where the transfer stage is skipped.
func pickSourceDir(sourceDir, host string) string {
	if host == "" {
		return ""
	}
	return sourceDir
}

func recordRun(path string, outcome *types.DeploymentOutcome) {
	if path == "" {
		return
	}
	logger := log.WithComponent("journal")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn().Err(err).Msg("cannot create journal directory")
		return
	}
	j, err := journal.Open(path)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot open journal, run not recorded")
		return
	}
	defer j.Close()
	if err := j.Record(outcome); err != nil {
		logger.Warn().Err(err).Msg("failed to record run")
	}
}

func report(outcome *types.DeploymentOutcome) {
	fmt.Println()
	for _, svc := range outcome.Services {
		mark := "✓"
		if svc.Status != types.StatusHealthy {
			mark = "✗"
			if !svc.Started {
				mark = "-"
			}
		}
		fmt.Printf("%s %-20s %s", mark, svc.Name, svc.Status)
		if svc.Message != "" {
			fmt.Printf("  (%s)", svc.Message)
		}
		fmt.Println()
		for _, line := range svc.LogTail {
			fmt.Printf("    %s\n", line)
		}
	}

	fmt.Println()
	switch outcome.Reachability {
	case types.ReachableEncrypted:
		fmt.Println("✓ Endpoint reachable over HTTPS")
	case types.ReachablePlain:
		fmt.Println("! Endpoint reachable over plain HTTP only")
	case types.Unreachable:
		fmt.Println("✗ Endpoint unreachable")
	}

	elapsed := outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Second)
	switch {
	case outcome.Err != "":
		fmt.Printf("\n✗ Deployment %s failed after %s: %s\n", outcome.RunID, elapsed, outcome.Err)
	case outcome.Degraded:
		fmt.Printf("\n! Deployment %s completed degraded in %s\n", outcome.RunID, elapsed)
	default:
		fmt.Printf("\n✓ Deployment %s succeeded in %s\n", outcome.RunID, elapsed)
	}
}
