package reconciler

import (
	"context"
	"fmt"
	"sort"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/health"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/metrics"
	"github.com/opskit/stevedore/pkg/runtime"
	"github.com/opskit/stevedore/pkg/types"
)

// DefaultLogTail is how many log lines are captured when a service fails.
const DefaultLogTail = 40

// CheckerFactory builds the health checker for a service. Injected so the
// reconciler can be exercised without a container runtime.
type CheckerFactory func(svc *types.Service) health.Checker

// Result records what the reconciler did for one service.
type Result struct {
	Service string
	Started bool
	Skipped string // Reason the service was never started, if any
	LogTail []string
}

// Reconciler brings the target host's running containers in line with the
// declared topology: old instances down, new instances up, in dependency
// order, with healthy-gating between dependent services.
type Reconciler struct {
	rt           runtime.Runtime
	poller       *health.Poller
	checkers     CheckerFactory
	prunePattern string
	logTail      int
}

// New creates a reconciler. prunePattern, when non-empty, removes volumes
// whose names contain it before any service starts.
func New(rt runtime.Runtime, poller *health.Poller, checkers CheckerFactory, prunePattern string) *Reconciler {
	return &Reconciler{
		rt:           rt,
		poller:       poller,
		checkers:     checkers,
		prunePattern: prunePattern,
		logTail:      DefaultLogTail,
	}
}

// Reconcile walks services in dependency order, replacing any previous
// instance of each. It is idempotent: running it twice against the same
// topology yields the same set of running container names. It is not
// transactional: a failure partway leaves a mix of old and new containers
// for the caller to report as a failed deployment.
func (r *Reconciler) Reconcile(ctx context.Context, topo *types.Topology) ([]*Result, error) {
	logger := log.WithComponent("reconciler")

	if r.prunePattern != "" {
		removed, err := r.rt.PruneVolumes(ctx, r.prunePattern)
		if err != nil {
			return nil, fmt.Errorf("prune volumes: %w", err)
		}
		if len(removed) > 0 {
			logger.Warn().Strs("volumes", removed).Msg("pruned volumes")
		}
	}

	for _, name := range sortedKeys(topo.Networks) {
		if err := r.rt.EnsureNetwork(ctx, topo.Networks[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(topo.Volumes) {
		if err := r.rt.EnsureVolume(ctx, topo.Volumes[name]); err != nil {
			return nil, err
		}
	}

	results := make([]*Result, 0, len(topo.Services))
	byName := make(map[string]*Result, len(topo.Services))

	for _, svc := range topo.Services {
		res := &Result{Service: svc.Name}
		results = append(results, res)
		byName[svc.Name] = res

		if reason := r.awaitDependencies(ctx, svc, topo, byName); reason != "" {
			logger.Warn().Str("service", svc.Name).Str("reason", reason).Msg("service not started")
			res.Skipped = reason
			continue
		}

		if err := r.replace(ctx, svc); err != nil {
			res.LogTail, _ = r.rt.Logs(ctx, svc.ContainerName, r.logTail)
			return results, &errdefs.StartupError{
				Service: svc.Name,
				LogTail: res.LogTail,
				Err:     err,
			}
		}
		res.Started = true
		metrics.ContainersStarted.Inc()
		logger.Info().Str("service", svc.Name).Str("container", svc.ContainerName).Msg("service started")
	}

	return results, nil
}

// awaitDependencies blocks until every dependency of svc satisfies its
// condition. Returns a non-empty reason when svc must be skipped.
func (r *Reconciler) awaitDependencies(ctx context.Context, svc *types.Service, topo *types.Topology, byName map[string]*Result) string {
	for _, dep := range svc.DependsOn {
		depRes, ok := byName[dep.Service]
		if !ok || !depRes.Started {
			return fmt.Sprintf("dependency %s was not started", dep.Service)
		}
		if dep.Condition != types.ConditionHealthy {
			continue
		}

		depSvc := findService(topo, dep.Service)
		if depSvc.HealthCheck == nil {
			// Nothing to probe; started is the best signal available
			logger := log.WithComponent("reconciler")
			logger.Warn().
				Str("service", svc.Name).
				Str("dependency", dep.Service).
				Msg("service_healthy condition on dependency without a healthcheck")
			continue
		}

		outcome := r.poller.Await(ctx, health.Probe{
			Name:    depSvc.Name,
			Checker: r.checkers(depSvc),
			Config: health.Config{
				Interval:    depSvc.HealthCheck.Interval,
				Timeout:     depSvc.HealthCheck.Timeout,
				Retries:     depSvc.HealthCheck.Retries,
				StartPeriod: depSvc.HealthCheck.StartPeriod,
			},
		})
		if outcome.State != health.StateHealthy {
			return fmt.Sprintf("dependency %s never became healthy (%s)", dep.Service, outcome.State)
		}
	}
	return ""
}

// replace tears down the previous instance and starts the new one.
func (r *Reconciler) replace(ctx context.Context, svc *types.Service) error {
	if err := r.rt.StopContainer(ctx, svc.ContainerName); err != nil {
		return err
	}
	if err := r.rt.RemoveContainer(ctx, svc.ContainerName); err != nil {
		return err
	}
	if svc.BuildContext != "" {
		if err := r.rt.BuildImage(ctx, svc.Image, svc.BuildContext); err != nil {
			return err
		}
	}
	_, err := r.rt.RunContainer(ctx, svc)
	return err
}

func findService(topo *types.Topology, name string) *types.Service {
	for _, svc := range topo.Services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
