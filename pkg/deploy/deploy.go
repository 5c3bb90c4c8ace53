package deploy

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/health"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/metrics"
	"github.com/opskit/stevedore/pkg/reconciler"
	"github.com/opskit/stevedore/pkg/remote"
	"github.com/opskit/stevedore/pkg/runtime"
	"github.com/opskit/stevedore/pkg/types"
)

// Transferrer ships the working tree to the target.
type Transferrer interface {
	Push(ctx context.Context, srcDir, remoteDir string) error
}

// Bootstrapper prepares the target's container runtime.
type Bootstrapper interface {
	Ensure(ctx context.Context) error
}

// Reconciler replaces running containers per the topology.
type Reconciler interface {
	Reconcile(ctx context.Context, topo *types.Topology) ([]*reconciler.Result, error)
}

// Verifier performs the external end-to-end check.
type Verifier interface {
	Verify(ctx context.Context) types.Reachability
}

// Config carries the per-run parameters of the pipeline.
type Config struct {
	Topology  *types.Topology
	SourceDir string // Local working tree to ship; empty skips transfer
	RemoteDir string // Application directory on the target
	Host      string // Target host, used to address published ports
	Domain    string // Public hostname for the reachability check; empty skips it
	LogTail   int    // Log lines captured per degraded service
}

// Pipeline runs one deployment: transfer → bootstrap → reconcile → poll →
// verify → report. Fatal errors short-circuit; health timeouts and
// reachability failures only degrade the reported outcome.
type Pipeline struct {
	cfg      Config
	transfer Transferrer
	boot     Bootstrapper
	recon    Reconciler
	poller   *health.Poller
	verifier Verifier
	rt       runtime.Runtime
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(cfg Config, transfer Transferrer, boot Bootstrapper, recon Reconciler, poller *health.Poller, verifier Verifier, rt runtime.Runtime) *Pipeline {
	if cfg.LogTail <= 0 {
		cfg.LogTail = reconciler.DefaultLogTail
	}
	return &Pipeline{
		cfg:      cfg,
		transfer: transfer,
		boot:     boot,
		recon:    recon,
		poller:   poller,
		verifier: verifier,
		rt:       rt,
	}
}

// Run executes the pipeline and always returns an outcome, even for runs
// that abort early; the outcome's Err field carries the fatal error.
func (p *Pipeline) Run(ctx context.Context) *types.DeploymentOutcome {
	outcome := &types.DeploymentOutcome{
		RunID:     uuid.New().String(),
		Host:      p.cfg.Host,
		StartedAt: time.Now(),
	}
	logger := log.WithRunID(outcome.RunID)
	logger.Info().Str("host", p.cfg.Host).Msg("deployment run starting")

	defer func() {
		outcome.FinishedAt = time.Now()
		metrics.DeploysTotal.WithLabelValues(verdict(outcome)).Inc()
	}()

	for _, svc := range p.cfg.Topology.Services {
		outcome.Services = append(outcome.Services, &types.ServiceOutcome{
			Name:   svc.Name,
			Status: types.StatusUnknown,
		})
	}

	if p.transfer != nil && p.cfg.SourceDir != "" {
		timer := metrics.NewTimer()
		if err := p.transfer.Push(ctx, p.cfg.SourceDir, p.cfg.RemoteDir); err != nil {
			outcome.Err = err.Error()
			logger.Error().Err(err).Msg("transfer failed, aborting")
			return outcome
		}
		timer.ObserveStage("transfer")
	}

	timer := metrics.NewTimer()
	if err := p.boot.Ensure(ctx); err != nil {
		outcome.Err = err.Error()
		logger.Error().Err(err).Msg("bootstrap failed, aborting")
		return outcome
	}
	timer.ObserveStage("bootstrap")

	timer = metrics.NewTimer()
	results, err := p.recon.Reconcile(ctx, p.cfg.Topology)
	p.applyReconcileResults(outcome, results)
	if err != nil {
		// Partial state stays in place for inspection; no rollback
		outcome.Err = err.Error()
		p.captureLogTails(ctx, outcome)
		logger.Error().Err(err).Msg("reconciliation failed, aborting")
		return outcome
	}
	timer.ObserveStage("reconcile")

	timer = metrics.NewTimer()
	p.pollServices(ctx, outcome)
	timer.ObserveStage("poll")

	if p.verifier != nil {
		timer = metrics.NewTimer()
		outcome.Reachability = p.verifier.Verify(ctx)
		timer.ObserveStage("verify")
		if outcome.Reachability != types.ReachableEncrypted {
			outcome.Degraded = true
		}
	}

	p.captureLogTails(ctx, outcome)
	logger.Info().
		Bool("degraded", outcome.Degraded).
		Str("reachability", string(outcome.Reachability)).
		Msg("deployment run finished")
	return outcome
}

func (p *Pipeline) applyReconcileResults(outcome *types.DeploymentOutcome, results []*reconciler.Result) {
	for _, res := range results {
		so := outcome.Service(res.Service)
		if so == nil {
			continue
		}
		so.Started = res.Started
		if res.Skipped != "" {
			so.Message = res.Skipped
			outcome.Degraded = true
		}
		if len(res.LogTail) > 0 {
			so.LogTail = res.LogTail
		}
	}
}

// pollServices drives every started, probed service to a terminal state
// and classifies it.
func (p *Pipeline) pollServices(ctx context.Context, outcome *types.DeploymentOutcome) {
	var probes []health.Probe
	for _, svc := range p.cfg.Topology.Services {
		so := outcome.Service(svc.Name)
		if so == nil || !so.Started {
			continue
		}
		if svc.HealthCheck == nil {
			so.Message = "started, no readiness probe"
			continue
		}
		probes = append(probes, health.Probe{
			Name:    svc.Name,
			Checker: p.CheckerFor(svc),
			Config: health.Config{
				Interval:    svc.HealthCheck.Interval,
				Timeout:     svc.HealthCheck.Timeout,
				Retries:     svc.HealthCheck.Retries,
				StartPeriod: svc.HealthCheck.StartPeriod,
			},
		})
	}

	for name, res := range p.poller.PollAll(ctx, probes) {
		so := outcome.Service(name)
		if so == nil {
			continue
		}
		so.Message = res.Message
		if res.State == health.StateHealthy {
			so.Status = types.StatusHealthy
		} else {
			if so.Message == "" {
				so.Message = errdefs.ErrHealthTimeout.Error()
			}
			so.Status = types.StatusUnhealthy
			outcome.Degraded = true
		}
	}
}

// captureLogTails grabs the last log lines of every service that did not
// come up clean, so the report carries diagnostics.
func (p *Pipeline) captureLogTails(ctx context.Context, outcome *types.DeploymentOutcome) {
	if p.rt == nil {
		return
	}
	for _, so := range outcome.Services {
		if so.Status == types.StatusHealthy || !so.Started || len(so.LogTail) > 0 {
			continue
		}
		svc := findService(p.cfg.Topology, so.Name)
		if svc == nil {
			continue
		}
		if lines, err := p.rt.Logs(ctx, svc.ContainerName, p.cfg.LogTail); err == nil {
			so.LogTail = lines
		}
	}
}

// NewCheckerFactory returns a factory building the same probes the
// pipeline uses, so dependency gating during reconciliation and the
// aggregate polling pass observe identical results.
func NewCheckerFactory(host string, rt runtime.Runtime) reconciler.CheckerFactory {
	return func(svc *types.Service) health.Checker {
		return checkerFor(host, rt, svc)
	}
}

// CheckerFor builds the health checker for a service. HTTP and TCP probes
// issued from the orchestrator address the target host's published ports,
// so loopback endpoints in the manifest are rewritten to the target.
func (p *Pipeline) CheckerFor(svc *types.Service) health.Checker {
	return checkerFor(p.cfg.Host, p.rt, svc)
}

func checkerFor(host string, rt runtime.Runtime, svc *types.Service) health.Checker {
	hc := svc.HealthCheck
	switch hc.Type {
	case types.HealthCheckHTTP:
		return health.NewHTTPChecker(rewriteLoopback(hc.Endpoint, host))
	case types.HealthCheckTCP:
		return health.NewTCPChecker(rewriteLoopbackAddr(hc.Endpoint, host))
	default:
		return newExecChecker(rt, svc)
	}
}

// execRunner is implemented by runtimes that expose their runner for exec
// probes.
type execRunner interface {
	Runner() remote.Runner
}

func newExecChecker(rt runtime.Runtime, svc *types.Service) health.Checker {
	if er, ok := rt.(execRunner); ok {
		return health.NewExecChecker(er.Runner(), svc.ContainerName, svc.HealthCheck.Command)
	}
	// Without a runner the probe degrades to a TCP no-op against nothing;
	// only reachable in tests with fake runtimes.
	return health.NewTCPChecker("127.0.0.1:1")
}

func rewriteLoopback(endpoint, host string) string {
	if host == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	if hn := u.Hostname(); hn == "localhost" || hn == "127.0.0.1" {
		port := u.Port()
		if port != "" {
			u.Host = host + ":" + port
		} else {
			u.Host = host
		}
	}
	return u.String()
}

func rewriteLoopbackAddr(addr, host string) string {
	if host == "" {
		return addr
	}
	if strings.HasPrefix(addr, "localhost:") {
		return host + addr[len("localhost"):]
	}
	if strings.HasPrefix(addr, "127.0.0.1:") {
		return host + addr[len("127.0.0.1"):]
	}
	return addr
}

func findService(topo *types.Topology, name string) *types.Service {
	for _, svc := range topo.Services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

func verdict(o *types.DeploymentOutcome) string {
	switch {
	case o.Err != "":
		return "failed"
	case o.Degraded:
		return "degraded"
	default:
		return "success"
	}
}
