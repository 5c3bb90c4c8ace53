package health

import (
	"context"
	"sync"
	"time"

	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/metrics"
)

// State is the polling state of one service.
//
//	Starting → Healthy   (terminal, success)
//	Starting → Unhealthy (failure streak crossed the retry threshold;
//	                      polling continues, a late success still wins)
//	Starting/Unhealthy → TimedOut (terminal, attempt budget exhausted)
type State string

const (
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateTimedOut  State = "timed-out"
)

// Terminal reports whether no further probing can change the state.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateTimedOut
}

// Outcome is the final polling result for one service.
type Outcome struct {
	State    State
	Attempts int
	Message  string
}

// Probe pairs a service name with its checker and thresholds.
type Probe struct {
	Name    string
	Checker Checker
	Config  Config
}

// Poller drives readiness probes to a terminal state. Results are cached
// per service name, so a service already proven healthy during dependency
// gating is not probed again by the aggregate pass.
type Poller struct {
	interval    time.Duration
	maxAttempts int

	mu      sync.Mutex
	results map[string]Outcome
}

// NewPoller creates a poller with the given probe spacing and attempt
// budget. Zero values fall back to the rollout defaults (6s, 15 attempts).
func NewPoller(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = 6 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	return &Poller{
		interval:    interval,
		maxAttempts: maxAttempts,
		results:     make(map[string]Outcome),
	}
}

// Await polls one service until it reaches a terminal state or the attempt
// budget runs out. Safe for concurrent use across distinct services.
func (p *Poller) Await(ctx context.Context, probe Probe) Outcome {
	p.mu.Lock()
	if cached, ok := p.results[probe.Name]; ok && cached.State.Terminal() {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	outcome := p.poll(ctx, probe)

	p.mu.Lock()
	p.results[probe.Name] = outcome
	p.mu.Unlock()
	return outcome
}

func (p *Poller) poll(ctx context.Context, probe Probe) Outcome {
	logger := log.WithService(probe.Name)

	cfg := probe.Config
	interval := cfg.Interval
	if interval <= 0 {
		interval = p.interval
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if cfg.StartPeriod > 0 {
		logger.Debug().Dur("start_period", cfg.StartPeriod).Msg("waiting out start period")
		if !sleepCtx(ctx, cfg.StartPeriod) {
			return Outcome{State: StateTimedOut, Message: ctx.Err().Error()}
		}
	}

	status := NewStatus()
	state := StateStarting

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		result := probe.Checker.Check(probeCtx)
		cancel()

		status.Update(result, cfg)
		metrics.ProbesTotal.WithLabelValues(probe.Name, boolLabel(result.Healthy)).Inc()
		metrics.ProbeDuration.WithLabelValues(probe.Name).Observe(result.Duration.Seconds())

		if result.Healthy {
			logger.Info().Int("attempt", attempt).Msg("service is healthy")
			return Outcome{State: StateHealthy, Attempts: attempt, Message: result.Message}
		}

		logger.Debug().Int("attempt", attempt).Str("probe", result.Message).Msg("probe failed")
		if status.UnhealthyMarked && state == StateStarting {
			state = StateUnhealthy
			logger.Warn().
				Int("consecutive_failures", status.ConsecutiveFailures).
				Msg("service crossed unhealthy threshold, continuing to poll")
		}

		if attempt < p.maxAttempts {
			if !sleepCtx(ctx, interval) {
				break
			}
		}
	}

	logger.Error().Int("attempts", status.Attempts).Msg("service never became healthy")
	return Outcome{
		State:    StateTimedOut,
		Attempts: status.Attempts,
		Message:  status.LastResult.Message,
	}
}

// PollAll polls every probe concurrently and blocks until all of them are
// terminal. The run never proceeds past polling with a service still in
// flight.
func (p *Poller) PollAll(ctx context.Context, probes []Probe) map[string]Outcome {
	results := make(map[string]Outcome, len(probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, probe := range probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			outcome := p.Await(ctx, probe)
			mu.Lock()
			results[probe.Name] = outcome
			mu.Unlock()
		}(probe)
	}

	wg.Wait()
	return results
}

// sleepCtx sleeps for d unless the context ends first. Reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func boolLabel(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}
