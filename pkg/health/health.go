package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout is the maximum time to wait for one probe to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before the service is
	// marked unhealthy
	Retries int

	// StartPeriod is the grace period before probing begins, to let
	// slow-starting containers initialize
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with the rollout defaults: probe every
// six seconds, three strikes before unhealthy.
func DefaultConfig() Config {
	return Config{
		Interval: 6 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks probe history for one service during a polling run
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed probes
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful probes
	ConsecutiveSuccesses int

	// Attempts is the total number of probes performed
	Attempts int

	// LastResult is the result of the last probe
	LastResult Result

	// UnhealthyMarked is set once the failure streak crosses the retry
	// threshold. The poller keeps probing afterwards; a late success still
	// wins.
	UnhealthyMarked bool

	// StartedAt is when polling started for this service
	StartedAt time.Time
}

// NewStatus creates a new Status
func NewStatus() *Status {
	return &Status{StartedAt: time.Now()}
}

// Update records a probe result against the configured thresholds.
func (s *Status) Update(result Result, config Config) {
	s.Attempts++
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.UnhealthyMarked = true
		}
	}
}
