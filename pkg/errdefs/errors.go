package errdefs

import (
	"errors"
	"fmt"
)

// ParseError indicates a malformed topology document. It aborts the run
// before any remote action is taken.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("topology parse error: %s", e.Reason)
	}
	return fmt.Sprintf("topology parse error: %s: %s", e.Field, e.Reason)
}

// CyclicDependencyError indicates the depends_on graph contains a cycle.
type CyclicDependencyError struct {
	Cycle []string // Service names along the cycle
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic service dependency: %v", e.Cycle)
}

// TransferError indicates the archive could not be copied to the remote
// host. Fatal; retried at the CI-trigger level, never within a run.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("archive transfer failed: %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// BootstrapError indicates the container runtime or its tooling could not
// be installed on the remote host. Fatal.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap failed at %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// StartupError indicates a container failed to start. It carries the tail
// of the container log captured before the error was propagated.
type StartupError struct {
	Service string
	LogTail []string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("service %s failed to start: %v", e.Service, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ErrHealthTimeout marks services that never reached healthy within the
// polling budget. Non-fatal: the run continues so operators get full
// diagnostics.
var ErrHealthTimeout = errors.New("health polling exceeded attempt budget")

// ErrUnreachable marks a public endpoint that answered on neither
// transport. Non-fatal; reported with final logs.
var ErrUnreachable = errors.New("endpoint unreachable on both transports")
