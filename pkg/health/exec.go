package health

import (
	"context"
	"fmt"
	"time"

	"github.com/opskit/stevedore/pkg/remote"
)

// ExecChecker runs a command inside the service's container via the
// container runtime on the deployment target. Exit code 0 means healthy.
type ExecChecker struct {
	// Container is the container to exec into
	Container string

	// Command is the probe command (e.g., ["curl", "-f", "http://localhost/health"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	runner remote.Runner
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(runner remote.Runner, container string, command []string) *ExecChecker {
	return &ExecChecker{
		Container: container,
		Command:   command,
		Timeout:   10 * time.Second,
		runner:    runner,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	args := append([]string{"exec", e.Container}, e.Command...)
	out, err := e.runner.Run(ctx, remote.Command{
		Name:    "docker",
		Args:    args,
		Timeout: e.Timeout,
	})
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("exec probe failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	message := fmt.Sprintf("command %v exited 0", e.Command)
	if trimmed := firstLine(out.Stdout); trimmed != "" {
		message = fmt.Sprintf("%s: %s", message, trimmed)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
