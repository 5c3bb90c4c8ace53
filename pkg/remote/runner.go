package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opskit/stevedore/pkg/log"
)

// Command is a single program invocation with an explicit time budget.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// String renders the command for logging.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Output captures what a command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands on the deployment target. Every blocking call
// takes a context and every command carries its own timeout, so a run can
// never hang on a stuck host.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// DefaultTimeout bounds commands that do not set their own.
const DefaultTimeout = 2 * time.Minute

// LocalRunner executes commands on the local machine. Used when the
// deployment target is the host stevedore runs on, and by tests.
type LocalRunner struct{}

// NewLocalRunner creates a runner backed by os/exec.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes the command locally.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.WithComponent("runner")
	logger.Debug().Str("cmd", cmd.String()).Msg("exec local command")

	osCmd := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	osCmd.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	osCmd.Stdout = &stdout
	osCmd.Stderr = &stderr

	err := osCmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, fmt.Errorf("%s: exit %d: %s", cmd.Name, out.ExitCode, firstLine(out.Stderr))
		}
		out.ExitCode = -1
		return out, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
