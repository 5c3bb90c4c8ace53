package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/remote"
)

type fakeRunner struct {
	missing map[string]bool // binaries absent from PATH
	failing map[string]error
	calls   []string
}

func (r *fakeRunner) Run(_ context.Context, cmd remote.Command) (remote.Output, error) {
	line := cmd.String()
	r.calls = append(r.calls, line)
	if strings.Contains(line, "command -v") {
		for name := range r.missing {
			if strings.HasSuffix(line, name) {
				return remote.Output{ExitCode: 1}, errors.New("not found")
			}
		}
		return remote.Output{}, nil
	}
	for prefix, err := range r.failing {
		if strings.HasPrefix(line, prefix) {
			return remote.Output{ExitCode: 1}, err
		}
	}
	return remote.Output{}, nil
}

func (r *fakeRunner) called(substr string) bool {
	for _, line := range r.calls {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestEnsure_SkipsInstallWhenPresent(t *testing.T) {
	runner := &fakeRunner{}
	b := New(runner)

	if err := b.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if runner.called("get.docker.com") {
		t.Error("install script should not run when runtime is present")
	}
	if !runner.called("docker info") {
		t.Error("daemon must be verified even when already installed")
	}
}

func TestEnsure_InstallsWhenMissing(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"docker": true}}
	b := New(runner)

	if err := b.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if !runner.called("get.docker.com") {
		t.Error("expected install script to run")
	}
}

func TestEnsure_InstallFailureIsBootstrapError(t *testing.T) {
	runner := &fakeRunner{
		missing: map[string]bool{"docker": true},
		failing: map[string]error{"sh -c curl": errors.New("no network")},
	}
	b := New(runner)

	err := b.Ensure(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var bootErr *errdefs.BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected BootstrapError, got %T: %v", err, err)
	}
	if bootErr.Step != "install-runtime" {
		t.Errorf("unexpected step: %s", bootErr.Step)
	}
}

func TestEnsure_DaemonVerificationFailure(t *testing.T) {
	runner := &fakeRunner{
		failing: map[string]error{"docker info": errors.New("cannot connect to daemon")},
	}
	b := New(runner)

	err := b.Ensure(context.Background())
	var bootErr *errdefs.BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("expected BootstrapError, got %v", err)
	}
	if bootErr.Step != "verify-daemon" {
		t.Errorf("unexpected step: %s", bootErr.Step)
	}
}
