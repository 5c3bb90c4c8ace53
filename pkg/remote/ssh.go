package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/opskit/stevedore/pkg/log"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach the deployment target.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	ConnectTimeout time.Duration
}

// SSHRunner executes commands on a remote host over a single SSH
// connection. Sessions are cheap; the connection is reused for the whole
// deployment run, including the SFTP archive upload.
type SSHRunner struct {
	client *ssh.Client
	host   string
}

// Dial opens the SSH connection to the target host.
func Dial(cfg SSHConfig) (*SSHRunner, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Deploy targets are freshly provisioned; there is no known_hosts
		// entry to pin against on first contact.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logger := log.WithComponent("runner")
	logger.Info().Str("host", cfg.Host).Str("user", cfg.User).Msg("ssh connection established")
	return &SSHRunner{client: client, host: cfg.Host}, nil
}

// Client exposes the underlying SSH client for SFTP sessions.
func (r *SSHRunner) Client() *ssh.Client {
	return r.client
}

// Close tears down the SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

// Run executes the command in a fresh session on the remote host.
func (r *SSHRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := r.client.NewSession()
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := renderCommand(cmd)
	logger := log.WithComponent("runner")
	logger.Debug().Str("host", r.host).Str("cmd", line).Msg("exec remote command")

	// Sessions have no context support; a watchdog closes the session when
	// the deadline passes, which makes Wait return.
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err = <-done:
	case <-runCtx.Done():
		_ = session.Close()
		<-done
		return Output{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
		}, fmt.Errorf("%s: %w", cmd.Name, runCtx.Err())
	}

	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			out.ExitCode = exitErr.ExitStatus()
			return out, fmt.Errorf("%s: exit %d: %s", cmd.Name, out.ExitCode, firstLine(out.Stderr))
		}
		out.ExitCode = -1
		return out, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return out, nil
}

// renderCommand builds the shell line for a remote invocation, quoting
// each argument so values with spaces or shell metacharacters survive.
func renderCommand(cmd Command) string {
	parts := make([]string, 0, len(cmd.Args)+1)
	parts = append(parts, cmd.Name)
	for _, arg := range cmd.Args {
		parts = append(parts, shellQuote(arg))
	}
	line := strings.Join(parts, " ")
	if cmd.Dir != "" {
		line = fmt.Sprintf("cd %s && %s", shellQuote(cmd.Dir), line)
	}
	return line
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~`!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
