// Package remote abstracts command execution on the deployment target.
//
// The Runner interface is the seam between the orchestration logic and the
// machine it drives: LocalRunner shells out on this host, SSHRunner drives
// a remote host over one reused SSH connection. Every command carries an
// explicit timeout so a dead host cannot stall a deployment run.
package remote
