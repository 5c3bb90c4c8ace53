// Package bootstrap makes sure the target can run containers.
//
// Ensure is idempotent: a host that already has a working Docker daemon
// passes through untouched, a fresh host gets the engine installed and
// started. Either way the daemon is verified before the rollout proceeds.
package bootstrap
