// Package runtime adapts a container runtime to the reconciler. The only
// real implementation drives the docker CLI through a remote.Runner, so
// the same code path works against a local daemon and a remote host over
// SSH.
package runtime
