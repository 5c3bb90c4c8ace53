// Package log wraps zerolog with a process-global logger and helpers for
// attaching stevedore-specific fields (component, service, run_id).
package log
