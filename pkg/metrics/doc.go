// Package metrics defines the Prometheus instrumentation for deployment
// runs: probe counts and latencies, per-stage durations, and run verdicts.
// Serve exposes them on an optional scrape endpoint for the duration of
// the run.
package metrics
