// Package journal keeps a local record of past deployment runs.
//
// Each run is summarized to one entry (verdict, per-service status,
// reachability) in a bbolt file, keyed by start time so listing newest
// first is a reverse cursor walk. Full outcomes are never persisted.
package journal
