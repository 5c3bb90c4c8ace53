// Package topology loads and validates the declarative deployment manifest.
//
// The manifest is a compose-dialect YAML document listing services,
// networks, and volumes. Loading is side-effect free: it produces a
// types.Topology with services already sorted in dependency order, or a
// ParseError / CyclicDependencyError describing what is wrong.
package topology
