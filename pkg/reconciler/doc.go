// Package reconciler brings the deployment target's running containers in
// line with the declared topology. Services are replaced in dependency
// order; a dependent with a service_healthy condition is started only
// after its dependency's readiness probe passes. Reconciliation is
// idempotent but not transactional.
package reconciler
