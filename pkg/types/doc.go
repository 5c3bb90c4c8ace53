/*
Package types defines the core data structures used throughout stevedore.

It contains the domain model for one deployment run: the declarative
Topology (services, networks, volumes) loaded from the manifest, and the
DeploymentOutcome produced at the end of the run.

All enums use typed string constants:

	type ServiceStatus string
	const (
	    StatusHealthy   ServiceStatus = "healthy"
	    StatusUnhealthy ServiceStatus = "unhealthy"
	)

Topology values are read-only after loading; a DeploymentOutcome is built
once per run and never mutated after being reported.
*/
package types
