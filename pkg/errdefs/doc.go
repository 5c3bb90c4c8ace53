// Package errdefs defines the error types a deployment run can surface.
//
// The typed errors (parse, transfer, bootstrap, startup) are fatal and
// abort the run. The sentinel errors mark degradations: a service that
// never turned healthy or an endpoint that never answered. Degradations
// are reported, not raised.
package errdefs
