// Package reach verifies the deployed application from the outside.
//
// After services report healthy, the public endpoint is probed the way a
// user would reach it: HTTPS first, plain HTTP as a fallback for the
// window where the TLS certificate is still being provisioned.
package reach
