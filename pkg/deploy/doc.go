/*
Package deploy composes the deployment pipeline.

A run is a fixed sequence of typed stages:

	transfer → bootstrap → reconcile → poll → verify → report

Early-stage failures (transfer, bootstrap, container startup) abort the
run immediately. Late-stage failures (health timeout, unreachable
endpoint) degrade the reported outcome but let the run finish, so the
report carries full diagnostics including per-service log tails. There is
no automatic rollback; recovery is a manual re-trigger.
*/
package deploy
