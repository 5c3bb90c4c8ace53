/*
Package health implements readiness probing for deployed services.

Three probe types are supported: HTTP (request a URL, 2xx is healthy),
TCP (connect to an address), and Exec (run a command inside the container
via the runtime; exit 0 is healthy). All checkers implement:

	type Checker interface {
	    Check(ctx context.Context) Result
	    Type() CheckType
	}

The Poller drives checkers to a terminal state on a fixed interval with a
bounded attempt budget:

	Starting → Healthy            first successful probe, terminal
	Starting → Unhealthy          retry threshold crossed, polling continues
	Starting/Unhealthy → TimedOut attempt budget exhausted, terminal

A timed-out service degrades the deployment's reported status but does not
abort the run; the pipeline continues so operators get full diagnostics.
Distinct services are polled concurrently and aggregated synchronously.
*/
package health
