/*
Package api serves the registry's HTTP surface.

	POST   /promptingservice/request       submit a measurement
	GET    /promptingservice/request/{id}  request status
	DELETE /promptingservice/request/{id}  release the bound wrapper
	GET    /health                         liveness
	GET    /metrics                        Prometheus metrics

Three error classes reach clients with detail: unknown keys as 404,
malformed or rejected submissions as 400 and forbidden state transitions
(releasing a request whose wrapper is not prompting) as 409. A wrong method
answers 405. Everything else is a 500 carrying
an opaque correlation id that is also logged server-side.
*/
package api
