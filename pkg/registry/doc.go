/*
Package registry ties the LLM registry together.

Registry is the one value constructed at process start. It owns the state
store, the per-host worker adapters, the mutex serializing the two control
loops and the pool of background provisioning tasks. The HTTP API calls its
Submit, GetRequest and Release operations; the dispatch loop calls DeployTo
and StopOn; the health loop schedules install and restart tasks through Go.

Submit turns a measurement submission into one queued request per model
configuration, creating the measurement row idempotently on first contact.
Release is the client's way of handing a wrapper back: the wrapper must be
prompting, moves to not_ready for the health loop to re-admit, and the
measurement returns to deployments_pending so its next request can be
serviced.
*/
package registry
