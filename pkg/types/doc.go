/*
Package types defines the core data structures of the LLM registry.

Three persisted entities make up the domain model:

  - Wrapper: a remote host able to serve one model at a time
  - Request: one (configuration, measurement) slot to place on a wrapper
  - Measurement: a client-visible job aggregating N requests

# Wrapper lifecycle

Wrappers move through a state machine driven by the dispatch loop, the
health loop and remote replies:

	not_installed ──install──▶ installing ──ok──▶ not_ready
	                                      └─fail─▶ unresponsive
	not_ready ──poll──▶ idle | ready | prompting | failure
	idle  ──deploy──▶ deploying ──ready──▶ prompting
	                            └──fail──▶ failure
	ready ──stop────▶ stopping  ──stopped▶ idle
	                            └──fail──▶ failure
	prompting ──release──▶ not_ready
	failure ──restart──▶ restarting ──ok──▶ not_ready
	                                └─fail─▶ unresponsive

WrapperStatus.Pollable distinguishes the states the health loop may
reconcile from those marking an in-flight transition.

# Configuration blobs

LLMConfig.Encode produces the canonical serialized form used both as the
wire payload for deployments and as the equality key deciding whether an
already-ready wrapper can serve a request without redeployment.
*/
package types
