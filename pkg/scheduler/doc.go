/*
Package scheduler implements the dispatch loop that places queued requests
on wrapper hosts.

Each cycle runs two phases under the loop mutex shared with the health loop:

	┌─────────────────────────────────────────────┐
	│                Dispatch Cycle               │
	└──────────────────────┬──────────────────────┘
	                       │
	       ┌───────────────┴───────────────┐
	       ▼                               ▼
	┌──────────────────┐        ┌──────────────────────┐
	│ Phase 1          │        │ Phase 2              │
	│ Zero-cost match  │        │ General match        │
	└──────┬───────────┘        └──────────┬───────────┘
	       │                               │
	       ▼                               ▼
	 ready wrapper with            pending measurements:
	 identical config →            bound wrapper, else idle
	 deploy directly               pool, else stop+redeploy
	                               a ready wrapper

Phase 1 consumes the store's FindBestDeployments join: pairs where a ready
wrapper already holds the exact configuration a queued request wants.
Phase 2 walks every measurement in deployments_pending, picks candidate
wrappers (the bound one while usable, otherwise idle hosts, otherwise ready
hosts that get stopped first) and deploys the measurement's next queued
request onto the first candidate that takes it.

A deploy failure leaves the wrapper in failure for the health loop to
recover and the request queued for a later cycle.

The loop waits its base interval between cycles, stretching by one second
per idle cycle up to ten seconds and snapping back once work appears.
*/
package scheduler
