/*
Package storage provides durable state for the LLM registry.

The store holds three buckets mirroring the registry's entities:

  - llm_wrapper: remote hosts, keyed by an id assigned on insert
  - llm_request: model-configuration slots, keyed by a client-opaque id
  - measurements: client jobs, keyed by the client-supplied id

Every Store operation is atomic with respect to concurrent callers; bbolt
serializes writers, and multi-field updates such as SetRequestAddress (which
binds the address and flips the status to deployed) commit as a single
transaction. Both control loops and the API handler pool call into the same
store concurrently.

FindBestDeployments is the one non-trivial query: the join of queued
requests against ready wrappers with an identical configuration blob,
limited to measurements that have no wrapper bound yet. A hit means a
deployment is free — the wrapper already runs the exact configuration the
request wants.

Reset drops and recreates the schema. It exists for development setups and
is gated behind the reset_on_boot configuration flag.
*/
package storage
