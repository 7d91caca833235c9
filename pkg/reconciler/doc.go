/*
Package reconciler implements the health loop that keeps each wrapper's
persisted status in line with reality.

Every cycle (one minute by default) takes a snapshot of the fleet and sorts
each wrapper into one of four buckets:

  - failure: mark restarting and restart the service over SSH in a
    background task; not_ready on success, unresponsive on failure
  - not_installed: mark installing and provision the host over SSH in a
    background task; not_ready on success, unresponsive on failure
  - non-pollable (prompting, stopping, restarting, deploying, installing,
    unresponsive): leave alone — these states mark an in-flight transition
    that a poll result must never overwrite
  - anything else: ask the host for its own status and persist the answer,
    with a transport failure counting as unresponsive

Snapshot and recovery transitions run under the loop mutex shared with the
dispatch loop. Status polls are remote calls and run after the mutex is
released; before persisting a poll result the wrapper is re-read and the
write is skipped if a transition claimed it in the meantime.
*/
package reconciler
