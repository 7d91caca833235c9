/*
Package wrapperclient talks to a single remote wrapper host.

The Adapter interface is the capability set the registry holds per host:
deploy, stop and status ride the wrapper's HTTP API on port 8000, while
install and restart go over SSH with the credentials from the host roster.
Deploy and stop block until the remote host finishes loading or unloading
the model, bounded at five minutes; status polls are bounded at ten
seconds.

Transport failures surface as ErrUnreachable and well-formed negative
replies as ErrRejected. The control loops do not distinguish between the
two: a failed deploy or stop leaves the wrapper in failure for the health
loop to restart, and a failed status poll, install or restart leaves it
unresponsive, whichever error it was. The distinction keeps log lines
honest.

Fake implements Adapter in memory for the loop tests.
*/
package wrapperclient
