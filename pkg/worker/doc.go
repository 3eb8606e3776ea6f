/*
Package worker runs one isolated run: config in, framed events out.

A worker process is spawned by the run manager with the run id on
the command line and the config document on stdin. It assembles an
engine through the config registry, runs it to completion, and
writes newline-delimited JSON frames to stdout: pipeline events
(projected to transport records), thinned progress updates, log
lines, and a terminal status. stderr carries the worker's own
structured logs.

Isolation is the point: a crash in user-supplied strategy code kills
this process, not the controller, which observes the broken pipe and
the exit code. Back-pressure needs no machinery — when the
controller's relay falls behind, the stdout write blocks and the
engine's feed loop stalls with it. Cancellation arrives as SIGTERM,
mapped to context cancellation, checked by the engine between feed
steps; the manager escalates to SIGKILL after the grace period.

Exit codes distinguish config_invalid, feed_error, internal_error,
and canceled so the controller can classify a worker that died
without a status frame.
*/
package worker
