/*
Package manager orchestrates isolated run workers.

The manager is the controller-side owner of the run lifecycle:

	Submit ──▶ validate ──▶ persist pending ──▶ slot free?
	                                             │yes        │no
	                                             ▼           ▼
	                                        spawn worker   FIFO queue
	                                             │        (bounded; overflow
	                                             ▼         = resource_exhausted)
	                                        relay goroutine
	                                             │
	                  journal ◀── event frames ──┼──▶ fan-out hub ──▶ subscribers
	                                             └──▶ signal bridges ──▶ outbox

Each run executes in its own OS process (`backtide worker`), receiving
the config document on stdin and streaming framed events back on
stdout. A dedicated relay goroutine per run reads the stream in order,
journals events to the store, publishes them to the run's fan-out hub,
and feeds the notification bridges. Back-pressure propagates through
the pipe: a congested relay blocks the worker's write and thereby the
engine's feed loop. Slow stream subscribers are dropped by the hub
instead of slowing the run.

Cancellation is cooperative first (SIGTERM, checked by the engine
between feed steps) and forceful after the grace period (SIGKILL);
either way the relay observes the stream end and records the terminal
status, using the worker's status frame when present and the exit
condition otherwise. Cron-driven jobs evict terminal runs past the
retention window and refresh the status gauges.
*/
package manager
