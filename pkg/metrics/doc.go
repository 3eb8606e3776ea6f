/*
Package metrics exposes Prometheus metrics for the Backtide
controller.

All collectors are package-level variables registered at init and
served through the standard promhttp handler mounted by the serve
command. The metric surface covers the three planes:

  - Runs: totals by status, active and queued counts, durations
  - Relay/fan-out: events relayed by kind, dropped subscribers
  - Delivery: outbox intents by status, oldest pending age,
    enqueue/dedupe/delivery/failure counters, send latency

Run workers do not export metrics themselves; their activity reaches
the controller's collectors through the relay.
*/
package metrics
