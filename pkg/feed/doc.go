/*
Package feed provides the data feed implementations behind the
engine's DataFeed contract.

Feeds produce bars in timestamp order through a uniform pull
interface: Next returns a bar, a heartbeat, a gap signal, or the end
of the stream. The engine treats every feed identically whether the
implementation is a slice walk, a file read, or a blocking websocket
receive.

# Implementations

  - InMemoryFeed: replays a fixed slice of bars (tests, inline data)
  - CSVFeed: one symbol's OHLCV history from a local file
  - WebSocketFeed: live bars over a websocket stream
  - ReplayFeed: bars reconstructed from a recorded run's event log

# Live Feed Semantics

WebSocketFeed reconnects with capped exponential backoff and keeps a
per-symbol sequence high-water mark. A quiet stream surfaces as a
heartbeat signal after the configured interval; a sequence jump
surfaces as a gap signal before the bar that revealed it. Both become
AlertEvents in the engine and, when notifications are enabled,
system_alert intents in the outbox.

Historical feeds are finite and report their Size for progress
checkpointing; live feeds report 0.
*/
package feed
