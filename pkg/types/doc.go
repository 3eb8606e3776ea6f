/*
Package types defines the core data structures used throughout Backtide.

This package contains the fundamental types of the domain model: market
bars, the typed event taxonomy dispatched on the engine bus, portfolio
bookkeeping state, durable run records, and notification intents. All
other packages build on these types for engine wiring, orchestration,
persistence, and delivery.

# Event Taxonomy

Every message on the engine bus implements Event and carries an Envelope
stamped on publish:

  - MarketEvent: one Bar from the data feed
  - SignalEvent: a strategy's trading intent
  - OrderEvent: a risk-approved order bound for execution
  - FillEvent: a (possibly partial) simulated execution
  - MetricsEvent: an equity snapshot after portfolio updates
  - RiskRejectEvent: an order refused by the risk chain
  - AlertEvent: feed gaps, heartbeat timeouts, strategy errors

The Envelope's Seq is assigned by the bus and totally orders all events
within one engine instance regardless of kind.

# Lifecycle State Machines

Two small state machines are enforced by their owning stores:

Runs advance monotonically and never regress:

	pending -> running -> {succeeded, failed, canceled}

Outbox intents cycle through lease attempts until terminal:

	pending -> leased -> sent
	                  -> pending      (released for retry)
	                  -> dead_letter  (attempts exhausted or permanent)

# Transport Projection

EventRecord is the transport-safe projection of a bus event. Run workers
frame EventRecords over IPC, the controller ring-buffers them per run,
and stream subscribers receive them verbatim; the in-memory event
structs themselves never cross a process boundary.
*/
package types
