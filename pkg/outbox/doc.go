/*
Package outbox implements the durable notification queue and the
dispatcher that drains it.

The outbox is the classical transactional-outbox pattern over a
sqlite table: Enqueue is the durability boundary, and from that
moment every intent is attempted at least once until it lands in
sent or dead_letter. Duplicates sharing a dedupe key within the TTL
collapse to one persisted intent.

# Lease Protocol

Dispatchers claim work through Lease: a single transaction selects
the oldest due pending intents and flips them to leased with an
expiry. The atomic claim is the exclusivity mechanism — parallel
dispatchers receive disjoint batches, so no intent is delivered
twice concurrently. A dispatcher that dies mid-batch simply lets
its leases expire; Recover returns them to pending with attempt
counts preserved, so conservation holds across crashes:

	pending + leased + sent + dead_letter  is invariant

# Retry Policy

Retryable failures re-pend with bounded exponential backoff and
jitter, floored by any server-indicated back-off window. Permanent
failures, and intents that exhaust the attempt cap, dead-letter with
the final error preserved. The cron-driven Janitor sweeps expired
leases and refreshes the outbox gauges.
*/
package outbox
