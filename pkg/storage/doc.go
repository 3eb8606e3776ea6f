/*
Package storage provides the durable run store.

The Store interface indexes runs by id: the immutable config
document, the current status, progress, timestamps, the last error,
and a per-run append-only event log. The BoltDB implementation keeps
runs as JSON records in one bucket and each run's events in a nested
bucket keyed by big-endian sequence number, so a cursor walk streams
them in order.

# Journaling

Every mutation is a single BoltDB update transaction. A status
transition is validated against the run state machine and applied
atomically; an event append and the run's event-counter bump commit
together. A controller crash therefore leaves the store either
before or after a transition, never between — on restart,
RecoverInterrupted marks runs that were live as failed with a
recovery note, and the retention job evicts terminal runs past
their keep window.
*/
package storage
