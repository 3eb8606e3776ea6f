/*
Package events provides the transport projection of bus events and
the per-run fan-out hub.

Project lifts a bus event into an EventRecord: envelope metadata as
columns, the full event JSON as an opaque payload. Records are what
cross process boundaries — worker IPC frames, the durable event log,
and subscriber streams all carry the same shape.

The Hub fans one run's record sequence out to any number of
subscribers. Per-subscriber order always matches the run's sequence;
rates are decoupled by buffering. A subscriber joining mid-run first
receives the bounded ring of recent records, then live ones. A
subscriber that stays full past the write deadline is dropped — the
run's pace is set by its feed, never by its slowest observer.
*/
package events
