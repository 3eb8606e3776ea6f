/*
Package bus implements the synchronous FIFO event dispatcher at the
heart of the engine.

One Bus belongs to one engine instance and runs entirely on the
engine's thread. Publish appends to an internal queue and stamps the
envelope (sequence number, run id, occurred-at); Drain dequeues in
strict FIFO order across all event kinds and invokes every handler
registered for each event's kind in registration order. Handlers may
publish further events, which are dispatched later within the same
drain.

# Determinism

The bus is deliberately single-threaded and allocation-light. Given
identical inputs and seeded non-determinism in the stages, a run is
bit-for-bit reproducible: the same events, the same sequence numbers,
the same handler interleaving.

# Failure Semantics

Handler errors come in two classes. A recoverable error (the default)
is logged and the drain continues with the next handler. An error
wrapped by Fatal aborts the drain immediately and surfaces to the
engine, which terminates the run:

	return bus.Fatal(fmt.Errorf("portfolio state corrupt: %w", err))

Subscribe during a drain and nested Drain calls are rejected rather
than silently reordered.
*/
package bus
