package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrDraining is returned when Subscribe is called while a drain
	// is in progress.
	ErrDraining = errors.New("bus: subscribe during active drain")

	// ErrReentrantDrain is returned when a handler calls Drain.
	ErrReentrantDrain = errors.New("bus: nested drain")
)

// Handler consumes one event. Returning an error wrapped by Fatal
// aborts the drain; any other error is logged and the event's
// remaining handlers still run.
type Handler func(types.Event) error

// fatalError marks a handler failure that must abort the drain
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps an error so the bus aborts the current drain and
// surfaces it to the engine.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err carries the Fatal marker
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Bus is a single-threaded synchronous FIFO event dispatcher. One Bus
// lives inside one engine instance; it is not safe for concurrent use
// and never spawns goroutines. Determinism is the point: given the
// same inputs, every drain dispatches the same events in the same
// order to the same handlers.
type Bus struct {
	runID    string
	handlers map[types.EventKind][]Handler
	queue    []types.Event
	seq      uint64
	draining bool
	logger   zerolog.Logger
}

// New creates a bus for one run
func New(runID string) *Bus {
	return &Bus{
		runID:    runID,
		handlers: make(map[types.EventKind][]Handler),
		logger:   log.WithComponent("bus"),
	}
}

// Subscribe registers a handler for one event kind. Handlers for a
// kind are invoked in registration order. Registration is rejected
// while a drain is active.
func (b *Bus) Subscribe(kind types.EventKind, h Handler) error {
	if b.draining {
		return ErrDraining
	}
	b.handlers[kind] = append(b.handlers[kind], h)
	return nil
}

// Publish stamps the event's envelope and appends it to the queue.
// Publishing from inside a handler is allowed; the event is dispatched
// later in the same drain.
func (b *Bus) Publish(ev types.Event) {
	env := ev.Env()
	b.seq++
	env.Seq = b.seq
	env.RunID = b.runID
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	b.queue = append(b.queue, ev)
}

// Seq returns the last assigned sequence number
func (b *Bus) Seq() uint64 {
	return b.seq
}

// Drain dispatches queued events in FIFO order until the queue is
// empty, including events published by handlers during the drain.
// A handler error wrapped by Fatal aborts the drain with the queue
// preserved; other handler errors are logged and skipped.
func (b *Bus) Drain() error {
	if b.draining {
		return ErrReentrantDrain
	}
	b.draining = true
	defer func() { b.draining = false }()

	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue = b.queue[1:]

		for i, h := range b.handlers[ev.Kind()] {
			if err := h(ev); err != nil {
				if IsFatal(err) {
					return fmt.Errorf("handler %d for %s event: %w", i, ev.Kind(), err)
				}
				b.logger.Warn().
					Err(err).
					Str("kind", string(ev.Kind())).
					Uint64("seq", ev.Env().Seq).
					Msg("Handler failed, skipping")
			}
		}
	}
	return nil
}

// Pending returns the number of undispatched events
func (b *Bus) Pending() int {
	return len(b.queue)
}
