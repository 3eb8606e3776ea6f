package storage

import (
	"errors"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
)

var (
	// ErrNotFound is returned when a run id is unknown
	ErrNotFound = errors.New("storage: run not found")

	// ErrBadTransition is returned for an illegal status change
	ErrBadTransition = errors.New("storage: illegal status transition")
)

// Store is the durable index of runs and their event logs. Writes are
// journaled: a status transition, and an event append together with
// its run counter update, are each atomic.
type Store interface {
	// CreateRun persists a new run record
	CreateRun(run *types.Run) error

	// GetRun returns the run by id
	GetRun(id string) (*types.Run, error)

	// ListRuns returns all runs, newest first
	ListRuns() ([]*types.Run, error)

	// SetStatus applies a status transition, validating monotonicity.
	// lastErr is stored for failed/canceled transitions.
	SetStatus(id string, to types.RunStatus, lastErr string) error

	// SetProgress updates the run's progress fraction
	SetProgress(id string, progress float64) error

	// AppendEvent journals one event record to the run's log and
	// bumps the run's event counter in the same transaction.
	AppendEvent(runID string, rec *types.EventRecord) error

	// Events returns the run's event log from afterSeq (exclusive),
	// up to limit records; limit <= 0 means no bound.
	Events(runID string, afterSeq uint64, limit int) ([]*types.EventRecord, error)

	// RecoverInterrupted marks runs left in running or pending state
	// by a crashed controller as failed, stamping a recovery note.
	// Returns the number of runs recovered.
	RecoverInterrupted(note string) (int, error)

	// EvictTerminalBefore removes terminal runs whose last update is
	// older than the cutoff, together with their event logs.
	EvictTerminalBefore(cutoff time.Time) (int, error)

	// Close releases the underlying database
	Close() error
}
