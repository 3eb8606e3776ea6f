package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRuns   = []byte("runs")
	bucketEvents = []byte("events") // one nested bucket per run id
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "backtide.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateRun persists a new run record
func (s *BoltStore) CreateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

// GetRun returns the run by id
func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return s.load(tx, id, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns all runs, newest first
func (s *BoltStore) ListRuns() ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Newest first by creation time.
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// SetStatus applies a validated status transition atomically
func (s *BoltStore) SetStatus(id string, to types.RunStatus, lastErr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var run types.Run
		if err := s.load(tx, id, &run); err != nil {
			return err
		}
		if !run.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrBadTransition, run.Status, to)
		}

		now := time.Now().UTC()
		run.Status = to
		run.UpdatedAt = now
		if to == types.RunRunning {
			run.StartedAt = &now
		}
		if to.Terminal() {
			run.FinishedAt = &now
			if to == types.RunSucceeded {
				run.Progress = 1
			}
		}
		if lastErr != "" {
			run.LastError = lastErr
		}
		return s.put(tx, &run)
	})
}

// SetProgress updates the run's progress fraction
func (s *BoltStore) SetProgress(id string, progress float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var run types.Run
		if err := s.load(tx, id, &run); err != nil {
			return err
		}
		run.Progress = progress
		run.UpdatedAt = time.Now().UTC()
		return s.put(tx, &run)
	})
}

// AppendEvent journals one event and bumps the run counter in the
// same transaction, so a crash never leaves them out of step.
func (s *BoltStore) AppendEvent(runID string, rec *types.EventRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var run types.Run
		if err := s.load(tx, runID, &run); err != nil {
			return err
		}

		eb, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := eb.Put(seqKey(rec.Seq), data); err != nil {
			return err
		}

		run.EventCount++
		run.UpdatedAt = time.Now().UTC()
		return s.put(tx, &run)
	})
}

// Events returns the run's event log from afterSeq (exclusive)
func (s *BoltStore) Events(runID string, afterSeq uint64, limit int) ([]*types.EventRecord, error) {
	var out []*types.EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var run types.Run
		if err := s.load(tx, runID, &run); err != nil {
			return err
		}
		eb := tx.Bucket(bucketEvents).Bucket([]byte(runID))
		if eb == nil {
			return nil
		}

		c := eb.Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			var rec types.EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecoverInterrupted fails runs a crashed controller left live
func (s *BoltStore) RecoverInterrupted(note string) (int, error) {
	recovered := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.Status != types.RunRunning && run.Status != types.RunPending {
				return nil
			}
			now := time.Now().UTC()
			run.Status = types.RunFailed
			run.LastError = note
			run.UpdatedAt = now
			run.FinishedAt = &now
			recovered++
			return s.put(tx, &run)
		})
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// EvictTerminalBefore removes old terminal runs and their event logs
func (s *BoltStore) EvictTerminalBefore(cutoff time.Time) (int, error) {
	evicted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		events := tx.Bucket(bucketEvents)

		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.Status.Terminal() && run.UpdatedAt.Before(cutoff) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			if events.Bucket(k) != nil {
				if err := events.DeleteBucket(k); err != nil {
					return err
				}
			}
			evicted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

func (s *BoltStore) load(tx *bolt.Tx, id string, run *types.Run) error {
	data := tx.Bucket(bucketRuns).Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return json.Unmarshal(data, run)
}

func (s *BoltStore) put(tx *bolt.Tx, run *types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
