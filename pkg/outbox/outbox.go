package outbox

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// Config tunes retry and dedupe behavior
type Config struct {
	DedupeTTL   time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	return c
}

// FailClass classifies a delivery failure for MarkFailed
type FailClass int

const (
	// FailRetry schedules another attempt with backoff
	FailRetry FailClass = iota
	// FailPermanent dead-letters immediately, overriding backoff
	FailPermanent
)

// Metrics summarizes outbox state
type Metrics struct {
	ByStatus         map[types.IntentStatus]int
	OldestPendingAge time.Duration
	DeadLetters      int
}

// Outbox is the durable intent queue: the transactional-outbox
// pattern over a sqlite table. The durability boundary is Enqueue;
// from that moment an intent is delivered at least once or
// dead-lettered. All methods are safe for concurrent use — sqlite
// serializes writers, and lease claims run in a single transaction
// so two dispatchers never hold overlapping batches.
type Outbox struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	intent_id     TEXT PRIMARY KEY,
	dedupe_key    TEXT NOT NULL,
	intent_type   TEXT NOT NULL,
	severity      TEXT NOT NULL,
	payload       BLOB NOT NULL,
	channel       TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at INTEGER NOT NULL,
	leased_until  INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_dedupe ON outbox (dedupe_key, status);
CREATE INDEX IF NOT EXISTS idx_outbox_lease ON outbox (status, next_retry_at);
`

// New opens (creating if needed) the outbox database
func New(path string, cfg Config) (*Outbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: migrate: %w", err)
	}
	return &Outbox{
		db:     db,
		cfg:    cfg.withDefaults(),
		logger: log.WithComponent("outbox"),
	}, nil
}

// Close releases the database
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue inserts an intent unless a live duplicate exists. Returns
// true when the intent was persisted, false when the dedupe window
// collapsed it. Calling Enqueue twice with an identical intent within
// the TTL is a no-op.
func (o *Outbox) Enqueue(intent *types.NotificationIntent) (bool, error) {
	now := time.Now().UTC()
	tx, err := o.db.Begin()
	if err != nil {
		return false, fmt.Errorf("outbox: enqueue: %w", err)
	}
	defer tx.Rollback()

	var existing int
	// The dedupe window is scoped per target channel: the same signal
	// fanned out to two channels is two obligations, not a duplicate.
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM outbox
		 WHERE dedupe_key = ? AND channel = ? AND status IN ('pending', 'leased') AND created_at > ?`,
		intent.DedupeKey, intent.Channel, now.Add(-o.cfg.DedupeTTL).UnixMilli(),
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("outbox: dedupe check: %w", err)
	}
	if existing > 0 {
		metrics.IntentsDeduped.Inc()
		return false, nil
	}

	_, err = tx.Exec(
		`INSERT INTO outbox (intent_id, dedupe_key, intent_type, severity, payload,
		                     channel, status, attempt_count, next_retry_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		 ON CONFLICT (intent_id) DO NOTHING`,
		intent.ID, intent.DedupeKey, string(intent.Type), string(intent.Severity),
		[]byte(intent.Payload), intent.Channel, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("outbox: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("outbox: enqueue commit: %w", err)
	}
	metrics.IntentsEnqueued.Inc()
	return true, nil
}

// Lease atomically claims the oldest due pending intents. The claim
// and the status flip happen in one transaction, so concurrent
// dispatchers receive disjoint batches.
func (o *Outbox) Lease(batchSize int, leaseDuration time.Duration) ([]*types.NotificationIntent, error) {
	now := time.Now().UTC()
	tx, err := o.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("outbox: lease: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT intent_id, dedupe_key, intent_type, severity, payload, channel,
		        attempt_count, last_error, created_at
		 FROM outbox
		 WHERE status = 'pending' AND next_retry_at <= ?
		 ORDER BY next_retry_at, created_at
		 LIMIT ?`,
		now.UnixMilli(), batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: select pending: %w", err)
	}

	var batch []*types.NotificationIntent
	for rows.Next() {
		var it types.NotificationIntent
		var payload []byte
		var createdAt int64
		if err := rows.Scan(&it.ID, &it.DedupeKey, &it.Type, &it.Severity, &payload,
			&it.Channel, &it.AttemptCount, &it.LastError, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		it.Payload = payload
		it.CreatedAt = time.UnixMilli(createdAt).UTC()
		it.Status = types.IntentLeased
		it.LeasedUntil = now.Add(leaseDuration)
		batch = append(batch, &it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	if len(batch) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]interface{}, 0, len(batch)+1)
	ids = append(ids, now.Add(leaseDuration).UnixMilli())
	placeholders := make([]string, 0, len(batch))
	for _, it := range batch {
		ids = append(ids, it.ID)
		placeholders = append(placeholders, "?")
	}
	_, err = tx.Exec(
		`UPDATE outbox SET status = 'leased', leased_until = ?
		 WHERE intent_id IN (`+strings.Join(placeholders, ",")+`) AND status = 'pending'`,
		ids...,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("outbox: lease commit: %w", err)
	}
	return batch, nil
}

// MarkSent transitions leased -> sent. Marking an already-sent
// intent again is a no-op.
func (o *Outbox) MarkSent(intentID string) error {
	_, err := o.db.Exec(
		`UPDATE outbox SET status = 'sent', leased_until = 0
		 WHERE intent_id = ? AND status IN ('leased', 'pending')`,
		intentID,
	)
	if err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Retryable failures under the
// attempt cap return to pending with bounded exponential backoff and
// jitter; permanent failures and exhausted intents dead-letter with
// the final error preserved. retryAfter, when positive, floors the
// next attempt time (server-indicated back-off windows).
func (o *Outbox) MarkFailed(intentID, sendErr string, class FailClass, retryAfter time.Duration) error {
	now := time.Now().UTC()
	tx, err := o.db.Begin()
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRow(
		`SELECT attempt_count FROM outbox WHERE intent_id = ? AND status = 'leased'`,
		intentID,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		// Not leased (already resolved elsewhere); nothing to do.
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("outbox: load attempts: %w", err)
	}

	attempts++
	if class == FailPermanent || attempts >= o.cfg.MaxAttempts {
		_, err = tx.Exec(
			`UPDATE outbox SET status = 'dead_letter', attempt_count = ?, last_error = ?, leased_until = 0
			 WHERE intent_id = ?`,
			attempts, sendErr, intentID,
		)
		if err != nil {
			return fmt.Errorf("outbox: dead letter: %w", err)
		}
		o.logger.Warn().
			Str("intent_id", intentID).
			Int("attempts", attempts).
			Str("error", sendErr).
			Msg("Intent dead-lettered")
		return tx.Commit()
	}

	delay := o.backoff(attempts)
	if retryAfter > delay {
		delay = retryAfter
	}
	_, err = tx.Exec(
		`UPDATE outbox SET status = 'pending', attempt_count = ?, last_error = ?,
		                   next_retry_at = ?, leased_until = 0
		 WHERE intent_id = ?`,
		attempts, sendErr, now.Add(delay).UnixMilli(), intentID,
	)
	if err != nil {
		return fmt.Errorf("outbox: release: %w", err)
	}
	return tx.Commit()
}

// Recover returns expired leases to pending with attempt counts
// preserved. Run at startup and periodically by the janitor so a
// crashed dispatcher loses nothing.
func (o *Outbox) Recover() (int, error) {
	res, err := o.db.Exec(
		`UPDATE outbox SET status = 'pending', leased_until = 0
		 WHERE status = 'leased' AND leased_until < ?`,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("outbox: recover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info().Int64("recovered", n).Msg("Expired leases returned to pending")
	}
	return int(n), nil
}

// Stats returns counts by status, the oldest pending age, and the
// dead-letter count.
func (o *Outbox) Stats() (*Metrics, error) {
	m := &Metrics{ByStatus: make(map[types.IntentStatus]int)}

	rows, err := o.db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m.ByStatus[types.IntentStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	m.DeadLetters = m.ByStatus[types.IntentDeadLetter]

	var oldest sql.NullInt64
	err = o.db.QueryRow(
		`SELECT MIN(created_at) FROM outbox WHERE status = 'pending'`,
	).Scan(&oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		m.OldestPendingAge = time.Since(time.UnixMilli(oldest.Int64))
	}
	return m, nil
}

// backoff computes bounded exponential backoff with jitter
func (o *Outbox) backoff(attempts int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.cfg.BackoffMax {
			d = o.cfg.BackoffMax
			break
		}
	}
	// Jitter in [d/2, d] spreads retry storms.
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
