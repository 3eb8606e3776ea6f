package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/notify"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func newOutbox(t *testing.T, cfg Config) *Outbox {
	t.Helper()
	o, err := New(filepath.Join(t.TempDir(), "outbox.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func intent(id, dedupeKey string) *types.NotificationIntent {
	return &types.NotificationIntent{
		ID:        id,
		DedupeKey: dedupeKey,
		Type:      types.IntentStrategySignal,
		Severity:  types.SeverityInfo,
		Payload:   json.RawMessage(`{"symbol":"AAPL"}`),
		Channel:   "ops",
	}
}

func TestEnqueueAndLease(t *testing.T) {
	o := newOutbox(t, Config{})

	inserted, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	batch, err := o.Lease(10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "i-1", batch[0].ID)
	assert.Equal(t, types.IntentLeased, batch[0].Status)

	// Leased intents are not handed out again.
	batch, err = o.Lease(10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

// TestDedupeWindow verifies duplicates within the TTL collapse to a
// single persisted intent.
func TestDedupeWindow(t *testing.T) {
	o := newOutbox(t, Config{DedupeTTL: 300 * time.Second})

	for i := 0; i < 10; i++ {
		inserted, err := o.Enqueue(intent(fmt.Sprintf("i-%d", i), "same-key"))
		require.NoError(t, err)
		assert.Equal(t, i == 0, inserted)
	}

	stats, err := o.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[types.IntentPending])
}

func TestEnqueueIdempotent(t *testing.T) {
	o := newOutbox(t, Config{})

	inserted, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestMarkSentIdempotent(t *testing.T) {
	o := newOutbox(t, Config{})
	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	_, err = o.Lease(1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, o.MarkSent("i-1"))
	require.NoError(t, o.MarkSent("i-1")) // no-op

	stats, err := o.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[types.IntentSent])
}

func TestMarkFailedRetriesWithBackoff(t *testing.T) {
	o := newOutbox(t, Config{MaxAttempts: 3, BackoffBase: 50 * time.Millisecond, BackoffMax: 100 * time.Millisecond})
	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	batch, err := o.Lease(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, o.MarkFailed("i-1", "503", FailRetry, 0))

	// Backoff holds the intent out of the next lease briefly.
	batch, err = o.Lease(1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, batch)

	time.Sleep(150 * time.Millisecond)
	batch, err = o.Lease(1, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].AttemptCount)
}

func TestMarkFailedDeadLettersAtCap(t *testing.T) {
	o := newOutbox(t, Config{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	for attempt := 0; attempt < 2; attempt++ {
		var batch []*types.NotificationIntent
		require.Eventually(t, func() bool {
			var err error
			batch, err = o.Lease(1, time.Minute)
			require.NoError(t, err)
			return len(batch) == 1
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, o.MarkFailed(batch[0].ID, "503", FailRetry, 0))
	}

	stats, err := o.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetters)
	assert.Zero(t, stats.ByStatus[types.IntentPending])
}

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
	o := newOutbox(t, Config{MaxAttempts: 10})
	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	_, err = o.Lease(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, o.MarkFailed("i-1", "404 unknown recipient", FailPermanent, 0))

	stats, err := o.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetters)
}

// TestRecoverConservation verifies crash recovery loses nothing:
// counts before and after lease expiry plus Recover are identical.
func TestRecoverConservation(t *testing.T) {
	o := newOutbox(t, Config{})

	for i := 0; i < 100; i++ {
		_, err := o.Enqueue(intent(fmt.Sprintf("i-%d", i), fmt.Sprintf("k-%d", i)))
		require.NoError(t, err)
	}

	// A dispatcher takes a batch with a tiny lease, marks some sent,
	// then "crashes" with the rest leased.
	batch, err := o.Lease(40, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 40)
	for _, it := range batch[:15] {
		require.NoError(t, o.MarkSent(it.ID))
	}

	time.Sleep(20 * time.Millisecond)
	recovered, err := o.Recover()
	require.NoError(t, err)
	assert.Equal(t, 25, recovered)

	stats, err := o.Stats()
	require.NoError(t, err)
	total := stats.ByStatus[types.IntentPending] + stats.ByStatus[types.IntentLeased] +
		stats.ByStatus[types.IntentSent] + stats.ByStatus[types.IntentDeadLetter]
	assert.Equal(t, 100, total)
	assert.Equal(t, 15, stats.ByStatus[types.IntentSent])
	assert.Equal(t, 85, stats.ByStatus[types.IntentPending])
	assert.Zero(t, stats.ByStatus[types.IntentLeased])

	// Every recovered intent is leasable again on the next lease.
	batch, err = o.Lease(100, time.Minute)
	require.NoError(t, err)
	assert.Len(t, batch, 85)
}

func TestRetryAfterFloorsBackoff(t *testing.T) {
	o := newOutbox(t, Config{BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	_, err = o.Lease(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, o.MarkFailed("i-1", "429", FailRetry, time.Hour))

	// Due no earlier than the server window.
	batch, err := o.Lease(1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

// recordingAdapter counts sends per intent and fails on demand
type recordingAdapter struct {
	mu     sync.Mutex
	sends  map[string]int
	result notify.Result
}

func newRecordingAdapter(result notify.Result) *recordingAdapter {
	return &recordingAdapter{sends: make(map[string]int), result: result}
}

func (a *recordingAdapter) Name() string { return "recording" }

func (a *recordingAdapter) Send(ctx context.Context, it *types.NotificationIntent) notify.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends[it.ID]++
	return a.result
}

func (a *recordingAdapter) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sends[id]
}

func TestDispatcherDeliversAndMarksSent(t *testing.T) {
	o := newOutbox(t, Config{})
	adapter := newRecordingAdapter(notify.OK())

	d := NewDispatcher(o, map[string]notify.ChannelAdapter{"ops": adapter}, nil, DispatcherConfig{
		Workers: 2, BatchSize: 8, PollInterval: 10 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	for i := 0; i < 20; i++ {
		_, err := o.Enqueue(intent(fmt.Sprintf("i-%d", i), fmt.Sprintf("k-%d", i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats, err := o.Stats()
		require.NoError(t, err)
		return stats.ByStatus[types.IntentSent] == 20
	}, 5*time.Second, 20*time.Millisecond)

	// Parallel workers never double-delivered.
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, adapter.count(fmt.Sprintf("i-%d", i)))
	}
}

func TestDispatcherDeadLettersPermanent(t *testing.T) {
	o := newOutbox(t, Config{})
	adapter := newRecordingAdapter(notify.Permanent("bad destination"))

	d := NewDispatcher(o, map[string]notify.ChannelAdapter{"ops": adapter}, nil, DispatcherConfig{
		Workers: 1, PollInterval: 10 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := o.Stats()
		require.NoError(t, err)
		return stats.DeadLetters == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, adapter.count("i-1"))
}

func TestDispatcherFallsBackToDefaultAdapter(t *testing.T) {
	o := newOutbox(t, Config{})
	fallback := newRecordingAdapter(notify.OK())

	d := NewDispatcher(o, nil, fallback, DispatcherConfig{
		Workers: 1, PollInterval: 10 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	_, err := o.Enqueue(intent("i-1", "k-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fallback.count("i-1") == 1
	}, 5*time.Second, 20*time.Millisecond)
}
