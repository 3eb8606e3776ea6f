package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(seq uint64) *types.EventRecord {
	return &types.EventRecord{
		Kind: types.EventMarket, Seq: seq, RunID: "run-1",
		OccurredAt: time.Now().UTC(), Payload: json.RawMessage(`{}`),
	}
}

func TestProject(t *testing.T) {
	ev := &types.SignalEvent{
		Envelope: types.Envelope{
			Seq: 42, RunID: "run-1", OccurredAt: time.Now().UTC(),
		},
		SignalID: "sig-1", StrategyID: "ma-1", Symbol: "AAPL",
		Direction: types.DirectionLong, Strength: 1,
	}

	rec, err := Project(ev)
	require.NoError(t, err)
	assert.Equal(t, types.EventSignal, rec.Kind)
	assert.Equal(t, uint64(42), rec.Seq)
	assert.Equal(t, "AAPL", rec.Symbol)

	var back types.SignalEvent
	require.NoError(t, json.Unmarshal(rec.Payload, &back))
	assert.Equal(t, "sig-1", back.SignalID)
}

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub(16, time.Second)
	sub := h.Subscribe()
	require.NotNil(t, sub)

	for i := 1; i <= 5; i++ {
		h.Publish(record(uint64(i)))
	}

	for i := 1; i <= 5; i++ {
		rec := <-sub
		assert.Equal(t, uint64(i), rec.Seq)
	}
}

func TestHubRingReplayForLateSubscriber(t *testing.T) {
	h := NewHub(3, time.Second)

	for i := 1; i <= 5; i++ {
		h.Publish(record(uint64(i)))
	}

	// Ring holds the last 3; a late subscriber sees 3, 4, 5.
	sub := h.Subscribe()
	require.NotNil(t, sub)
	for _, want := range []uint64{3, 4, 5} {
		rec := <-sub
		assert.Equal(t, want, rec.Seq)
	}
}

// TestHubDropsSlowSubscriber verifies a stalled subscriber is dropped
// past the deadline while a prompt one receives everything in order.
func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(4, 10*time.Millisecond)

	fast := h.Subscribe()
	slow := h.Subscribe()
	require.NotNil(t, fast)
	require.NotNil(t, slow)

	done := make(chan []uint64)
	go func() {
		var seqs []uint64
		for rec := range fast {
			seqs = append(seqs, rec.Seq)
			if len(seqs) == 50 {
				break
			}
		}
		done <- seqs
	}()

	// slow never reads; its buffer (2*ring = 8) fills, then the
	// deadline expires and it is dropped.
	for i := 1; i <= 50; i++ {
		h.Publish(record(uint64(i)))
	}

	seqs := <-done
	require.Len(t, seqs, 50)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Equal(t, 1, h.SubscriberCount())

	// The dropped subscriber's channel is closed after its buffered
	// records drain.
	var received int
	for range slow {
		received++
	}
	assert.LessOrEqual(t, received, 8)
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := NewHub(4, time.Second)
	sub := h.Subscribe()
	h.Publish(record(1))
	h.Close()

	var count int
	for range sub {
		count++
	}
	assert.Equal(t, 1, count)

	assert.Nil(t, h.Subscribe())
	h.Publish(record(2)) // no panic after close
}
