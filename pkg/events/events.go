package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/rlvgl/backtide/pkg/types"
)

// Project converts an in-memory bus event into its transport-safe
// record: envelope fields lifted out, the full event JSON-encoded as
// the payload.
func Project(ev types.Event) (*types.EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: project %s: %w", ev.Kind(), err)
	}
	env := ev.Env()

	symbol := ""
	switch e := ev.(type) {
	case *types.MarketEvent:
		if e.Bar != nil {
			symbol = e.Bar.Symbol
		}
	case *types.SignalEvent:
		symbol = e.Symbol
	case *types.OrderEvent:
		symbol = e.Symbol
	case *types.FillEvent:
		symbol = e.Symbol
	case *types.RiskRejectEvent:
		symbol = e.Symbol
	case *types.AlertEvent:
		symbol = e.Symbol
	}

	return &types.EventRecord{
		Kind:       ev.Kind(),
		Seq:        env.Seq,
		OccurredAt: env.OccurredAt,
		RunID:      env.RunID,
		Symbol:     symbol,
		TraceID:    env.TraceID,
		Payload:    payload,
	}, nil
}

// Subscriber is a channel that receives one run's event records
type Subscriber chan *types.EventRecord

// Hub fans one run's event sequence out to many subscribers without
// coupling their rates. Every published record lands in a bounded
// ring (evicting the oldest); a subscriber joining mid-run receives
// the ring contents first, then live records. A subscriber whose
// buffer stays full past the write deadline is dropped rather than
// allowed to reorder or stall the run.
type Hub struct {
	mu            sync.Mutex
	ring          []*types.EventRecord
	ringSize      int
	writeDeadline time.Duration
	subscribers   map[Subscriber]bool
	closed        bool
}

// NewHub creates a hub with the given ring capacity
func NewHub(ringSize int, writeDeadline time.Duration) *Hub {
	if ringSize <= 0 {
		ringSize = 256
	}
	if writeDeadline <= 0 {
		writeDeadline = 100 * time.Millisecond
	}
	return &Hub{
		ringSize:      ringSize,
		writeDeadline: writeDeadline,
		subscribers:   make(map[Subscriber]bool),
	}
}

// Subscribe registers a new subscriber and replays the ring into it.
// Returns nil if the hub is already closed.
func (h *Hub) Subscribe() Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	// Buffer covers a full ring replay plus live slack.
	sub := make(Subscriber, h.ringSize*2)
	for _, rec := range h.ring {
		sub <- rec
	}
	h.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub] {
		delete(h.subscribers, sub)
		close(sub)
	}
}

// Publish pushes one record onto the ring and to every live
// subscriber. A subscriber that cannot accept the record within the
// write deadline is dropped.
func (h *Hub) Publish(rec *types.EventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.ring = append(h.ring, rec)
	if len(h.ring) > h.ringSize {
		h.ring = h.ring[1:]
	}

	var doomed []Subscriber
	for sub := range h.subscribers {
		select {
		case sub <- rec:
			continue
		default:
		}

		// Buffer full: give the subscriber one deadline to catch up.
		timer := time.NewTimer(h.writeDeadline)
		select {
		case sub <- rec:
			timer.Stop()
		case <-timer.C:
			doomed = append(doomed, sub)
		}
	}
	for _, sub := range doomed {
		delete(h.subscribers, sub)
		close(sub)
		metrics.SubscribersDropped.Inc()
	}
}

// Close closes every subscriber and stops accepting records and
// subscriptions; used when the run reaches a terminal status. The
// ring is left as it was.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub)
	}
	h.subscribers = nil
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Ring returns a copy of the current ring contents
func (h *Hub) Ring() []*types.EventRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*types.EventRecord, len(h.ring))
	copy(out, h.ring)
	return out
}
