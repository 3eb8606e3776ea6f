package feed

import (
	"encoding/json"
	"fmt"

	"github.com/rlvgl/backtide/pkg/types"
)

// ReplayFeed reconstructs the bar stream of a recorded run from its
// event log. Feeding the same configuration with a ReplayFeed must
// reproduce the original run's metrics exactly.
type ReplayFeed struct {
	*InMemoryFeed
}

// NewReplayFeed extracts bars from the market events of a recorded
// event log, in recorded order.
func NewReplayFeed(records []*types.EventRecord) (*ReplayFeed, error) {
	var bars []*types.Bar
	for _, rec := range records {
		if rec.Kind != types.EventMarket {
			continue
		}
		var ev types.MarketEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("replay feed: decode market event seq %d: %w", rec.Seq, err)
		}
		if ev.Bar == nil {
			return nil, fmt.Errorf("replay feed: market event seq %d has no bar", rec.Seq)
		}
		bars = append(bars, ev.Bar)
	}
	return &ReplayFeed{InMemoryFeed: NewInMemoryFeed(bars)}, nil
}
