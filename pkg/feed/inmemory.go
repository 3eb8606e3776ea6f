package feed

import (
	"context"
	"sort"

	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/types"
)

// InMemoryFeed replays a fixed slice of bars. It backs test scenarios
// and configs that inline their data.
type InMemoryFeed struct {
	bars []*types.Bar
	pos  int
}

// NewInMemoryFeed creates a feed over the given bars, sorted by
// timestamp. The slice is copied before sorting, but the bars are
// shared; callers must not mutate them.
func NewInMemoryFeed(bars []*types.Bar) *InMemoryFeed {
	sorted := make([]*types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &InMemoryFeed{bars: sorted}
}

// Next returns the next bar or FeedEnd
func (f *InMemoryFeed) Next(ctx context.Context) (*types.Bar, engine.FeedSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.FeedEnd, err
	}
	if f.pos >= len(f.bars) {
		return nil, engine.FeedEnd, nil
	}
	bar := f.bars[f.pos]
	f.pos++
	return bar, engine.FeedBar, nil
}

// Size returns the total number of bars
func (f *InMemoryFeed) Size() int {
	return len(f.bars)
}
