package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// RESTConfig configures a polling feed
type RESTConfig struct {
	URL          string
	Symbol       string
	AuthToken    string
	PollInterval time.Duration
	// HeartbeatAfter emits a heartbeat signal after this many empty
	// polls in a row; 0 means every empty poll heartbeats.
	HeartbeatAfter int
}

// restBar is the wire shape of one bar from the polled endpoint
type restBar struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"ts"` // unix milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
}

// RESTFeed polls an HTTP endpoint for new bars. The endpoint returns
// a JSON array of bars; the feed keeps a timestamp high-water mark
// and emits only bars newer than it, in order. Poll failures are
// tolerated (the next poll retries); only context cancellation ends
// the feed.
type RESTFeed struct {
	cfg    RESTConfig
	client *http.Client
	logger zerolog.Logger

	queue      []*types.Bar
	lastSeen   time.Time
	emptyPolls int
}

// NewRESTFeed validates the configuration
func NewRESTFeed(cfg RESTConfig) (*RESTFeed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rest feed: url is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &RESTFeed{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.WithComponent("rest-feed"),
	}, nil
}

// Size returns 0: polling feeds have no known length
func (f *RESTFeed) Size() int { return 0 }

// Next returns the next queued bar, polling when the queue is empty
func (f *RESTFeed) Next(ctx context.Context) (*types.Bar, engine.FeedSignal, error) {
	for {
		if len(f.queue) > 0 {
			bar := f.queue[0]
			f.queue = f.queue[1:]
			return bar, engine.FeedBar, nil
		}

		if err := f.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, engine.FeedEnd, ctx.Err()
			}
			f.logger.Warn().Err(err).Msg("Poll failed, will retry")
		}

		if len(f.queue) == 0 {
			f.emptyPolls++
			if f.emptyPolls > f.cfg.HeartbeatAfter {
				f.emptyPolls = 0
				return nil, engine.FeedHeartbeat, nil
			}
		} else {
			f.emptyPolls = 0
			continue
		}

		select {
		case <-ctx.Done():
			return nil, engine.FeedEnd, ctx.Err()
		case <-time.After(f.cfg.PollInterval):
		}
	}
}

func (f *RESTFeed) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	if f.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.AuthToken)
	}
	q := req.URL.Query()
	if f.cfg.Symbol != "" {
		q.Set("symbol", f.cfg.Symbol)
	}
	if !f.lastSeen.IsZero() {
		q.Set("since", fmt.Sprintf("%d", f.lastSeen.UnixMilli()))
	}
	req.URL.RawQuery = q.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var raw []restBar
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	for _, rb := range raw {
		ts := time.UnixMilli(rb.Timestamp).UTC()
		if !ts.After(f.lastSeen) {
			continue
		}
		symbol := rb.Symbol
		if symbol == "" {
			symbol = f.cfg.Symbol
		}
		f.queue = append(f.queue, &types.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      rb.Open,
			High:      rb.High,
			Low:       rb.Low,
			Close:     rb.Close,
			Volume:    rb.Volume,
			Amount:    rb.Amount,
		})
		f.lastSeen = ts
	}
	return nil
}
