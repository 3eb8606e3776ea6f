package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// WSConfig configures a live websocket feed
type WSConfig struct {
	URL               string
	Symbols           []string
	AuthToken         string
	HeartbeatInterval time.Duration // heartbeat signal when no bar arrives within this window
	ReconnectBase     time.Duration // initial backoff between reconnect attempts
	ReconnectMax      time.Duration // backoff cap
	MaxReconnects     int           // consecutive failures before the feed gives up; 0 = unlimited
}

func (c *WSConfig) withDefaults() WSConfig {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = time.Second
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = time.Minute
	}
	return out
}

// wsFrame is the wire shape of one tick from the upstream feed
type wsFrame struct {
	Symbol    string  `json:"symbol"`
	Seq       uint64  `json:"seq"`
	Timestamp int64   `json:"ts"` // unix milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
}

type wsItem struct {
	bar *types.Bar
	gap bool
	err error
}

// WebSocketFeed consumes bars from a live websocket stream. It
// reconnects with capped exponential backoff, reports a heartbeat
// signal when the stream goes quiet, and flags per-symbol sequence
// gaps. Live feeds are infinite: Size reports 0 and the feed ends
// only on a fatal transport failure or context cancellation.
type WebSocketFeed struct {
	cfg    WSConfig
	logger zerolog.Logger

	items   chan wsItem
	started bool
	lastSeq map[string]uint64
}

// NewWebSocketFeed creates the feed; the connection is established
// lazily on the first Next call.
func NewWebSocketFeed(cfg WSConfig) (*WebSocketFeed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket feed: url is required")
	}
	return &WebSocketFeed{
		cfg:     cfg.withDefaults(),
		logger:  log.WithComponent("ws-feed"),
		items:   make(chan wsItem),
		lastSeq: make(map[string]uint64),
	}, nil
}

// Size returns 0: live feeds have no known length
func (f *WebSocketFeed) Size() int { return 0 }

// Next blocks for the next bar, heartbeat, or gap signal
func (f *WebSocketFeed) Next(ctx context.Context) (*types.Bar, engine.FeedSignal, error) {
	if !f.started {
		f.started = true
		go f.readLoop(ctx)
	}

	timer := time.NewTimer(f.cfg.HeartbeatInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, engine.FeedEnd, ctx.Err()
	case <-timer.C:
		return nil, engine.FeedHeartbeat, nil
	case item, ok := <-f.items:
		if !ok {
			return nil, engine.FeedEnd, nil
		}
		if item.err != nil {
			return nil, engine.FeedEnd, item.err
		}
		if item.gap {
			return item.bar, engine.FeedGap, nil
		}
		return item.bar, engine.FeedBar, nil
	}
}

// readLoop owns the connection: dial, subscribe, pump frames,
// reconnect on failure with exponential backoff.
func (f *WebSocketFeed) readLoop(ctx context.Context) {
	defer close(f.items)

	backoff := f.cfg.ReconnectBase
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := f.dial(ctx)
		if err != nil {
			failures++
			if f.cfg.MaxReconnects > 0 && failures >= f.cfg.MaxReconnects {
				f.send(ctx, wsItem{err: fmt.Errorf("websocket feed: %d consecutive connect failures: %w", failures, err)})
				return
			}
			f.logger.Warn().
				Err(err).
				Dur("backoff", backoff).
				Int("failures", failures).
				Msg("Connect failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.cfg.ReconnectMax {
				backoff = f.cfg.ReconnectMax
			}
			continue
		}

		failures = 0
		backoff = f.cfg.ReconnectBase
		f.pump(ctx, conn)
		conn.Close()
	}
}

func (f *WebSocketFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if f.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+f.cfg.AuthToken)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	if len(f.cfg.Symbols) > 0 {
		sub := map[string]interface{}{"op": "subscribe", "symbols": f.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info().Str("url", f.cfg.URL).Msg("Connected")
	return conn, nil
}

// pump reads frames until the connection breaks
func (f *WebSocketFeed) pump(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn().Err(err).Msg("Read failed, reconnecting")
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.logger.Warn().Err(err).Msg("Malformed frame, skipping")
			continue
		}
		if frame.Symbol == "" {
			// Control frame (ack, pong); nothing to emit.
			continue
		}

		bar := &types.Bar{
			Symbol:    frame.Symbol,
			Timestamp: time.UnixMilli(frame.Timestamp).UTC(),
			Open:      frame.Open,
			High:      frame.High,
			Low:       frame.Low,
			Close:     frame.Close,
			Volume:    frame.Volume,
			Amount:    frame.Amount,
		}

		gap := false
		if last, ok := f.lastSeq[frame.Symbol]; ok && frame.Seq > last+1 {
			gap = true
			f.logger.Warn().
				Str("symbol", frame.Symbol).
				Uint64("expected", last+1).
				Uint64("got", frame.Seq).
				Msg("Sequence gap")
		}
		f.lastSeq[frame.Symbol] = frame.Seq

		if gap {
			if !f.send(ctx, wsItem{bar: bar, gap: true}) {
				return
			}
		}
		if !f.send(ctx, wsItem{bar: bar}) {
			return
		}
	}
}

func (f *WebSocketFeed) send(ctx context.Context, item wsItem) bool {
	select {
	case <-ctx.Done():
		return false
	case f.items <- item:
		return true
	}
}
