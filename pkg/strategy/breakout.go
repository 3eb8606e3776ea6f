package strategy

import (
	"fmt"

	"github.com/rlvgl/backtide/pkg/types"
)

// Breakout trades an N-bar price channel: long when the close clears
// the prior N-bar high, exit when it drops below the prior N-bar low.
type Breakout struct {
	id       string
	symbol   string
	lookback int

	highs []float64
	lows  []float64
}

// NewBreakout validates the channel length
func NewBreakout(id, symbol string, lookback int) (*Breakout, error) {
	if symbol == "" {
		return nil, fmt.Errorf("breakout: symbol is required")
	}
	if lookback <= 0 {
		return nil, fmt.Errorf("breakout: lookback must be positive, got %d", lookback)
	}
	return &Breakout{id: id, symbol: symbol, lookback: lookback}, nil
}

// ID returns the stable strategy identifier
func (s *Breakout) ID() string { return s.id }

// OnMarket emits a signal when the close breaks the prior channel
func (s *Breakout) OnMarket(bar *types.Bar) ([]*types.SignalEvent, error) {
	if bar.Symbol != s.symbol {
		return nil, nil
	}

	var sigs []*types.SignalEvent
	if len(s.highs) == s.lookback {
		switch {
		case bar.Close > highest(s.highs):
			sigs = append(sigs, &types.SignalEvent{
				Symbol:    s.symbol,
				Direction: types.DirectionLong,
				Strength:  1,
				Reason:    fmt.Sprintf("close broke %d-bar high", s.lookback),
			})
		case bar.Close < lowest(s.lows):
			sigs = append(sigs, &types.SignalEvent{
				Symbol:    s.symbol,
				Direction: types.DirectionExit,
				Strength:  1,
				Reason:    fmt.Sprintf("close broke %d-bar low", s.lookback),
			})
		}
	}

	s.highs = append(s.highs, bar.High)
	s.lows = append(s.lows, bar.Low)
	if len(s.highs) > s.lookback {
		s.highs = s.highs[1:]
		s.lows = s.lows[1:]
	}
	return sigs, nil
}

func highest(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func lowest(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
