package strategy

import (
	"fmt"

	"github.com/rlvgl/backtide/pkg/types"
)

// MovingAverage is the classic double moving-average crossover: go
// long when the short SMA crosses above the long SMA, exit when it
// crosses back below. Pure in-memory state, one symbol.
type MovingAverage struct {
	id     string
	symbol string
	short  int
	long   int

	window []float64
	// prevDiff tracks short-long from the previous bar; crossings are
	// edges, not levels, so only a sign change emits a signal. The
	// flat starting state counts as the level to cross from, so the
	// first full window can itself produce a signal.
	prevDiff float64
}

// NewMovingAverage validates the window lengths
func NewMovingAverage(id, symbol string, short, long int) (*MovingAverage, error) {
	if symbol == "" {
		return nil, fmt.Errorf("moving_average: symbol is required")
	}
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("moving_average: need 0 < short < long, got short=%d long=%d", short, long)
	}
	return &MovingAverage{id: id, symbol: symbol, short: short, long: long}, nil
}

// ID returns the stable strategy identifier
func (s *MovingAverage) ID() string { return s.id }

// OnMarket consumes one bar and emits a crossover signal when the
// short average crosses the long one.
func (s *MovingAverage) OnMarket(bar *types.Bar) ([]*types.SignalEvent, error) {
	if bar.Symbol != s.symbol {
		return nil, nil
	}

	s.window = append(s.window, bar.Close)
	if len(s.window) > s.long {
		s.window = s.window[1:]
	}
	if len(s.window) < s.long {
		return nil, nil
	}

	diff := sma(s.window[len(s.window)-s.short:]) - sma(s.window)
	defer func() { s.prevDiff = diff }()

	switch {
	case s.prevDiff <= 0 && diff > 0:
		return []*types.SignalEvent{{
			Symbol:    s.symbol,
			Direction: types.DirectionLong,
			Strength:  1,
			Reason:    fmt.Sprintf("sma(%d) crossed above sma(%d)", s.short, s.long),
		}}, nil
	case s.prevDiff >= 0 && diff < 0:
		return []*types.SignalEvent{{
			Symbol:    s.symbol,
			Direction: types.DirectionExit,
			Strength:  1,
			Reason:    fmt.Sprintf("sma(%d) crossed below sma(%d)", s.short, s.long),
		}}, nil
	}
	return nil, nil
}

func sma(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
