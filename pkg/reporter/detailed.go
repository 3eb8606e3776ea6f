package reporter

import (
	"time"

	"github.com/rlvgl/backtide/pkg/types"
)

// Trade is one round trip reconstructed from fills
type Trade struct {
	Symbol    string
	EntryTime time.Time
	ExitTime  time.Time
	Quantity  int64
	EntryAvg  float64
	ExitAvg   float64
	PnL       float64
	Open      bool
}

// Detailed reconstructs per-trade entries and exits from the fill
// stream and tracks running maximum drawdown off the metrics stream.
type Detailed struct {
	open   map[string]*Trade
	closed []Trade

	peak        float64
	maxDrawdown float64
	realized    float64
	unrealized  float64
}

// NewDetailed creates the reporter
func NewDetailed() *Detailed {
	return &Detailed{open: make(map[string]*Trade)}
}

// OnMarket is a no-op
func (r *Detailed) OnMarket(ev *types.MarketEvent) error { return nil }

// OnFill folds a fill into the symbol's open trade
func (r *Detailed) OnFill(ev *types.FillEvent) error {
	switch ev.Side {
	case types.SideBuy:
		tr, ok := r.open[ev.Symbol]
		if !ok {
			tr = &Trade{Symbol: ev.Symbol, EntryTime: ev.FilledAt, Open: true}
			r.open[ev.Symbol] = tr
		}
		total := tr.EntryAvg*float64(tr.Quantity) + ev.Price*float64(ev.Quantity)
		tr.Quantity += ev.Quantity
		tr.EntryAvg = total / float64(tr.Quantity)

	case types.SideSell:
		tr, ok := r.open[ev.Symbol]
		if !ok {
			// Sell without a tracked entry; nothing to reconstruct.
			return nil
		}
		tr.ExitTime = ev.FilledAt
		closedQty := ev.Quantity
		if closedQty > tr.Quantity {
			closedQty = tr.Quantity
		}
		tr.ExitAvg = ev.Price
		tr.PnL += (ev.Price - tr.EntryAvg) * float64(closedQty)
		tr.Quantity -= closedQty
		if tr.Quantity == 0 {
			tr.Open = false
			r.closed = append(r.closed, *tr)
			delete(r.open, ev.Symbol)
		}
	}
	return nil
}

// OnMetrics advances the drawdown tracker
func (r *Detailed) OnMetrics(ev *types.MetricsEvent) error {
	r.realized = ev.RealizedPnL
	r.unrealized = ev.UnrealizedPnL
	if ev.Equity > r.peak {
		r.peak = ev.Equity
	}
	if r.peak > 0 {
		dd := (r.peak - ev.Equity) / r.peak
		if dd > r.maxDrawdown {
			r.maxDrawdown = dd
		}
	}
	return nil
}

// Trades returns the completed round trips
func (r *Detailed) Trades() []Trade {
	return r.closed
}

// MaxDrawdown returns the running maximum drawdown as a fraction
func (r *Detailed) MaxDrawdown() float64 {
	return r.maxDrawdown
}

// PnL returns the last observed realized and unrealized PnL
func (r *Detailed) PnL() (realized, unrealized float64) {
	return r.realized, r.unrealized
}
