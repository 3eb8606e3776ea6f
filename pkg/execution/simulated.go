package execution

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// FillTiming selects when a market order is priced relative to the
// bar that produced it.
type FillTiming string

const (
	// FillCurrentClose prices against the triggering bar's close.
	// This introduces look-ahead and exists for teaching comparisons;
	// configs must opt in explicitly.
	FillCurrentClose FillTiming = "current_close"

	// FillNextOpen defers pricing to the next bar's open (default)
	FillNextOpen FillTiming = "next_open"
)

// SlippageMode selects how slippage adjusts the fill price
type SlippageMode string

const (
	SlippageRelative SlippageMode = "relative" // fraction of price
	SlippageAbsolute SlippageMode = "absolute" // currency offset
	SlippageBps      SlippageMode = "bps"      // basis points
)

// Slippage configures the price adjustment applied against the side
// of the trade.
type Slippage struct {
	Mode  SlippageMode
	Value float64
}

// adjust moves the price against the trade
func (s Slippage) adjust(price float64, side types.Side) float64 {
	var delta float64
	switch s.Mode {
	case SlippageRelative:
		delta = price * s.Value
	case SlippageAbsolute:
		delta = s.Value
	case SlippageBps:
		delta = price * s.Value / 10000
	default:
		return price
	}
	if side == types.SideBuy {
		return price + delta
	}
	return price - delta
}

// bound returns the worst price the model permits from a base price
func (s Slippage) bound(price float64, side types.Side) float64 {
	return s.adjust(price, side)
}

// Commission configures fill costs: a fixed amount per share plus a
// fraction of notional.
type Commission struct {
	PerShare float64
	Rate     float64
}

func (c Commission) of(qty int64, price float64) float64 {
	return c.PerShare*float64(qty) + c.Rate*float64(qty)*price
}

// Config assembles a simulated broker
type Config struct {
	Timing     FillTiming
	Slippage   Slippage
	Commission Commission

	// VolumeCap bounds a single fill to this fraction of the bar's
	// volume; 0 disables the cap.
	VolumeCap float64

	// Staleness rejects orders whose symbol's last bar is older than
	// this relative to the engine clock; 0 disables the age check.
	// Orders for a symbol with no bar seen yet are rejected either way.
	Staleness time.Duration
}

// workingOrder is an accepted order awaiting (more) fills
type workingOrder struct {
	order     *types.OrderEvent
	remaining int64
	accepted  time.Time // bar time at acceptance, for DAY expiry
}

// Simulated is the immediate-execution broker simulation. It is
// single-threaded, driven entirely by the engine's bus callbacks.
type Simulated struct {
	cfg    Config
	logger zerolog.Logger

	clock    time.Time
	lastBar  map[string]*types.Bar
	lastSeen map[string]time.Time
	working  []*workingOrder
}

// New validates the configuration
func New(cfg Config) (*Simulated, error) {
	switch cfg.Timing {
	case "":
		cfg.Timing = FillNextOpen
	case FillCurrentClose, FillNextOpen:
	default:
		return nil, fmt.Errorf("execution: unknown fill timing %q", cfg.Timing)
	}
	if cfg.VolumeCap < 0 || cfg.VolumeCap > 1 {
		return nil, fmt.Errorf("execution: volume cap must be in [0,1], got %v", cfg.VolumeCap)
	}
	return &Simulated{
		cfg:      cfg,
		logger:   log.WithComponent("execution"),
		lastBar:  make(map[string]*types.Bar),
		lastSeen: make(map[string]time.Time),
	}, nil
}

// OnOrder accepts a risk-approved order. current_close timing fills
// immediately against the last seen bar; next_open queues the order
// for the symbol's next bar.
func (s *Simulated) OnOrder(order *types.OrderEvent) ([]*types.FillEvent, []*types.RiskRejectEvent) {
	if rej := s.checkStale(order); rej != nil {
		return nil, []*types.RiskRejectEvent{rej}
	}

	w := &workingOrder{order: order, remaining: order.Quantity, accepted: s.clock}

	if s.cfg.Timing == FillCurrentClose && order.Type == types.OrderMarket {
		bar := s.lastBar[order.Symbol]
		fill := s.fill(w, bar, bar.Close, true)
		var fills []*types.FillEvent
		if fill != nil {
			fills = append(fills, fill)
		}
		if w.remaining > 0 {
			if order.TIF == types.TIFIOC {
				return fills, []*types.RiskRejectEvent{s.expire(w, "ioc residual canceled")}
			}
			s.working = append(s.working, w)
		}
		return fills, nil
	}

	s.working = append(s.working, w)
	return nil, nil
}

// OnMarket advances the clock to a new bar, fills eligible working
// orders on that symbol, and expires orders past their time in force.
func (s *Simulated) OnMarket(bar *types.Bar) ([]*types.FillEvent, []*types.RiskRejectEvent) {
	s.clock = bar.Timestamp
	s.lastBar[bar.Symbol] = bar
	s.lastSeen[bar.Symbol] = bar.Timestamp

	var fills []*types.FillEvent
	var rejects []*types.RiskRejectEvent
	var keep []*workingOrder

	for _, w := range s.working {
		if w.order.Symbol != bar.Symbol {
			keep = append(keep, w)
			continue
		}

		if expired := s.checkExpiry(w, bar); expired != nil {
			rejects = append(rejects, expired)
			continue
		}

		price, slip, ok := s.price(w.order, bar)
		if ok {
			if fill := s.fill(w, bar, price, slip); fill != nil {
				fills = append(fills, fill)
			}
		}

		if w.remaining == 0 {
			continue
		}
		if w.order.TIF == types.TIFIOC {
			rejects = append(rejects, s.expire(w, "ioc residual canceled"))
			continue
		}
		keep = append(keep, w)
	}

	s.working = keep
	return fills, rejects
}

// price resolves the execution price for a working order against a
// new bar, or reports the order is not fillable this bar. The slip
// result says whether the slippage model still applies on top:
// market fills slip, limit fills never cross their limit, and stop
// fills already embed the slippage bound.
func (s *Simulated) price(order *types.OrderEvent, bar *types.Bar) (price float64, slip, ok bool) {
	switch order.Type {
	case types.OrderMarket:
		return bar.Open, true, true

	case types.OrderLimit:
		limit := *order.Price
		if order.Side == types.SideBuy {
			if bar.Open <= limit {
				return bar.Open, false, true
			}
			if bar.Low <= limit {
				return limit, false, true
			}
		} else {
			if bar.Open >= limit {
				return bar.Open, false, true
			}
			if bar.High >= limit {
				return limit, false, true
			}
		}
		return 0, false, false

	case types.OrderStop:
		stop := *order.Price
		if order.Side == types.SideBuy {
			if bar.High >= stop {
				// Triggered: the stop or worse, capped at the
				// slippage bound from the stop.
				base := math.Max(bar.Open, stop)
				return math.Min(base, s.cfg.Slippage.bound(stop, types.SideBuy)), false, true
			}
		} else {
			if bar.Low <= stop {
				base := math.Min(bar.Open, stop)
				return math.Max(base, s.cfg.Slippage.bound(stop, types.SideSell)), false, true
			}
		}
		return 0, false, false
	}
	return 0, false, false
}

// fill executes as much of the order as the bar's volume cap allows
func (s *Simulated) fill(w *workingOrder, bar *types.Bar, basePrice float64, slip bool) *types.FillEvent {
	qty := w.remaining
	if s.cfg.VolumeCap > 0 {
		capQty := int64(math.Floor(s.cfg.VolumeCap * bar.Volume))
		if capQty <= 0 {
			return nil
		}
		if qty > capQty {
			qty = capQty
		}
	}

	price := basePrice
	if slip {
		price = s.cfg.Slippage.adjust(basePrice, w.order.Side)
	}
	w.remaining -= qty

	return &types.FillEvent{
		OrderID:    w.order.OrderID,
		Symbol:     w.order.Symbol,
		Side:       w.order.Side,
		Quantity:   qty,
		Price:      price,
		Commission: s.cfg.Commission.of(qty, price),
		Slippage:   price - basePrice,
		Remaining:  w.remaining,
		FilledAt:   bar.Timestamp,
	}
}

func (s *Simulated) checkStale(order *types.OrderEvent) *types.RiskRejectEvent {
	last, ok := s.lastSeen[order.Symbol]
	if !ok {
		return s.rejectOrder(order, "staleness", "no market data seen for symbol")
	}
	if s.cfg.Staleness > 0 && s.clock.Sub(last) > s.cfg.Staleness {
		return s.rejectOrder(order, "staleness",
			fmt.Sprintf("last bar %s old, threshold %s", s.clock.Sub(last), s.cfg.Staleness))
	}
	return nil
}

// checkExpiry enforces DAY expiry at the trading-day boundary and
// explicit expires-at deadlines.
func (s *Simulated) checkExpiry(w *workingOrder, bar *types.Bar) *types.RiskRejectEvent {
	if w.order.ExpiresAt != nil && bar.Timestamp.After(*w.order.ExpiresAt) {
		return s.expire(w, "order expired")
	}
	if w.order.TIF == types.TIFDay {
		ay, am, ad := w.accepted.UTC().Date()
		by, bm, bd := bar.Timestamp.UTC().Date()
		if ay != by || am != bm || ad != bd {
			return s.expire(w, "day order expired at trading-day boundary")
		}
	}
	return nil
}

func (s *Simulated) expire(w *workingOrder, reason string) *types.RiskRejectEvent {
	s.logger.Debug().
		Str("order_id", w.order.OrderID).
		Str("reason", reason).
		Msg("Order expired")
	return s.rejectOrder(w.order, "time_in_force", reason)
}

func (s *Simulated) rejectOrder(order *types.OrderEvent, rule, reason string) *types.RiskRejectEvent {
	return &types.RiskRejectEvent{
		RejectID: uuid.New().String(),
		OrderID:  order.OrderID,
		Symbol:   order.Symbol,
		Rule:     rule,
		Reason:   reason,
	}
}
