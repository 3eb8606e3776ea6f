package portfolio

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// Config sizes the naive portfolio
type Config struct {
	LotSize     int64
	InitialCash float64
	// MaxLeverage clamps gross exposure when signals carry target
	// weights. 0 means 1.0 (fully invested, no leverage).
	MaxLeverage float64
	OrderTIF    types.TimeInForce // TIF stamped on emitted orders; empty = gtc
}

// Naive is a long-only portfolio with fixed-lot sizing and an
// optional target-weight allocator. It tracks cash, positions,
// commissions, and cash reserved by in-flight buy orders.
type Naive struct {
	cfg    Config
	logger zerolog.Logger

	cash       float64
	positions  map[string]*types.Position
	commission float64
	realized   float64
	lastClose  map[string]float64

	// pending maps order id to the cash reserved for it (buys) or
	// the inventory committed (sells), so overlapping signals cannot
	// double-spend.
	pendingCash map[string]float64
	pendingQty  map[string]pendingSell
}

type pendingSell struct {
	symbol string
	qty    int64
}

// New validates the configuration
func New(cfg Config) (*Naive, error) {
	if cfg.LotSize <= 0 {
		return nil, fmt.Errorf("portfolio: lot size must be positive, got %d", cfg.LotSize)
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("portfolio: initial cash must be positive, got %v", cfg.InitialCash)
	}
	if cfg.MaxLeverage == 0 {
		cfg.MaxLeverage = 1.0
	}
	if cfg.OrderTIF == "" {
		cfg.OrderTIF = types.TIFGTC
	}
	return &Naive{
		cfg:         cfg,
		logger:      log.WithComponent("portfolio"),
		cash:        cfg.InitialCash,
		positions:   make(map[string]*types.Position),
		lastClose:   make(map[string]float64),
		pendingCash: make(map[string]float64),
		pendingQty:  make(map[string]pendingSell),
	}, nil
}

// OrderFor sizes an order for a signal. Zero-strength signals produce
// nothing; signals the portfolio cannot fund or cover return a reject
// record instead of an order.
func (p *Naive) OrderFor(sig *types.SignalEvent) (*types.OrderEvent, *types.RiskRejectEvent, error) {
	if sig.Strength <= 0 {
		return nil, nil, nil
	}

	price, ok := p.lastClose[sig.Symbol]
	if !ok || price <= 0 {
		return nil, p.reject(sig, "reference_price", "no reference price for symbol"), nil
	}

	switch sig.Direction {
	case types.DirectionLong:
		return p.buyOrder(sig, price)
	case types.DirectionExit:
		return p.sellOrder(sig)
	case types.DirectionShort:
		return nil, p.reject(sig, "long_only", "short signals unsupported by naive portfolio"), nil
	default:
		return nil, nil, fmt.Errorf("portfolio: unknown direction %q", sig.Direction)
	}
}

func (p *Naive) buyOrder(sig *types.SignalEvent, price float64) (*types.OrderEvent, *types.RiskRejectEvent, error) {
	var qty int64
	if sig.TargetWeight != nil {
		qty = p.allocate(sig.Symbol, *sig.TargetWeight, price)
		if qty == 0 {
			// Already at or above target; nothing to do.
			return nil, nil, nil
		}
	} else {
		qty = p.cfg.LotSize
	}

	required := float64(qty) * price
	if required > p.availableCash() {
		return nil, p.reject(sig, "cash",
			fmt.Sprintf("need %.2f, available %.2f", required, p.availableCash())), nil
	}

	order := p.newOrder(sig, types.SideBuy, qty)
	p.pendingCash[order.OrderID] = required
	return order, nil, nil
}

func (p *Naive) sellOrder(sig *types.SignalEvent) (*types.OrderEvent, *types.RiskRejectEvent, error) {
	pos, ok := p.positions[sig.Symbol]
	held := int64(0)
	if ok {
		held = pos.Quantity
	}
	for _, ps := range p.pendingQty {
		if ps.symbol == sig.Symbol {
			held -= ps.qty
		}
	}
	if held <= 0 {
		return nil, p.reject(sig, "inventory", "no inventory to exit"), nil
	}

	order := p.newOrder(sig, types.SideSell, held)
	p.pendingQty[order.OrderID] = pendingSell{symbol: sig.Symbol, qty: held}
	return order, nil, nil
}

// allocate translates a target fractional exposure into an
// incremental lot-rounded quantity, clamping gross exposure to
// MaxLeverage of equity.
func (p *Naive) allocate(symbol string, weight, price float64) int64 {
	equity := p.State().Equity()
	target := weight * equity

	gross := 0.0
	for _, pos := range p.positions {
		gross += math.Abs(pos.MarketValue())
	}
	headroom := p.cfg.MaxLeverage*equity - gross
	if target > headroom {
		target = headroom
	}

	current := 0.0
	if pos, ok := p.positions[symbol]; ok {
		current = pos.MarketValue()
	}
	deltaQty := (target - current) / price
	lots := int64(math.Floor(deltaQty / float64(p.cfg.LotSize)))
	if lots <= 0 {
		return 0
	}
	return lots * p.cfg.LotSize
}

func (p *Naive) newOrder(sig *types.SignalEvent, side types.Side, qty int64) *types.OrderEvent {
	return &types.OrderEvent{
		OrderID:  uuid.New().String(),
		SignalID: sig.SignalID,
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: qty,
		Type:     types.OrderMarket,
		TIF:      p.cfg.OrderTIF,
	}
}

func (p *Naive) reject(sig *types.SignalEvent, rule, reason string) *types.RiskRejectEvent {
	p.logger.Debug().
		Str("symbol", sig.Symbol).
		Str("rule", rule).
		Str("reason", reason).
		Msg("Signal rejected")
	return &types.RiskRejectEvent{
		RejectID:   uuid.New().String(),
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Rule:       rule,
		Reason:     reason,
	}
}

// Release drops the reservation of a refused or expired order
func (p *Naive) Release(orderID string) {
	delete(p.pendingCash, orderID)
	delete(p.pendingQty, orderID)
}

// ApplyFill updates cash and positions for one fill and returns the
// resulting equity snapshot. The cash identity holds per fill:
// cash' + qty'*price == cash + qty*price - commission.
func (p *Naive) ApplyFill(fill *types.FillEvent) (*types.MetricsEvent, error) {
	pos, ok := p.positions[fill.Symbol]
	if !ok {
		pos = &types.Position{Symbol: fill.Symbol}
		p.positions[fill.Symbol] = pos
	}

	notional := float64(fill.Quantity) * fill.Price

	switch fill.Side {
	case types.SideBuy:
		p.cash -= notional + fill.Commission
		total := float64(pos.Quantity)*pos.AvgCost + notional
		pos.Quantity += fill.Quantity
		pos.AvgCost = total / float64(pos.Quantity)
	case types.SideSell:
		if fill.Quantity > pos.Quantity {
			return nil, fmt.Errorf("portfolio: fill %s sells %d but only %d held",
				fill.OrderID, fill.Quantity, pos.Quantity)
		}
		p.cash += notional - fill.Commission
		p.realized += (fill.Price - pos.AvgCost) * float64(fill.Quantity)
		pos.Quantity -= fill.Quantity
		if pos.Quantity == 0 {
			pos.AvgCost = 0
		}
	default:
		return nil, fmt.Errorf("portfolio: unknown side %q", fill.Side)
	}

	pos.MarkPrice = fill.Price
	p.commission += fill.Commission

	// Shrink the reservation in step with the fill; a fully-filled
	// order's reservation disappears.
	if fill.Remaining == 0 {
		p.Release(fill.OrderID)
	} else {
		if reserved, ok := p.pendingCash[fill.OrderID]; ok {
			p.pendingCash[fill.OrderID] = reserved - notional
		}
		if committed, ok := p.pendingQty[fill.OrderID]; ok {
			committed.qty -= fill.Quantity
			p.pendingQty[fill.OrderID] = committed
		}
	}

	return p.Snapshot(), nil
}

// MarkToMarket re-marks the symbol at the bar close
func (p *Naive) MarkToMarket(bar *types.Bar) {
	p.lastClose[bar.Symbol] = bar.Close
	if pos, ok := p.positions[bar.Symbol]; ok {
		pos.MarkPrice = bar.Close
	}
}

// Snapshot returns the current equity snapshot
func (p *Naive) Snapshot() *types.MetricsEvent {
	state := p.State()
	var unrealized float64
	holdings := make(map[string]int64)
	for sym, pos := range p.positions {
		if pos.Quantity == 0 {
			continue
		}
		holdings[sym] = pos.Quantity
		unrealized += (pos.MarkPrice - pos.AvgCost) * float64(pos.Quantity)
	}
	return &types.MetricsEvent{
		Equity:        state.Equity(),
		Cash:          p.cash,
		RealizedPnL:   p.realized,
		UnrealizedPnL: unrealized,
		Holdings:      holdings,
	}
}

// State returns the snapshot handed to risk checks
func (p *Naive) State() *types.PortfolioState {
	positions := make(map[string]*types.Position, len(p.positions))
	for sym, pos := range p.positions {
		cp := *pos
		positions[sym] = &cp
	}
	pending := make([]string, 0, len(p.pendingCash)+len(p.pendingQty))
	for id := range p.pendingCash {
		pending = append(pending, id)
	}
	for id := range p.pendingQty {
		pending = append(pending, id)
	}
	marks := make(map[string]float64, len(p.lastClose))
	for sym, c := range p.lastClose {
		marks[sym] = c
	}
	return &types.PortfolioState{
		Cash:           p.cash,
		Positions:      positions,
		CommissionPaid: p.commission,
		PendingOrders:  pending,
		Marks:          marks,
	}
}

func (p *Naive) availableCash() float64 {
	available := p.cash
	for _, reserved := range p.pendingCash {
		available -= reserved
	}
	return available
}
