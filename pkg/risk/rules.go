package risk

import (
	"fmt"
	"math"

	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/types"
)

// MaxPosition rejects orders whose post-fill absolute quantity would
// exceed the limit.
type MaxPosition struct {
	Limit int64
}

// Name identifies the rule
func (r *MaxPosition) Name() string { return "max_position" }

// Check evaluates the post-fill quantity
func (r *MaxPosition) Check(order *types.OrderEvent, state *types.PortfolioState) engine.Decision {
	held := int64(0)
	if pos, ok := state.Positions[order.Symbol]; ok {
		held = pos.Quantity
	}

	post := held
	switch order.Side {
	case types.SideBuy:
		post += order.Quantity
	case types.SideSell:
		post -= order.Quantity
	}
	if post < 0 {
		post = -post
	}

	if post > r.Limit {
		return engine.Reject(fmt.Sprintf("post-fill quantity %d exceeds limit %d", post, r.Limit))
	}
	return engine.Approve()
}

// BuyingPower rejects buys whose notional plus estimated fees exceeds
// available cash.
type BuyingPower struct {
	// FeeRate estimates commission as a fraction of notional when
	// sizing the check; keep aligned with the execution config.
	FeeRate float64
}

// Name identifies the rule
func (r *BuyingPower) Name() string { return "buying_power" }

// Check evaluates order notional against cash
func (r *BuyingPower) Check(order *types.OrderEvent, state *types.PortfolioState) engine.Decision {
	if order.Side != types.SideBuy {
		return engine.Approve()
	}

	price := r.referencePrice(order, state)
	if price <= 0 {
		return engine.Reject("no reference price to cost the order")
	}

	required := float64(order.Quantity) * price
	required += required * r.FeeRate
	if required > state.Cash {
		return engine.Reject(fmt.Sprintf("notional %.2f exceeds cash %.2f", required, state.Cash))
	}
	return engine.Approve()
}

func (r *BuyingPower) referencePrice(order *types.OrderEvent, state *types.PortfolioState) float64 {
	if order.Price != nil {
		return *order.Price
	}
	return state.Marks[order.Symbol]
}

// Concentration rejects orders that would push one symbol's exposure
// past a fraction of equity.
type Concentration struct {
	MaxFraction float64
}

// Name identifies the rule
func (r *Concentration) Name() string { return "concentration" }

// Check evaluates post-fill exposure against equity
func (r *Concentration) Check(order *types.OrderEvent, state *types.PortfolioState) engine.Decision {
	if order.Side != types.SideBuy {
		return engine.Approve()
	}

	price := state.Marks[order.Symbol]
	if order.Price != nil {
		price = *order.Price
	}
	if price <= 0 {
		return engine.Approve()
	}

	post := state.Exposure(order.Symbol) + float64(order.Quantity)*price
	equity := state.Equity()
	if equity <= 0 {
		return engine.Reject("equity is not positive")
	}
	if post/equity > r.MaxFraction {
		return engine.Reject(fmt.Sprintf("post-fill exposure %.1f%% exceeds %.1f%% of equity",
			100*post/equity, 100*r.MaxFraction))
	}
	return engine.Approve()
}

// PriceBand rejects orders whose reference price strays from the last
// marked close by more than a fractional band. Orders without a
// reference price (market orders) pass.
type PriceBand struct {
	Band float64
}

// Name identifies the rule
func (r *PriceBand) Name() string { return "price_band" }

// Check compares the order reference price to the last mark
func (r *PriceBand) Check(order *types.OrderEvent, state *types.PortfolioState) engine.Decision {
	if order.Price == nil {
		return engine.Approve()
	}
	mark := state.Marks[order.Symbol]
	if mark <= 0 {
		return engine.Approve()
	}

	deviation := math.Abs(*order.Price-mark) / mark
	if deviation > r.Band {
		return engine.Reject(fmt.Sprintf("price %.2f deviates %.2f%% from last close %.2f",
			*order.Price, 100*deviation, mark))
	}
	return engine.Approve()
}
