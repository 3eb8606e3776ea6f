package risk

import (
	"testing"

	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
)

func state(cash float64, qty int64, mark float64) *types.PortfolioState {
	s := &types.PortfolioState{
		Cash:      cash,
		Positions: map[string]*types.Position{},
		Marks:     map[string]float64{"AAPL": mark},
	}
	if qty != 0 {
		s.Positions["AAPL"] = &types.Position{
			Symbol: "AAPL", Quantity: qty, AvgCost: mark, MarkPrice: mark,
		}
	}
	return s
}

func buy(qty int64) *types.OrderEvent {
	return &types.OrderEvent{
		OrderID: "o-1", Symbol: "AAPL", Side: types.SideBuy,
		Quantity: qty, Type: types.OrderMarket,
	}
}

func TestMaxPosition(t *testing.T) {
	rule := &MaxPosition{Limit: 200}

	tests := []struct {
		name   string
		held   int64
		qty    int64
		action engine.RiskAction
	}{
		{"within limit", 0, 100, engine.RiskApprove},
		{"at limit", 100, 100, engine.RiskApprove},
		{"over limit", 200, 100, engine.RiskReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rule.Check(buy(tt.qty), state(100000, tt.held, 100))
			assert.Equal(t, tt.action, d.Action)
		})
	}
}

func TestBuyingPower(t *testing.T) {
	rule := &BuyingPower{FeeRate: 0.001}

	// 100 * 100 * 1.001 = 10010
	d := rule.Check(buy(100), state(10010, 0, 100))
	assert.Equal(t, engine.RiskApprove, d.Action)

	d = rule.Check(buy(100), state(10009, 0, 100))
	assert.Equal(t, engine.RiskReject, d.Action)
	assert.Contains(t, d.Reason, "exceeds cash")

	// Sells never consume buying power.
	sell := buy(100)
	sell.Side = types.SideSell
	d = rule.Check(sell, state(0, 100, 100))
	assert.Equal(t, engine.RiskApprove, d.Action)
}

func TestConcentration(t *testing.T) {
	rule := &Concentration{MaxFraction: 0.25}

	// 100 shares at 100 = 10000 exposure on 100000 equity: 10%.
	d := rule.Check(buy(100), state(100000, 0, 100))
	assert.Equal(t, engine.RiskApprove, d.Action)

	// 300 more on an existing 100-share position: 40000 of 110000.
	d = rule.Check(buy(300), state(100000, 100, 100))
	assert.Equal(t, engine.RiskReject, d.Action)
}

func TestPriceBand(t *testing.T) {
	rule := &PriceBand{Band: 0.05}

	limit := 103.0
	order := buy(100)
	order.Type = types.OrderLimit
	order.Price = &limit

	d := rule.Check(order, state(100000, 0, 100))
	assert.Equal(t, engine.RiskApprove, d.Action)

	far := 110.0
	order.Price = &far
	d = rule.Check(order, state(100000, 0, 100))
	assert.Equal(t, engine.RiskReject, d.Action)

	// Market orders carry no reference price and pass.
	d = rule.Check(buy(100), state(100000, 0, 100))
	assert.Equal(t, engine.RiskApprove, d.Action)
}
