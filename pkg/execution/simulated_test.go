package execution

import (
	"testing"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func bar(i int, open, high, low, close, volume float64) *types.Bar {
	return &types.Bar{
		Symbol:    "AAPL",
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func marketOrder(qty int64, tif types.TimeInForce) *types.OrderEvent {
	return &types.OrderEvent{
		OrderID:  "o-1",
		Symbol:   "AAPL",
		Side:     types.SideBuy,
		Quantity: qty,
		Type:     types.OrderMarket,
		TIF:      tif,
	}
}

func TestNextOpenFill(t *testing.T) {
	s, err := New(Config{Timing: FillNextOpen})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100.5, 10000))

	fills, rejects := s.OnOrder(marketOrder(100, types.TIFGTC))
	assert.Empty(t, fills)
	assert.Empty(t, rejects)

	fills, rejects = s.OnMarket(bar(1, 102, 103, 101, 102.5, 10000))
	require.Len(t, fills, 1)
	assert.Empty(t, rejects)
	assert.Equal(t, 102.0, fills[0].Price)
	assert.Equal(t, int64(100), fills[0].Quantity)
	assert.Equal(t, int64(0), fills[0].Remaining)
}

func TestCurrentCloseFill(t *testing.T) {
	s, err := New(Config{Timing: FillCurrentClose})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100.5, 10000))

	fills, rejects := s.OnOrder(marketOrder(100, types.TIFGTC))
	require.Len(t, fills, 1)
	assert.Empty(t, rejects)
	assert.Equal(t, 100.5, fills[0].Price)
}

func TestSlippageAgainstSide(t *testing.T) {
	s, err := New(Config{
		Timing:   FillNextOpen,
		Slippage: Slippage{Mode: SlippageBps, Value: 10}, // 0.1%
	})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100, 10000))
	s.OnOrder(marketOrder(100, types.TIFGTC))

	fills, _ := s.OnMarket(bar(1, 100, 101, 99, 100, 10000))
	require.Len(t, fills, 1)
	assert.InDelta(t, 100.1, fills[0].Price, 1e-9)
	assert.InDelta(t, 0.1, fills[0].Slippage, 1e-9)
}

func TestCommission(t *testing.T) {
	s, err := New(Config{
		Timing:     FillNextOpen,
		Commission: Commission{PerShare: 0.01, Rate: 0.0005},
	})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100, 10000))
	s.OnOrder(marketOrder(100, types.TIFGTC))

	fills, _ := s.OnMarket(bar(1, 100, 101, 99, 100, 10000))
	require.Len(t, fills, 1)
	// 100 shares * 0.01 + 100*100*0.0005 = 1 + 5
	assert.InDelta(t, 6.0, fills[0].Commission, 1e-9)
}

func TestVolumeCapPartialThenCarry(t *testing.T) {
	s, err := New(Config{Timing: FillNextOpen, VolumeCap: 0.1})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100, 1000))
	s.OnOrder(marketOrder(300, types.TIFGTC))

	// Cap = 0.1 * 1000 = 100 shares per bar.
	fills, rejects := s.OnMarket(bar(1, 100, 101, 99, 100, 1000))
	require.Len(t, fills, 1)
	assert.Empty(t, rejects)
	assert.Equal(t, int64(100), fills[0].Quantity)
	assert.Equal(t, int64(200), fills[0].Remaining)

	fills, _ = s.OnMarket(bar(2, 100, 101, 99, 100, 1000))
	require.Len(t, fills, 1)
	assert.Equal(t, int64(100), fills[0].Remaining)
}

func TestVolumeCapIOCCancelsResidual(t *testing.T) {
	s, err := New(Config{Timing: FillNextOpen, VolumeCap: 0.1})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100, 1000))
	s.OnOrder(marketOrder(300, types.TIFIOC))

	fills, rejects := s.OnMarket(bar(1, 100, 101, 99, 100, 1000))
	require.Len(t, fills, 1)
	require.Len(t, rejects, 1)
	assert.Equal(t, int64(100), fills[0].Quantity)
	assert.Equal(t, "time_in_force", rejects[0].Rule)
	assert.Equal(t, "o-1", rejects[0].OrderID)

	// Nothing carries to the next bar.
	fills, rejects = s.OnMarket(bar(2, 100, 101, 99, 100, 1000))
	assert.Empty(t, fills)
	assert.Empty(t, rejects)
}

func TestDayOrderExpiresAtBoundary(t *testing.T) {
	s, err := New(Config{Timing: FillNextOpen, VolumeCap: 0.0001})
	require.NoError(t, err)

	s.OnMarket(bar(0, 100, 101, 99, 100, 1000)) // cap rounds to zero: no fill
	s.OnOrder(marketOrder(100, types.TIFDay))

	_, rejects := s.OnMarket(bar(1, 100, 101, 99, 100, 1000))
	assert.Empty(t, rejects)

	nextDay := &types.Bar{
		Symbol: "AAPL", Timestamp: t0.Add(24 * time.Hour),
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000,
	}
	_, rejects = s.OnMarket(nextDay)
	require.Len(t, rejects, 1)
	assert.Equal(t, "time_in_force", rejects[0].Rule)
}

func TestStalenessGuard(t *testing.T) {
	s, err := New(Config{Timing: FillNextOpen, Staleness: 5 * time.Minute})
	require.NoError(t, err)

	// No data at all for the symbol.
	fills, rejects := s.OnOrder(marketOrder(100, types.TIFGTC))
	assert.Empty(t, fills)
	require.Len(t, rejects, 1)
	assert.Equal(t, "staleness", rejects[0].Rule)

	// Fresh data admits the order.
	s.OnMarket(bar(0, 100, 101, 99, 100, 1000))
	_, rejects = s.OnOrder(marketOrder(100, types.TIFGTC))
	assert.Empty(t, rejects)

	// Another symbol's bars advance the clock past the threshold.
	s2, err := New(Config{Timing: FillNextOpen, Staleness: 5 * time.Minute})
	require.NoError(t, err)
	s2.OnMarket(bar(0, 100, 101, 99, 100, 1000))
	s2.OnMarket(&types.Bar{
		Symbol: "MSFT", Timestamp: t0.Add(10 * time.Minute),
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
	})
	_, rejects = s2.OnOrder(marketOrder(100, types.TIFGTC))
	require.Len(t, rejects, 1)
	assert.Equal(t, "staleness", rejects[0].Rule)
}

func TestLimitOrderTouch(t *testing.T) {
	limit := 99.5
	order := &types.OrderEvent{
		OrderID: "o-1", Symbol: "AAPL", Side: types.SideBuy,
		Quantity: 100, Type: types.OrderLimit, Price: &limit, TIF: types.TIFGTC,
	}

	s, err := New(Config{Timing: FillNextOpen})
	require.NoError(t, err)
	s.OnMarket(bar(0, 100, 101, 99, 100, 1000))
	s.OnOrder(order)

	// Bar never trades down to the limit.
	fills, _ := s.OnMarket(bar(1, 100.2, 101, 99.8, 100.5, 1000))
	assert.Empty(t, fills)

	// Low touches the limit: fill at the limit, no slippage applied.
	fills, _ = s.OnMarket(bar(2, 100, 101, 99.2, 100, 1000))
	require.Len(t, fills, 1)
	assert.Equal(t, 99.5, fills[0].Price)
}

func TestStopOrderTrigger(t *testing.T) {
	stop := 101.0
	order := &types.OrderEvent{
		OrderID: "o-1", Symbol: "AAPL", Side: types.SideBuy,
		Quantity: 100, Type: types.OrderStop, Price: &stop, TIF: types.TIFGTC,
	}

	s, err := New(Config{
		Timing:   FillNextOpen,
		Slippage: Slippage{Mode: SlippageAbsolute, Value: 0.5},
	})
	require.NoError(t, err)
	s.OnMarket(bar(0, 100, 100.5, 99, 100, 1000))
	s.OnOrder(order)

	// High never reaches the stop.
	fills, _ := s.OnMarket(bar(1, 100, 100.8, 99.5, 100.2, 1000))
	assert.Empty(t, fills)

	// Cross: opens below the stop, high crosses. Fill at the stop.
	fills, _ = s.OnMarket(bar(2, 100.5, 102, 100, 101.5, 1000))
	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].Price)

	// Gap far above the stop: fill capped at stop + slippage bound.
	s2, err := New(Config{
		Timing:   FillNextOpen,
		Slippage: Slippage{Mode: SlippageAbsolute, Value: 0.5},
	})
	require.NoError(t, err)
	s2.OnMarket(bar(0, 100, 100.5, 99, 100, 1000))
	s2.OnOrder(&types.OrderEvent{
		OrderID: "o-2", Symbol: "AAPL", Side: types.SideBuy,
		Quantity: 100, Type: types.OrderStop, Price: &stop, TIF: types.TIFGTC,
	})
	fills, _ = s2.OnMarket(bar(1, 103, 104, 102.5, 103.5, 1000))
	require.Len(t, fills, 1)
	assert.Equal(t, 101.5, fills[0].Price)
}
