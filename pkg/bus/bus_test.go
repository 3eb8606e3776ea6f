package bus

import (
	"errors"
	"testing"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func marketEvent(symbol string) *types.MarketEvent {
	return &types.MarketEvent{Bar: &types.Bar{Symbol: symbol, Close: 100}}
}

// TestFIFOOrder verifies events dispatch in exact publish order
// across kinds.
func TestFIFOOrder(t *testing.T) {
	b := New("run-1")

	var order []string
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		order = append(order, "market")
		return nil
	}))
	require.NoError(t, b.Subscribe(types.EventSignal, func(ev types.Event) error {
		order = append(order, "signal")
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	b.Publish(&types.SignalEvent{Symbol: "AAPL", Direction: types.DirectionLong})
	b.Publish(marketEvent("MSFT"))

	require.NoError(t, b.Drain())
	assert.Equal(t, []string{"market", "signal", "market"}, order)
	assert.Equal(t, 0, b.Pending())
}

// TestRegistrationOrder verifies multiple handlers for one kind run
// in registration order, each exactly once per event.
func TestRegistrationOrder(t *testing.T) {
	b := New("run-1")

	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
			calls = append(calls, i)
			return nil
		}))
	}

	b.Publish(marketEvent("AAPL"))
	b.Publish(marketEvent("AAPL"))
	require.NoError(t, b.Drain())

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, calls)
}

// TestSequenceNumbers verifies monotonically increasing envelope
// sequence numbers assigned on publish.
func TestSequenceNumbers(t *testing.T) {
	b := New("run-1")

	var seqs []uint64
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		seqs = append(seqs, ev.Env().Seq)
		return nil
	}))

	for i := 0; i < 5; i++ {
		b.Publish(marketEvent("AAPL"))
	}
	require.NoError(t, b.Drain())

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

// TestCascadedPublish verifies events published by handlers dispatch
// within the same drain, after already-queued events.
func TestCascadedPublish(t *testing.T) {
	b := New("run-1")

	var order []string
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		order = append(order, "market")
		b.Publish(&types.SignalEvent{Symbol: "AAPL", Direction: types.DirectionLong})
		return nil
	}))
	require.NoError(t, b.Subscribe(types.EventSignal, func(ev types.Event) error {
		order = append(order, "signal")
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	b.Publish(marketEvent("AAPL"))
	require.NoError(t, b.Drain())

	// Both market events dispatch before the signals they produced.
	assert.Equal(t, []string{"market", "market", "signal", "signal"}, order)
}

// TestRecoverableError verifies a failing handler is skipped without
// aborting the drain.
func TestRecoverableError(t *testing.T) {
	b := New("run-1")

	var after int
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		return errors.New("transient")
	}))
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		after++
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	require.NoError(t, b.Drain())
	assert.Equal(t, 1, after)
}

// TestFatalError verifies a Fatal-wrapped error aborts the drain and
// surfaces to the caller.
func TestFatalError(t *testing.T) {
	b := New("run-1")

	boom := errors.New("state corrupt")
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		return Fatal(boom)
	}))

	var later int
	require.NoError(t, b.Subscribe(types.EventSignal, func(ev types.Event) error {
		later++
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	b.Publish(&types.SignalEvent{Symbol: "AAPL"})

	err := b.Drain()
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, later)
	assert.Equal(t, 1, b.Pending())
}

// TestNestedDrain verifies a handler cannot re-enter Drain
func TestNestedDrain(t *testing.T) {
	b := New("run-1")

	var nested error
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		nested = b.Drain()
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	require.NoError(t, b.Drain())
	assert.ErrorIs(t, nested, ErrReentrantDrain)
}

// TestSubscribeDuringDrain verifies registration is rejected while
// dispatch is active.
func TestSubscribeDuringDrain(t *testing.T) {
	b := New("run-1")

	var subErr error
	require.NoError(t, b.Subscribe(types.EventMarket, func(ev types.Event) error {
		subErr = b.Subscribe(types.EventSignal, func(types.Event) error { return nil })
		return nil
	}))

	b.Publish(marketEvent("AAPL"))
	require.NoError(t, b.Drain())
	assert.ErrorIs(t, subErr, ErrDraining)
}
