package engine

import (
	"context"

	"github.com/rlvgl/backtide/pkg/types"
)

// FeedSignal is the non-bar outcome of a feed step
type FeedSignal int

const (
	// FeedBar means a Bar was produced
	FeedBar FeedSignal = iota
	// FeedHeartbeat means no bar arrived within the heartbeat interval
	FeedHeartbeat
	// FeedGap means a per-symbol sequence gap was detected
	FeedGap
	// FeedEnd means the feed is exhausted
	FeedEnd
)

// DataFeed produces a lazy sequence of bars in timestamp order. Feeds
// are not restartable. Historical feeds are finite; live feeds may
// block in Next awaiting a tick and report heartbeats and gaps as
// first-class signals instead of bars.
type DataFeed interface {
	// Next blocks until a bar, a signal, or an error is available.
	// The returned bar is non-nil when the signal is FeedBar; a
	// FeedGap may carry the bar that revealed the gap.
	Next(ctx context.Context) (*types.Bar, FeedSignal, error)

	// Size returns the total number of bars when known in advance,
	// or 0 for live feeds. Used only for progress reporting.
	Size() int
}

// Strategy turns market events into trading signals. Implementations
// hold per-symbol state, must be deterministic given the same event
// sequence, and must not perform external I/O.
type Strategy interface {
	// ID returns the stable strategy identifier
	ID() string

	// OnMarket consumes one bar and returns zero or more signals
	OnMarket(bar *types.Bar) ([]*types.SignalEvent, error)
}

// Portfolio maps signals to orders and keeps the books
type Portfolio interface {
	// OrderFor sizes an order for a signal. Returns (nil, reject, nil)
	// when the portfolio itself refuses the signal (no cash, no
	// inventory) and (nil, nil, nil) for a zero-strength signal; the
	// order is registered as pending when non-nil.
	OrderFor(sig *types.SignalEvent) (*types.OrderEvent, *types.RiskRejectEvent, error)

	// Release drops a pending order that was refused downstream
	Release(orderID string)

	// ApplyFill updates cash and positions for a fill and returns the
	// resulting equity snapshot.
	ApplyFill(fill *types.FillEvent) (*types.MetricsEvent, error)

	// MarkToMarket re-marks the symbol's position at the bar close
	MarkToMarket(bar *types.Bar)

	// Snapshot returns the current equity snapshot
	Snapshot() *types.MetricsEvent

	// State returns the state handed to risk checks
	State() *types.PortfolioState
}

// RiskAction is the outcome of one risk check
type RiskAction int

const (
	RiskApprove RiskAction = iota
	RiskReject
	RiskModify
)

// Decision is the first-class result of a risk check
type Decision struct {
	Action   RiskAction
	Reason   string
	Modified *types.OrderEvent
}

// Approve returns an approving decision
func Approve() Decision { return Decision{Action: RiskApprove} }

// Reject returns a rejecting decision with a reason
func Reject(reason string) Decision {
	return Decision{Action: RiskReject, Reason: reason}
}

// Modify returns a decision substituting a modified order
func Modify(order *types.OrderEvent) Decision {
	return Decision{Action: RiskModify, Modified: order}
}

// RiskManager is one link in the ordered risk chain. The chain
// short-circuits on the first reject.
type RiskManager interface {
	// Name identifies the rule in reject reasons and logs
	Name() string

	// Check evaluates one order against portfolio state
	Check(order *types.OrderEvent, state *types.PortfolioState) Decision
}

// ExecutionHandler simulates the broker
type ExecutionHandler interface {
	// OnMarket advances the simulated clock to a new bar: fills
	// eligible working orders, expires stale ones. Returned rejects
	// cover staleness and TIF expiry outcomes.
	OnMarket(bar *types.Bar) ([]*types.FillEvent, []*types.RiskRejectEvent)

	// OnOrder accepts a risk-approved order. Under current_close
	// timing it may fill immediately against the last seen bar;
	// under next_open it is queued for the next OnMarket.
	OnOrder(order *types.OrderEvent) ([]*types.FillEvent, []*types.RiskRejectEvent)
}

// Reporter is a pure-append observer writing to its own sink
type Reporter interface {
	OnMarket(ev *types.MarketEvent) error
	OnFill(ev *types.FillEvent) error
	OnMetrics(ev *types.MetricsEvent) error
}

// Lifecycle is optionally implemented by stateful stages that need
// start/finish hooks around the run loop.
type Lifecycle interface {
	OnStart() error
	OnFinish() error
}
