package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rlvgl/backtide/pkg/bus"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrCanceled is returned when the run loop stops on a canceled
	// context between feed steps.
	ErrCanceled = errors.New("engine: run canceled")

	// ErrStrikeBudget is returned when strategy errors exceed the
	// configured budget.
	ErrStrikeBudget = errors.New("engine: strategy error budget exhausted")
)

// DefaultStrikeBudget is the number of strategy errors tolerated
// before the run is failed.
const DefaultStrikeBudget = 5

// FeedError wraps a fatal feed failure so the worker can map it onto
// its feed_error exit code.
type FeedError struct {
	Err error
}

func (e *FeedError) Error() string { return fmt.Sprintf("feed: %v", e.Err) }
func (e *FeedError) Unwrap() error { return e.Err }

// Config assembles an engine
type Config struct {
	RunID      string
	Feed       DataFeed
	Strategies []Strategy
	Portfolio  Portfolio
	Execution  ExecutionHandler
	Risks      []RiskManager
	Reporters  []Reporter

	// ProgressFn, when set, receives the fraction of bars consumed
	// after each drain. Only meaningful for finite feeds.
	ProgressFn func(float64)

	// EventSink, when set, observes every event after all pipeline
	// handlers have run. The run worker uses it to relay events to
	// the controller.
	EventSink func(types.Event)

	// StrikeBudget bounds tolerated strategy errors; zero means
	// DefaultStrikeBudget.
	StrikeBudget int
}

// Summary describes a completed run
type Summary struct {
	BarsProcessed int
	Fills         int
	Rejects       int
	FinalEquity   float64
	FinalCash     float64
	RealizedPnL   float64
}

// Engine owns the bus and drives the feed through the pipeline. An
// engine instance runs exactly once; it is single-threaded and must
// not be shared across goroutines.
type Engine struct {
	cfg    Config
	bus    *bus.Bus
	logger zerolog.Logger

	symbolSeq map[string]uint64
	strikes   int
	barsSeen  int
	fills     int
	rejects   int
}

// New wires an engine: subscriptions are registered in pipeline order
// (execution marks, portfolio marking, strategies, bookkeeping,
// reporters) so fills from working orders land before new signals on
// every bar.
func New(cfg Config) (*Engine, error) {
	if cfg.Feed == nil {
		return nil, errors.New("engine: data feed is required")
	}
	if cfg.Portfolio == nil {
		return nil, errors.New("engine: portfolio is required")
	}
	if cfg.Execution == nil {
		return nil, errors.New("engine: execution handler is required")
	}
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("engine: at least one strategy is required")
	}
	if cfg.StrikeBudget <= 0 {
		cfg.StrikeBudget = DefaultStrikeBudget
	}

	e := &Engine{
		cfg:       cfg,
		bus:       bus.New(cfg.RunID),
		logger:    log.WithComponent("engine"),
		symbolSeq: make(map[string]uint64),
	}

	if err := e.wire(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) wire() error {
	// Execution sees each bar first: next_open fills price at the
	// incoming bar's open, before strategies react to it.
	if err := e.bus.Subscribe(types.EventMarket, e.onMarketExecution); err != nil {
		return err
	}
	if err := e.bus.Subscribe(types.EventMarket, e.onMarketPortfolio); err != nil {
		return err
	}
	for _, s := range e.cfg.Strategies {
		s := s
		if err := e.bus.Subscribe(types.EventMarket, func(ev types.Event) error {
			return e.onMarketStrategy(s, ev.(*types.MarketEvent))
		}); err != nil {
			return err
		}
	}
	if err := e.bus.Subscribe(types.EventSignal, e.onSignal); err != nil {
		return err
	}
	if err := e.bus.Subscribe(types.EventOrder, e.onOrder); err != nil {
		return err
	}
	if err := e.bus.Subscribe(types.EventFill, e.onFill); err != nil {
		return err
	}
	if err := e.bus.Subscribe(types.EventRiskReject, func(ev types.Event) error {
		e.rejects++
		return nil
	}); err != nil {
		return err
	}

	for _, r := range e.cfg.Reporters {
		r := r
		if err := e.bus.Subscribe(types.EventMarket, func(ev types.Event) error {
			return r.OnMarket(ev.(*types.MarketEvent))
		}); err != nil {
			return err
		}
		if err := e.bus.Subscribe(types.EventFill, func(ev types.Event) error {
			return r.OnFill(ev.(*types.FillEvent))
		}); err != nil {
			return err
		}
		if err := e.bus.Subscribe(types.EventMetrics, func(ev types.Event) error {
			return r.OnMetrics(ev.(*types.MetricsEvent))
		}); err != nil {
			return err
		}
	}

	if e.cfg.EventSink != nil {
		// The sink observes every kind, after all pipeline handlers.
		kinds := []types.EventKind{
			types.EventMarket, types.EventSignal, types.EventOrder,
			types.EventFill, types.EventMetrics, types.EventRiskReject,
			types.EventAlert,
		}
		for _, k := range kinds {
			if err := e.bus.Subscribe(k, func(ev types.Event) error {
				e.cfg.EventSink(ev)
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run drives the feed to exhaustion or cancellation. Cancellation is
// cooperative: it is checked before each feed step, and a drain in
// progress always completes so handlers observe consistent state.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if err := e.startStages(); err != nil {
		return nil, err
	}

	total := e.cfg.Feed.Size()
	var runErr error

loop:
	for {
		if err := ctx.Err(); err != nil {
			runErr = ErrCanceled
			break
		}

		bar, sig, err := e.cfg.Feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ErrCanceled
				break
			}
			runErr = &FeedError{Err: err}
			break
		}

		switch sig {
		case FeedEnd:
			break loop
		case FeedHeartbeat:
			e.publishAlert(types.AlertHeartbeatTimeout, "", "no bar within heartbeat interval")
		case FeedGap:
			symbol := ""
			if bar != nil {
				symbol = bar.Symbol
			}
			e.publishAlert(types.AlertFeedGap, symbol, "per-symbol sequence gap detected")
		case FeedBar:
			e.barsSeen++
			e.symbolSeq[bar.Symbol]++
			e.bus.Publish(&types.MarketEvent{
				Envelope: types.Envelope{
					OccurredAt: bar.Timestamp,
					SymbolSeq:  e.symbolSeq[bar.Symbol],
				},
				Bar: bar,
			})
		}

		if err := e.bus.Drain(); err != nil {
			runErr = err
			break
		}

		if e.cfg.ProgressFn != nil && total > 0 {
			e.cfg.ProgressFn(float64(e.barsSeen) / float64(total))
		}
	}

	// Final snapshot is published even on cancellation so reporters
	// close out with the last consistent state.
	if runErr == nil || errors.Is(runErr, ErrCanceled) {
		snap := e.cfg.Portfolio.Snapshot()
		snap.Envelope = types.Envelope{OccurredAt: time.Now().UTC()}
		e.bus.Publish(snap)
		if err := e.bus.Drain(); err != nil && runErr == nil {
			runErr = err
		}
	}

	if err := e.finishStages(); err != nil && runErr == nil {
		runErr = err
	}

	state := e.cfg.Portfolio.State()
	snap := e.cfg.Portfolio.Snapshot()
	summary := &Summary{
		BarsProcessed: e.barsSeen,
		Fills:         e.fills,
		Rejects:       e.rejects,
		FinalEquity:   state.Equity(),
		FinalCash:     state.Cash,
		RealizedPnL:   snap.RealizedPnL,
	}
	return summary, runErr
}

func (e *Engine) startStages() error {
	for _, c := range e.lifecycles() {
		if err := c.OnStart(); err != nil {
			return fmt.Errorf("engine: start: %w", err)
		}
	}
	return nil
}

func (e *Engine) finishStages() error {
	var first error
	for _, c := range e.lifecycles() {
		if err := c.OnFinish(); err != nil && first == nil {
			first = fmt.Errorf("engine: finish: %w", err)
		}
	}
	return first
}

func (e *Engine) lifecycles() []Lifecycle {
	var out []Lifecycle
	add := func(v interface{}) {
		if c, ok := v.(Lifecycle); ok {
			out = append(out, c)
		}
	}
	add(e.cfg.Feed)
	for _, s := range e.cfg.Strategies {
		add(s)
	}
	add(e.cfg.Portfolio)
	add(e.cfg.Execution)
	for _, r := range e.cfg.Risks {
		add(r)
	}
	for _, r := range e.cfg.Reporters {
		add(r)
	}
	return out
}

func (e *Engine) onMarketExecution(ev types.Event) error {
	bar := ev.(*types.MarketEvent).Bar
	fills, rejects := e.cfg.Execution.OnMarket(bar)
	for _, f := range fills {
		f.Envelope = types.Envelope{OccurredAt: f.FilledAt}
		e.bus.Publish(f)
	}
	for _, r := range rejects {
		if r.OrderID != "" {
			e.cfg.Portfolio.Release(r.OrderID)
		}
		e.bus.Publish(r)
	}
	return nil
}

func (e *Engine) onMarketPortfolio(ev types.Event) error {
	e.cfg.Portfolio.MarkToMarket(ev.(*types.MarketEvent).Bar)
	return nil
}

func (e *Engine) onMarketStrategy(s Strategy, ev *types.MarketEvent) error {
	sigs, err := s.OnMarket(ev.Bar)
	if err != nil {
		e.strikes++
		e.logger.Error().
			Err(err).
			Str("strategy_id", s.ID()).
			Int("strikes", e.strikes).
			Msg("Strategy error, signal skipped")
		e.publishAlert(types.AlertStrategyError, ev.Bar.Symbol,
			fmt.Sprintf("strategy %s: %v", s.ID(), err))
		if e.strikes > e.cfg.StrikeBudget {
			return bus.Fatal(fmt.Errorf("%w: strategy %s", ErrStrikeBudget, s.ID()))
		}
		return nil
	}
	for _, sig := range sigs {
		if sig.SignalID == "" {
			sig.SignalID = uuid.New().String()
		}
		sig.StrategyID = s.ID()
		sig.Envelope = types.Envelope{OccurredAt: ev.Bar.Timestamp}
		e.bus.Publish(sig)
	}
	return nil
}

// onSignal maps a signal to an order through the portfolio and the
// risk chain, short-circuiting on the first reject.
func (e *Engine) onSignal(ev types.Event) error {
	sig := ev.(*types.SignalEvent)

	order, reject, err := e.cfg.Portfolio.OrderFor(sig)
	if err != nil {
		return bus.Fatal(fmt.Errorf("portfolio: %w", err))
	}
	if reject != nil {
		reject.Envelope = types.Envelope{OccurredAt: sig.OccurredAt}
		e.bus.Publish(reject)
		return nil
	}
	if order == nil {
		return nil
	}

	for _, rm := range e.cfg.Risks {
		decision := rm.Check(order, e.cfg.Portfolio.State())
		switch decision.Action {
		case RiskReject:
			e.cfg.Portfolio.Release(order.OrderID)
			e.bus.Publish(&types.RiskRejectEvent{
				Envelope:   types.Envelope{OccurredAt: sig.OccurredAt},
				RejectID:   uuid.New().String(),
				StrategyID: sig.StrategyID,
				Symbol:     order.Symbol,
				Rule:       rm.Name(),
				Reason:     decision.Reason,
			})
			return nil
		case RiskModify:
			order = decision.Modified
		}
	}

	order.Envelope = types.Envelope{OccurredAt: sig.OccurredAt}
	e.bus.Publish(order)
	return nil
}

func (e *Engine) onOrder(ev types.Event) error {
	order := ev.(*types.OrderEvent)
	fills, rejects := e.cfg.Execution.OnOrder(order)
	for _, f := range fills {
		f.Envelope = types.Envelope{OccurredAt: f.FilledAt}
		e.bus.Publish(f)
	}
	for _, r := range rejects {
		if r.OrderID != "" {
			e.cfg.Portfolio.Release(r.OrderID)
		}
		e.bus.Publish(r)
	}
	return nil
}

func (e *Engine) onFill(ev types.Event) error {
	fill := ev.(*types.FillEvent)
	e.fills++
	metrics, err := e.cfg.Portfolio.ApplyFill(fill)
	if err != nil {
		return bus.Fatal(fmt.Errorf("apply fill %s: %w", fill.OrderID, err))
	}
	metrics.Envelope = types.Envelope{OccurredAt: fill.FilledAt}
	e.bus.Publish(metrics)
	return nil
}

func (e *Engine) publishAlert(kind types.AlertKind, symbol, detail string) {
	e.bus.Publish(&types.AlertEvent{
		Envelope: types.Envelope{OccurredAt: time.Now().UTC()},
		AlertID:  uuid.New().String(),
		Alert:    kind,
		Symbol:   symbol,
		Detail:   detail,
	})
}
