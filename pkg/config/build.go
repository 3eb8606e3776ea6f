package config

import (
	"fmt"
	"time"

	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/execution"
	"github.com/rlvgl/backtide/pkg/feed"
	"github.com/rlvgl/backtide/pkg/portfolio"
	"github.com/rlvgl/backtide/pkg/reporter"
	"github.com/rlvgl/backtide/pkg/risk"
	"github.com/rlvgl/backtide/pkg/strategy"
	"github.com/rlvgl/backtide/pkg/types"
)

// BuildOptions carries the per-run hooks the worker installs
type BuildOptions struct {
	RunID      string
	ProgressFn func(float64)
	EventSink  func(types.Event)
}

// Build assembles an engine from a validated document through the
// component registries. Construction failures are config errors.
func Build(doc *Document, opts BuildOptions) (*engine.Engine, error) {
	df, err := buildFeed(&doc.DataFeed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var strategies []engine.Strategy
	for i, sc := range doc.Strategies {
		name := sc.Type
		if sc.Type == "plugin" {
			name = sc.Ref
		}
		id := sc.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", name, i)
		}
		s, err := strategy.New(name, id, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: strategies[%d]: %v", ErrInvalid, i, err)
		}
		strategies = append(strategies, s)
	}

	pf, err := portfolio.New(portfolio.Config{
		LotSize:     doc.Portfolio.LotSize,
		InitialCash: doc.Portfolio.InitialCash,
		MaxLeverage: doc.Portfolio.MaxLeverage,
		OrderTIF:    types.TimeInForce(doc.Portfolio.OrderTIF),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	staleness, _ := parseDuration(doc.Execution.Staleness)
	exec, err := execution.New(execution.Config{
		Timing: execution.FillTiming(doc.Execution.FillTiming),
		Slippage: execution.Slippage{
			Mode:  execution.SlippageMode(doc.Execution.Slippage.Mode),
			Value: doc.Execution.Slippage.Value,
		},
		Commission: execution.Commission{
			PerShare: doc.Execution.Commission.PerShare,
			Rate:     doc.Execution.Commission.Rate,
		},
		VolumeCap: doc.Execution.VolumeCap,
		Staleness: staleness,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var risks []engine.RiskManager
	for _, rc := range doc.Risk {
		switch rc.Type {
		case "max_position":
			risks = append(risks, &risk.MaxPosition{Limit: rc.Limit})
		case "buying_power":
			risks = append(risks, &risk.BuyingPower{FeeRate: rc.FeeRate})
		case "concentration":
			risks = append(risks, &risk.Concentration{MaxFraction: rc.MaxFraction})
		case "price_band":
			risks = append(risks, &risk.PriceBand{Band: rc.Band})
		}
	}

	var reporters []engine.Reporter
	for i, rc := range doc.Reporters {
		switch rc.Type {
		case "equity":
			reporters = append(reporters, reporter.NewEquity(rc.Path))
		case "detailed":
			reporters = append(reporters, reporter.NewDetailed())
		case "tradelog":
			r, err := reporter.NewTradeLogFile(opts.RunID, rc.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: reporters[%d]: %v", ErrInvalid, i, err)
			}
			reporters = append(reporters, r)
		case "tradelog_db":
			r, err := reporter.NewTradeLogDB(opts.RunID, rc.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: reporters[%d]: %v", ErrInvalid, i, err)
			}
			reporters = append(reporters, r)
		}
	}

	return engine.New(engine.Config{
		RunID:      opts.RunID,
		Feed:       df,
		Strategies: strategies,
		Portfolio:  pf,
		Execution:  exec,
		Risks:      risks,
		Reporters:  reporters,
		ProgressFn: opts.ProgressFn,
		EventSink:  opts.EventSink,
	})
}

func buildFeed(fc *FeedConfig) (engine.DataFeed, error) {
	switch fc.Type {
	case "inmemory":
		bars := make([]*types.Bar, 0, len(fc.Bars))
		for i, ib := range fc.Bars {
			ts, err := time.Parse(time.RFC3339, ib.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("bars[%d]: bad ts %q", i, ib.Timestamp)
			}
			bars = append(bars, &types.Bar{
				Symbol:    ib.Symbol,
				Timestamp: ts.UTC(),
				Open:      ib.Open,
				High:      ib.High,
				Low:       ib.Low,
				Close:     ib.Close,
				Volume:    ib.Volume,
				Amount:    ib.Amount,
			})
		}
		return feed.NewInMemoryFeed(bars), nil

	case "local_csv", "local_file":
		return feed.NewCSVFeed(fc.Path, fc.Symbol)

	case "rest":
		poll, _ := parseDuration(fc.PollInterval)
		return feed.NewRESTFeed(feed.RESTConfig{
			URL:          fc.URL,
			Symbol:       fc.Symbol,
			AuthToken:    fc.AuthToken,
			PollInterval: poll,
		})

	case "websocket", "push_stream", "live_api":
		heartbeat, _ := parseDuration(fc.HeartbeatInterval)
		symbols := fc.Symbols
		if len(symbols) == 0 && fc.Symbol != "" {
			symbols = []string{fc.Symbol}
		}
		return feed.NewWebSocketFeed(feed.WSConfig{
			URL:               fc.URL,
			Symbols:           symbols,
			AuthToken:         fc.AuthToken,
			HeartbeatInterval: heartbeat,
		})
	}
	return nil, fmt.Errorf("unknown feed type %q", fc.Type)
}
