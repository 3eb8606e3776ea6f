/*
Package engine drives market data through the five-stage pipeline on a
synchronous event bus.

The engine owns one bus and one feed. Each bar yielded by the feed is
published as a MarketEvent and the bus is drained to quiescence before
the next feed step, so every stage observes a fully consistent world
between bars.

# Pipeline

	feed ──▶ MarketEvent ──▶ strategies ──▶ SignalEvent
	                │                            │
	                │                       portfolio + risk chain
	                │                            │
	                │                        OrderEvent
	                │                            │
	                └──▶ execution ◀─────────────┘
	                         │
	                     FillEvent ──▶ portfolio ──▶ MetricsEvent
	                         │                            │
	                         └──────▶ reporters ◀─────────┘

Subscription order on MarketEvent is load-bearing: execution runs
first (working next_open orders fill at the incoming bar's open),
then the portfolio re-marks positions, then strategies react, then
reporters record.

# Stage Contracts

Each stage is a narrow capability interface defined in this package:
DataFeed, Strategy, Portfolio, RiskManager, ExecutionHandler and
Reporter. Implementations live in their own packages (feed, strategy,
portfolio, risk, execution, reporter) and are assembled from a config
document by the config package's registry. Stages needing start and
finish hooks additionally implement Lifecycle.

# Failure Containment

A strategy error never crashes the run outright: the signal is
skipped, an AlertEvent is published, and a strike counter advances.
Only when strikes exceed the configured budget does the engine fail
the run. Portfolio and execution invariant violations are fatal
immediately. Cancellation is cooperative: the context is checked
before each feed step and a drain in progress always completes.
*/
package engine
