/*
Package reporter provides the pure-append observers at the tail of
the pipeline.

Reporters subscribe to market, fill, and metrics events and write to
their own sinks; they never publish back onto the bus and never
mutate pipeline state.

  - Equity: one (timestamp, equity) sample per MetricsEvent, kept in
    memory and optionally appended to a CSV file.
  - Detailed: per-trade entry/exit reconstruction, running maximum
    drawdown, last realized/unrealized PnL.
  - TradeLog: every fill appended to a durable sink — a line-oriented
    file or a sqlite table keyed by run id. The trade log is an
    independent writer, eventually consistent with the portfolio's
    in-memory state.
*/
package reporter
