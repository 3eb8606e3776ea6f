/*
Package execution simulates the broker.

The Simulated handler accepts risk-approved orders and fills them
against bars, entirely on the engine's thread. Two fill timings are
supported: next_open (the default) queues a market order until the
symbol's next bar and prices it at that bar's open; current_close
prices immediately at the triggering bar's close, which introduces
look-ahead and exists only for comparisons against sources that teach
it — configs must opt in.

# Fill Mechanics

  - Slippage: relative fraction, absolute offset, or basis points,
    always against the side of the trade. Applied to market fills;
    limit fills never cross their limit; stop fills embed the bound.
  - Commission: fixed per share plus a fraction of notional.
  - Partial fills: a single fill is capped at a configured fraction
    of the bar's volume. GTC residuals carry to the next bar, IOC
    residuals cancel, DAY residuals expire at the trading-day
    boundary.
  - Limit orders fill when the bar's range touches the limit on the
    appropriate side; stops trigger on a cross and fill at the stop
    or worse, capped at the slippage bound.
  - Staleness guard: an order whose symbol has no bar within the
    configured threshold is rejected rather than filled on stale
    prices.

Expiry and staleness surface as RiskRejectEvents carrying the order
id, which the engine uses to release the portfolio's reservation.
*/
package execution
