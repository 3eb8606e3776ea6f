/*
Package risk implements the ordered risk chain consulted between
signal and order.

Each rule is an engine.RiskManager returning a first-class decision:
approve, reject with a reason, or modify with a substituted order.
The engine evaluates the chain in configuration order and
short-circuits on the first reject, publishing a RiskRejectEvent the
reporters and the notification bridge observe.

# Rules

  - max_position: post-fill absolute quantity cap
  - buying_power: order notional plus estimated fees vs. cash
  - concentration: post-fill single-symbol exposure vs. equity
  - price_band: order reference price vs. last close deviation

Rules price orders off the portfolio state's Marks map so a symbol's
very first order is still checkable.
*/
package risk
