/*
Package notify bridges kernel events into notification intents and
defines the channel adapter contract the dispatcher delivers through.

# Bridge

The Bridge is a pure, stateless mapping from transport event records
to intents: every signal becomes a strategy_signal intent (unless
severity filtering drops it), every fill a fill_report, every risk
rejection a risk_alert, and every feed gap or heartbeat timeout a
system_alert. Dedupe keys are deterministic — signal intents
fingerprint (run, strategy, symbol, occurred-at bucket, direction);
the rest key on the event's stable id — so the outbox can collapse
duplicates regardless of which relay produced them.

# Adapters

A ChannelAdapter sends one intent and classifies the outcome: ok,
retryable (network, rate limit, 5xx, with an optional server-indicated
back-off window), or permanent (validation, unknown recipient).
Built-ins:

  - log: renders to the structured log; default and test sink
  - webhook: HTTP POST with bearer auth, client-side rate limiting,
    and Retry-After handling

Further adapters register through RegisterAdapter before configs
naming them are submitted, mirroring the strategy registry.
*/
package notify
