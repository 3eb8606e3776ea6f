/*
Package strategy provides the built-in trading strategies and the
registry the config layer uses to construct them.

Strategies implement the engine.Strategy contract: per-symbol rolling
state, deterministic given the same event sequence, no external I/O.
They see every MarketEvent and may return any number of signals.

# Built-ins

  - moving_average: double SMA crossover (short/long windows)
  - breakout: N-bar price channel breakout

# Extension

Plug-in strategies are registered out of band by the embedding
program before a config naming them is submitted:

	strategy.Register("pairs", func(id string, p strategy.Params) (engine.Strategy, error) {
		return newPairs(id, p)
	})

The registry replaces runtime code loading entirely: a discriminator
string either maps to a constructor compiled into the binary or the
config is rejected at validation time.
*/
package strategy
