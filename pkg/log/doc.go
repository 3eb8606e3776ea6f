/*
Package log provides structured logging for Backtide using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Architecture

A single global logger is initialized once at process start (controller or
run worker) and child loggers are derived from it per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("intent_id", id).Msg("Intent delivered")

Child logger helpers attach the fields the rest of the system keys on:

  - WithComponent: subsystem name (engine, manager, dispatcher, ...)
  - WithRunID: backtest/live run identifier
  - WithStrategyID: strategy identifier
  - WithIntentID: outbox intent identifier

# Output Modes

JSONOutput selects machine-readable JSON (production, and always inside run
workers so the controller can relay log frames verbatim) or a human console
writer for interactive use.

Run workers log to stderr; stdout is reserved for the framed IPC stream to
the controller.
*/
package log
