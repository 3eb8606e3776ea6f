/*
Package config parses, validates, and materializes run configuration
documents.

A document is YAML (JSON parses as a YAML subset) with sections for
the data feed, the ordered strategy list, the portfolio, execution,
the risk chain, reporters, and optional notifications. Validation
mode is chosen at submit time: strict rejects unknown keys at any
level, lenient ignores them for forward compatibility. All
validation failures wrap ErrInvalid so the worker maps them onto its
config_invalid exit code.

Build assembles an engine from a validated document through the
component registries — every discriminator string resolves to a
constructor compiled into the binary (built-ins at init, plug-ins
registered by the embedding program before submit). There is no
runtime code loading; a "plugin" strategy entry simply names a
registry key through its ref field.
*/
package config
