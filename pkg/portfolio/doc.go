/*
Package portfolio maps strategy signals to orders and keeps the books.

The naive portfolio is long-only: positions never go negative, exits
liquidate the full holding, and short signals are rejected. Sizing is
a fixed lot per signal unless the signal carries a target weight, in
which case the allocator sizes the incremental quantity toward the
target exposure, clamps gross exposure to the configured leverage,
and rounds down to whole lots.

Cash reserved by in-flight buy orders and inventory committed to
in-flight sells are tracked per order id, so a burst of signals within
one bar cannot double-spend before fills land. The engine releases a
reservation when a downstream stage refuses the order.

The cash identity is an invariant checked by the tests: for every
applied fill, cash plus position value at the fill price changes by
exactly the commission.
*/
package portfolio
