// Package order correlates submitted orders with their asynchronous fills.
//
// The Correlator:
//   - Allocates a monotonically increasing order ref per order
//   - Registers a waiter on the compound key "contract/ref" before submitting
//   - Returns a gateway rejection immediately without waiting
//   - Blocks until a fill or a terminal status arrives for that order
//   - Aggregates the fills seen so far into a FillResult with a
//     volume-weighted average price rounded to 2 decimal places
//
// PlaceOrder returns on the first wake-up. An order that is partially filled
// at that point reports only the fills received so far; later fills are still
// recorded and visible through Fills.
package order
