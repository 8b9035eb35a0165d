// Package marketdata buffers depth market data per instrument and wakes
// callers blocked on new data.
//
// Ticks are append-only for the life of the store. Every Append signals the
// event broker under the instrument id, which wakes every subscriber waiting
// in WaitForData for that instrument.
package marketdata
