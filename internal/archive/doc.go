// Package archive persists received ticks to TimescaleDB.
//
// The market data store hands every appended tick to a TickWriter through
// Enqueue, which never blocks the gateway callback. Ticks wait in a Queue
// that grows on demand up to a ceiling; past the ceiling new ticks are
// dropped and counted. A consumer goroutine batches queued ticks and
// writes them with pgx batches:
//
//	Store.Append → TickWriter.Enqueue → Queue → consumeLoop → batch → ticks table
//
// Inserts use ON CONFLICT DO NOTHING so a replayed tick is counted as a
// conflict, not an error.
package archive
