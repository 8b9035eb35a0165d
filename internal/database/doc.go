// Package database manages the TimescaleDB connection pool used by the tick
// archive, and the archive schema.
package database
