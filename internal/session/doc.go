// Package session composes the synchronization layer for one gateway
// connection.
//
// A Session owns one event broker, subscription ledger, market data store
// and order correlator, and implements gateway.Handler so the gateway's
// callbacks land in the right component. Independent sessions share nothing.
package session
