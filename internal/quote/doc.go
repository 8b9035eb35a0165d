// Package quote polls level-1 HTTP quote services as a secondary market
// data source.
//
// The Poller:
//   - Fetches GET {base}/quotes/{instrument} for every subscribed instrument
//   - Runs one cycle per interval with bounded concurrency
//   - Fails over across the configured services in order
//   - Appends results to the tick store with source "http"
package quote
