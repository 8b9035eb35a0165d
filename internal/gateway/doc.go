// Package gateway defines the narrow capability surface between the core
// synchronization layer and an exchange gateway.
//
// The core consumes:
//   - MarketData: subscribe/unsubscribe market data for one instrument
//   - Trading: submit one order tagged with a caller-chosen order ref
//
// and the gateway delivers asynchronous results through Handler on its own
// goroutine. Request methods return vendor status codes (0 = accepted);
// StatusError turns a non-zero code into a Go error.
package gateway
