// Package bridge connects to a gateway sidecar over WebSocket.
//
// The sidecar hosts the vendor trading SDK and exposes both fronts (market
// data and trading) as JSON over one WebSocket. The Bridge:
//   - Sends commands ({"id","cmd","params"}) and correlates responses by id
//   - Maps response codes to gateway status codes (0 = accepted)
//   - Dispatches pushed events (tick, fill, order_status, login,
//     disconnected) to a gateway.Handler on its read goroutine
//   - Logs each front in and blocks until the login event arrives
//   - Reconnects with exponential backoff, logs in again, then runs the
//     reconnect hook so subscriptions can be restored
//
// Bridge implements gateway.MarketData and gateway.Trading.
package bridge
