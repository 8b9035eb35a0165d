// Package subscription deduplicates market data subscriptions across callers.
//
// The Ledger:
//   - Tracks, per instrument, the set of subscriber ids that want its data
//   - Calls the gateway only on the first subscribe and the last unsubscribe
//   - Leaves no entry behind when a gateway subscribe is rejected
//   - Keeps the subscriber when a gateway unsubscribe fails, so it can retry
//
// The gateway call and the ledger update happen under one mutex, so two
// callers racing on the same instrument cannot both trigger a subscribe.
package subscription
