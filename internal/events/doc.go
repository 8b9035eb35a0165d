// Package events provides a named wait/notify broker.
//
// The broker:
//   - Registers waiters under an event key with a caller-chosen wait token
//   - Blocks each waiter until a Notify on its key removes it
//   - Wakes every waiter registered under the key on Notify (broadcast)
//   - Drops a waiter whose context ends before it is notified
//
// Waiters are independent entries: two registrations with the same key and
// token are both woken by one Notify. A Notify only affects waiters that are
// registered at the time of the call; there is no memory of past notifies.
//
// Use Register when the action that causes the notify must be started after
// the waiter is in place (submit an order, then wait for its fill).
package events
