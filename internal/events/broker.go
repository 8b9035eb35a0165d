package events

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// LoginEvent is notified when the gateway confirms a login.
const LoginEvent = "event_login"

// ErrClosed is returned by waits that were interrupted by Close.
var ErrClosed = errors.New("event broker closed")

// Broker is a named condition wait/notify primitive. Safe for concurrent use.
type Broker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters map[string]map[*Registration]struct{}
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	b := &Broker{
		waiters: make(map[string]map[*Registration]struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Registration is one waiter entry. It is notified at most once.
type Registration struct {
	broker   *Broker
	key      string
	token    string
	notified bool
	removed  bool
}

// Key returns the event key.
func (r *Registration) Key() string { return r.key }

// Token returns the wait token.
func (r *Registration) Token() string { return r.token }

// Register adds a waiter for eventKey without blocking.
// If the broker is closed, the returned registration's Wait fails with ErrClosed.
func (b *Broker) Register(eventKey, waitToken string) *Registration {
	r := &Registration{broker: b, key: eventKey, token: waitToken}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		r.removed = true
		return r
	}
	set, ok := b.waiters[eventKey]
	if !ok {
		set = make(map[*Registration]struct{})
		b.waiters[eventKey] = set
	}
	set[r] = struct{}{}
	return r
}

// Wait blocks until the registration is notified, ctx is done, or the broker
// is closed. A notified registration always returns nil, even if ctx ended
// at the same time.
func (r *Registration) Wait(ctx context.Context) error {
	b := r.broker

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for !r.notified && !r.removed && ctx.Err() == nil {
		b.cond.Wait()
	}

	if r.notified {
		return nil
	}
	if !r.removed {
		b.removeLocked(r)
		return ctx.Err()
	}
	return ErrClosed
}

// Cancel removes the registration if it has not been notified yet.
func (r *Registration) Cancel() {
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !r.notified && !r.removed {
		b.removeLocked(r)
	}
}

func (b *Broker) removeLocked(r *Registration) {
	r.removed = true
	set := b.waiters[r.key]
	delete(set, r)
	if len(set) == 0 {
		delete(b.waiters, r.key)
	}
}

// Wait registers (eventKey, waitToken) and blocks until notified.
// Pass context.Background() to wait indefinitely.
func (b *Broker) Wait(ctx context.Context, eventKey, waitToken string) error {
	return b.Register(eventKey, waitToken).Wait(ctx)
}

// WaitOnce waits on eventKey with a freshly generated unique token.
func (b *Broker) WaitOnce(ctx context.Context, eventKey string) error {
	return b.Wait(ctx, eventKey, uuid.NewString())
}

// Notify wakes every waiter currently registered under eventKey.
func (b *Broker) Notify(eventKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.waiters[eventKey]
	if !ok {
		return
	}
	for r := range set {
		r.notified = true
		r.removed = true
	}
	delete(b.waiters, eventKey)
	b.cond.Broadcast()
}

// NotifyOnce is the companion of WaitOnce. It behaves exactly like Notify.
func (b *Broker) NotifyOnce(eventKey string) {
	b.Notify(eventKey)
}

// Pending returns the number of waiters registered under eventKey.
func (b *Broker) Pending(eventKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters[eventKey])
}

// Keys returns the sorted event keys that have at least one waiter.
func (b *Broker) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.waiters))
	for k := range b.waiters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close wakes every waiter with ErrClosed and rejects future registrations.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, set := range b.waiters {
		for r := range set {
			r.removed = true
		}
		delete(b.waiters, key)
	}
	b.cond.Broadcast()
}
