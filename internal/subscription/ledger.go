package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/ctpbridge/internal/gateway"
)

// Ledger is a reference-counted subscription table over a gateway.
type Ledger struct {
	gw     gateway.MarketData
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[string]struct{} // instrument → subscriber ids
}

// NewLedger creates a ledger that forwards first-subscribe and
// last-unsubscribe to gw.
func NewLedger(gw gateway.MarketData, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		gw:     gw,
		logger: logger.With("component", "subscription_ledger"),
		subs:   make(map[string]map[string]struct{}),
	}
}

// Subscribe adds subscriberID to instrument. The gateway is asked to
// subscribe only when the instrument has no subscribers yet. Subscribing the
// same id twice is a no-op.
func (l *Ledger) Subscribe(ctx context.Context, instrument, subscriberID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if set, ok := l.subs[instrument]; ok {
		set[subscriberID] = struct{}{}
		l.logger.Debug("joined existing subscription",
			"instrument", instrument,
			"subscriber", subscriberID,
			"subscribers", len(set),
		)
		return nil
	}

	code := l.gw.SubscribeMarketData(ctx, instrument)
	if err := gateway.Check("subscribe", instrument, code); err != nil {
		l.logger.Warn("gateway subscribe failed",
			"instrument", instrument,
			"subscriber", subscriberID,
			"code", code,
		)
		return err
	}

	l.subs[instrument] = map[string]struct{}{subscriberID: {}}
	l.logger.Info("gateway subscribe ok",
		"instrument", instrument,
		"subscriber", subscriberID,
	)
	return nil
}

// Unsubscribe removes subscriberID from instrument. When it is the last
// subscriber the gateway is asked to unsubscribe first; on failure the entry
// is left unchanged and the error returned. Unknown instruments and
// non-member subscribers are no-ops.
func (l *Ledger) Unsubscribe(ctx context.Context, instrument, subscriberID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.subs[instrument]
	if !ok {
		return nil
	}
	if _, member := set[subscriberID]; !member {
		return nil
	}

	if len(set) > 1 {
		delete(set, subscriberID)
		l.logger.Debug("left shared subscription",
			"instrument", instrument,
			"subscriber", subscriberID,
			"subscribers", len(set),
		)
		return nil
	}

	code := l.gw.UnsubscribeMarketData(ctx, instrument)
	if err := gateway.Check("unsubscribe", instrument, code); err != nil {
		l.logger.Warn("gateway unsubscribe failed",
			"instrument", instrument,
			"subscriber", subscriberID,
			"code", code,
		)
		return err
	}

	delete(l.subs, instrument)
	l.logger.Info("gateway unsubscribe ok",
		"instrument", instrument,
		"subscriber", subscriberID,
	)
	return nil
}

// Resubscribe re-issues a gateway subscribe for every tracked instrument,
// used after the gateway reconnects. Entries are kept whatever the outcome;
// the joined errors of failed instruments are returned.
func (l *Ledger) Resubscribe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, instrument := range sortedKeys(l.subs) {
		code := l.gw.SubscribeMarketData(ctx, instrument)
		if err := gateway.Check("subscribe", instrument, code); err != nil {
			l.logger.Warn("resubscribe failed", "instrument", instrument, "code", code)
			errs = append(errs, err)
			continue
		}
		l.logger.Info("resubscribed", "instrument", instrument)
	}
	return errors.Join(errs...)
}

// Subscribers returns the sorted subscriber ids for instrument.
func (l *Ledger) Subscribers(instrument string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.subs[instrument])
}

// IsSubscribed reports whether instrument has an active gateway subscription.
func (l *Ledger) IsSubscribed(instrument string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[instrument]
	return ok
}

// Instruments returns the sorted instruments with at least one subscriber.
func (l *Ledger) Instruments() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.subs)
}

// Snapshot returns instrument → subscriber count.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.subs))
	for instrument, set := range l.subs {
		out[instrument] = len(set)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
