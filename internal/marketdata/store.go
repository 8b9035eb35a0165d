package marketdata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/model"
)

// Sink receives a copy of every appended tick. Enqueue must not block.
type Sink interface {
	Enqueue(tick model.Tick) bool
}

// Option configures a Store.
type Option func(*Store)

// WithSink forwards appended ticks to sink.
func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is an append-only, per-instrument tick buffer.
type Store struct {
	broker *events.Broker
	sink   Sink
	logger *slog.Logger

	mu    sync.RWMutex
	ticks map[string][]model.Tick

	dropped int64 // ticks the sink refused; guarded by mu
}

// NewStore creates a store that notifies broker on every append.
func NewStore(broker *events.Broker, opts ...Option) *Store {
	s := &Store{
		broker: broker,
		ticks:  make(map[string][]model.Tick),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "marketdata_store")
	return s
}

// Append records tick and wakes every waiter on its instrument.
// The store lock is released before notifying.
func (s *Store) Append(tick model.Tick) {
	s.mu.Lock()
	s.ticks[tick.Instrument] = append(s.ticks[tick.Instrument], tick)
	s.mu.Unlock()

	s.broker.Notify(tick.Instrument)

	if s.sink != nil && !s.sink.Enqueue(tick) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Debug("tick sink refused tick", "instrument", tick.Instrument)
	}
}

// Read returns a copy of every tick recorded for instrument, oldest first.
func (s *Store) Read(instrument string) []model.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.ticks[instrument]
	if len(src) == 0 {
		return nil
	}
	out := make([]model.Tick, len(src))
	copy(out, src)
	return out
}

// Latest returns the most recent tick for instrument.
func (s *Store) Latest(instrument string) (model.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.ticks[instrument]
	if len(src) == 0 {
		return model.Tick{}, false
	}
	return src[len(src)-1], true
}

// Len returns the number of ticks recorded for instrument.
func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks[instrument])
}

// WaitForData blocks until the next tick for instrument is appended, or ctx
// is done. Any tick for the instrument wakes every waiting subscriber.
func (s *Store) WaitForData(ctx context.Context, instrument, subscriberID string) error {
	return s.broker.Wait(ctx, instrument, subscriberID)
}

// Stats summarizes the store.
type Stats struct {
	Instruments int   `json:"instruments"`
	Ticks       int   `json:"ticks"`
	SinkDropped int64 `json:"sink_dropped"`
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Instruments: len(s.ticks), SinkDropped: s.dropped}
	for _, ticks := range s.ticks {
		st.Ticks += len(ticks)
	}
	return st
}
