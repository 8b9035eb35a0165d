package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/marketdata"
	"github.com/rickgao/ctpbridge/internal/model"
	"github.com/rickgao/ctpbridge/internal/order"
	"github.com/rickgao/ctpbridge/internal/subscription"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("session closed")

// Option configures a Session.
type Option func(*options)

type options struct {
	broker    *events.Broker
	sink      marketdata.Sink
	publisher order.Publisher
	orderCfg  order.Config
	logger    *slog.Logger
}

// WithBroker shares broker with the gateway binding (login waits).
func WithBroker(b *events.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithTickSink forwards every tick to sink.
func WithTickSink(sink marketdata.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithPublisher publishes settled order results.
func WithPublisher(p order.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithOrderConfig overrides the correlator config.
func WithOrderConfig(cfg order.Config) Option {
	return func(o *options) { o.orderCfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

var _ gateway.Handler = (*Session)(nil)

// Session is the synchronous facade over one gateway connection.
type Session struct {
	broker     *events.Broker
	ledger     *subscription.Ledger
	store      *marketdata.Store
	correlator *order.Correlator
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	fronts map[gateway.Front]bool // logged-in fronts
}

// New creates a session over md and td.
func New(md gateway.MarketData, td gateway.Trading, opts ...Option) *Session {
	o := options{orderCfg: order.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.broker == nil {
		o.broker = events.NewBroker()
	}

	storeOpts := []marketdata.Option{marketdata.WithLogger(o.logger)}
	if o.sink != nil {
		storeOpts = append(storeOpts, marketdata.WithSink(o.sink))
	}

	return &Session{
		broker:     o.broker,
		ledger:     subscription.NewLedger(md, o.logger),
		store:      marketdata.NewStore(o.broker, storeOpts...),
		correlator: order.NewCorrelator(o.orderCfg, o.broker, td, o.publisher, o.logger),
		logger:     o.logger.With("component", "session"),
		fronts:     make(map[gateway.Front]bool),
	}
}

// Broker returns the session's event broker.
func (s *Session) Broker() *events.Broker { return s.broker }

// Ledger returns the subscription ledger.
func (s *Session) Ledger() *subscription.Ledger { return s.ledger }

// Store returns the market data store.
func (s *Session) Store() *marketdata.Store { return s.store }

// Correlator returns the order correlator.
func (s *Session) Correlator() *order.Correlator { return s.correlator }

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Subscribe registers subscriberID for instrument's market data.
func (s *Session) Subscribe(ctx context.Context, instrument, subscriberID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.ledger.Subscribe(ctx, instrument, subscriberID)
}

// Unsubscribe drops subscriberID from instrument.
func (s *Session) Unsubscribe(ctx context.Context, instrument, subscriberID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.ledger.Unsubscribe(ctx, instrument, subscriberID)
}

// Resubscribe restores gateway subscriptions after a reconnect.
func (s *Session) Resubscribe(ctx context.Context) {
	if err := s.ledger.Resubscribe(ctx); err != nil {
		s.logger.Warn("resubscribe incomplete", "error", err, "code", gateway.Code(err))
	}
}

// WaitForData blocks until the next tick for instrument.
func (s *Session) WaitForData(ctx context.Context, instrument, subscriberID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return closedErr(s.store.WaitForData(ctx, instrument, subscriberID))
}

// Latest returns the most recent tick for instrument.
func (s *Session) Latest(instrument string) (model.Tick, bool) {
	return s.store.Latest(instrument)
}

// Ticks returns every tick received for instrument.
func (s *Session) Ticks(instrument string) []model.Tick {
	return s.store.Read(instrument)
}

// PlaceOrder submits req and blocks until it fills, is canceled, or ctx ends.
func (s *Session) PlaceOrder(ctx context.Context, req model.OrderRequest) (order.FillResult, error) {
	if s.isClosed() {
		return order.FillResult{}, ErrClosed
	}
	res, err := s.correlator.PlaceOrder(ctx, req)
	return res, closedErr(err)
}

// LoggedIn reports whether front has a successful login.
func (s *Session) LoggedIn(front gateway.Front) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fronts[front]
}

// Close wakes every blocked caller with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.broker.Close()
	s.logger.Info("session closed")
}

func closedErr(err error) error {
	if errors.Is(err, events.ErrClosed) {
		return errors.Join(ErrClosed, err)
	}
	return err
}

// -----------------------------------------------------------------------------
// gateway.Handler
// -----------------------------------------------------------------------------

// OnTick stores the tick and wakes its waiters.
func (s *Session) OnTick(tick model.Tick) {
	s.store.Append(tick)
}

// OnFill records the fill and wakes its order's waiter.
func (s *Session) OnFill(fill model.Fill) {
	s.correlator.RecordFill(fill)
}

// OnOrderStatus applies an order status report.
func (s *Session) OnOrderStatus(update model.OrderUpdate) {
	s.correlator.RecordStatus(update)
}

// OnLogin tracks front login state. A trading login moves order refs past
// the highest ref the front has already seen.
func (s *Session) OnLogin(front gateway.Front, login gateway.Login, err error) {
	s.mu.Lock()
	s.fronts[front] = err == nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("front login failed", "front", front, "error", err)
		return
	}
	s.logger.Info("front logged in", "front", front, "trading_day", login.TradingDay)

	if front == gateway.FrontTrading && login.MaxOrderRef != "" {
		if err := s.correlator.AdvanceRef(login.MaxOrderRef); err != nil {
			s.logger.Warn("ignoring max order ref", "error", err)
		}
	}
}

// OnDisconnected marks front as logged out.
func (s *Session) OnDisconnected(front gateway.Front, reason error) {
	s.mu.Lock()
	s.fronts[front] = false
	s.mu.Unlock()

	s.logger.Warn("front disconnected", "front", front, "reason", reason)
}

// Stats summarizes the session for the debug endpoint.
type Stats struct {
	Subscriptions map[string]int   `json:"subscriptions"`
	MarketData    marketdata.Stats `json:"market_data"`
	Orders        order.Stats      `json:"orders"`
	PendingEvents []string         `json:"pending_events"`
}

// Stats returns a snapshot of every component.
func (s *Session) Stats() Stats {
	return Stats{
		Subscriptions: s.ledger.Snapshot(),
		MarketData:    s.store.Stats(),
		Orders:        s.correlator.Stats(),
		PendingEvents: s.broker.Keys(),
	}
}
