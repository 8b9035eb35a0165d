package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/model"
)

// ErrWaitTimeout is returned when the context ends before any fill or
// terminal status arrives.
var ErrWaitTimeout = errors.New("timed out waiting for fill")

// Publisher receives settled results. Publish errors are logged only.
type Publisher interface {
	Publish(ctx context.Context, result FillResult) error
}

// Config holds correlator settings.
type Config struct {
	RefStart       uint64        // First ref issued is RefStart+1
	PublishTimeout time.Duration // Bound on a single Publish call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PublishTimeout: 5 * time.Second,
	}
}

// Correlator places orders and blocks callers until their fills arrive.
type Correlator struct {
	cfg       Config
	broker    *events.Broker
	gw        gateway.Trading
	seq       *Sequencer
	publisher Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	orders map[string]*Order // keyed by Key(contract, ref)
}

// NewCorrelator creates a correlator. publisher may be nil.
func NewCorrelator(cfg Config, broker *events.Broker, gw gateway.Trading, publisher Publisher, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Correlator{
		cfg:       cfg,
		broker:    broker,
		gw:        gw,
		seq:       NewSequencer(cfg.RefStart),
		publisher: publisher,
		logger:    logger.With("component", "order_correlator"),
		orders:    make(map[string]*Order),
	}
}

// PlaceOrder submits req and blocks until the first fill or terminal status
// for it arrives, or ctx ends.
//
// A non-zero submit status returns a *gateway.StatusError at once with a
// rejected, unfilled result. gateway.StatusUnconfirmed is the exception: the
// order may be live, so PlaceOrder keeps waiting for its fills. When ctx ends
// first the error wraps ErrWaitTimeout and the result holds whatever fills
// arrived so far.
func (c *Correlator) PlaceOrder(ctx context.Context, req model.OrderRequest) (FillResult, error) {
	if err := req.Validate(); err != nil {
		return FillResult{}, fmt.Errorf("invalid order: %w", err)
	}

	ref := FormatRef(c.seq.Next())
	key := Key(req.Contract, ref)
	c.mu.Lock()
	c.orders[key] = &Order{
		Ref:         ref,
		Request:     req,
		Status:      model.StatusSubmitted,
		SubmittedAt: time.Now(),
	}
	c.mu.Unlock()

	// Register before submitting so an immediate fill cannot be missed.
	reg := c.broker.Register(key, ref)

	code := c.gw.SubmitOrder(ctx, req, ref)
	if code == gateway.StatusUnconfirmed {
		c.logger.Warn("order submit unconfirmed, waiting for reports",
			"order_ref", ref,
			"contract", req.Contract,
		)
	} else if err := gateway.Check("submit", req.Contract, code); err != nil {
		reg.Cancel()
		c.RecordStatus(model.OrderUpdate{OrderRef: ref, Contract: req.Contract, Status: model.StatusRejected})
		c.logger.Warn("order rejected by gateway",
			"order_ref", ref,
			"contract", req.Contract,
			"code", code,
		)
		res, _ := c.result(key)
		return res, err
	}

	c.logger.Debug("order submitted",
		"order_ref", ref,
		"contract", req.Contract,
		"direction", req.Direction,
		"price", req.Price,
		"volume", req.Volume,
	)

	waitErr := reg.Wait(ctx)
	res, _ := c.result(key)

	if waitErr != nil {
		c.logger.Warn("order wait ended without fill",
			"order_ref", ref,
			"contract", req.Contract,
			"error", waitErr,
		)
		return res, fmt.Errorf("order %s: %w: %w", ref, ErrWaitTimeout, waitErr)
	}

	c.logger.Info("order settled",
		"order_ref", ref,
		"contract", req.Contract,
		"status", res.Status,
		"volume", res.Volume,
		"avg_price", res.AvgPrice,
	)
	c.publish(ctx, res)
	return res, nil
}

// AdvanceRef moves the ref sequence past maxRef, the highest ref the trading
// front reports for this session. Refs already issued are unaffected.
func (c *Correlator) AdvanceRef(maxRef string) error {
	n, err := strconv.ParseUint(strings.TrimSpace(maxRef), 10, 64)
	if err != nil {
		return fmt.Errorf("parse max order ref %q: %w", maxRef, err)
	}
	c.seq.Advance(n)
	c.logger.Debug("order ref advanced", "max_order_ref", n, "current", c.seq.Current())
	return nil
}

// RecordFill stores fill and wakes the waiter of its order. Fills for orders
// this correlator never issued are kept under a placeholder order.
func (c *Correlator) RecordFill(fill model.Fill) {
	key := Key(fill.Contract, fill.OrderRef)

	c.mu.Lock()
	o, ok := c.orders[key]
	if !ok {
		o = &Order{
			Ref:     fill.OrderRef,
			Request: model.OrderRequest{Contract: fill.Contract, Direction: fill.Direction},
		}
		c.orders[key] = o
	}
	err := o.applyFill(fill)
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("fill for unknown order", "order_ref", fill.OrderRef, "contract", fill.Contract)
	}
	if err != nil {
		c.logger.Warn("fill not applied", "order_ref", fill.OrderRef, "error", err)
		return
	}

	c.broker.Notify(key)
}

// RecordStatus applies an order status update. Canceled and rejected
// orders wake their waiter, which then returns a no-fill result unless fills
// arrived earlier.
func (c *Correlator) RecordStatus(update model.OrderUpdate) {
	key := Key(update.Contract, update.OrderRef)

	c.mu.Lock()
	o, ok := c.orders[key]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("status for unknown order", "order_ref", update.OrderRef, "status", update.Status)
		return
	}
	err := o.applyStatus(update.Status)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("status ignored", "order_ref", update.OrderRef, "status", update.Status, "error", err)
		return
	}
	if update.Message != "" {
		c.logger.Info("order status", "order_ref", update.OrderRef, "status", update.Status, "message", update.Message)
	}

	if update.Status == model.StatusCanceled || update.Status == model.StatusRejected {
		c.broker.Notify(key)
	}
}

// Order returns a snapshot of the order.
func (c *Correlator) Order(contract, orderRef string) (Order, bool) {
	return c.orderByKey(Key(contract, orderRef))
}

func (c *Correlator) orderByKey(key string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[key]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// Fills returns a copy of every fill recorded for the order.
func (c *Correlator) Fills(contract, orderRef string) []model.Fill {
	o, ok := c.Order(contract, orderRef)
	if !ok {
		return nil
	}
	return o.Fills
}

// Forget drops a terminal order. Open orders are kept.
func (c *Correlator) Forget(contract, orderRef string) error {
	key := Key(contract, orderRef)

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[key]
	if !ok {
		return ErrUnknownOrder
	}
	if !o.Status.IsTerminal() {
		return fmt.Errorf("forget order %s in status %q: %w", orderRef, o.Status, ErrInvalidTransition)
	}
	delete(c.orders, key)
	return nil
}

// Stats summarizes tracked orders.
type Stats struct {
	Orders  int    `json:"orders"`
	Open    int    `json:"open"`
	LastRef string `json:"last_ref"`
}

// Stats returns current counters.
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Orders: len(c.orders), LastRef: FormatRef(c.seq.Current())}
	for _, o := range c.orders {
		if !o.Status.IsTerminal() {
			st.Open++
		}
	}
	return st
}

func (c *Correlator) result(key string) (FillResult, bool) {
	o, ok := c.orderByKey(key)
	if !ok {
		return FillResult{}, false
	}
	return newFillResult(o), true
}

func (c *Correlator) publish(ctx context.Context, res FillResult) {
	if c.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PublishTimeout)
	defer cancel()

	if err := c.publisher.Publish(pubCtx, res); err != nil {
		c.logger.Error("publish fill result failed", "order_ref", res.OrderRef, "error", err)
	}
}
