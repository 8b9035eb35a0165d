package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/model"
)

// Stats describes the bridge connection.
type Stats struct {
	Connected  bool   `json:"connected"`
	TradingDay string `json:"trading_day"`
	Ticks      int64  `json:"ticks"`
	Fills      int64  `json:"fills"`
	Commands   int64  `json:"commands"`
	Reconnects int64  `json:"reconnects"`
}

type loginState struct {
	seq        uint64
	tradingDay string
	err        error
}

var (
	_ gateway.MarketData = (*Bridge)(nil)
	_ gateway.Trading    = (*Bridge)(nil)
)

// Bridge is a gateway implementation backed by the sidecar.
type Bridge struct {
	cfg    Config
	broker *events.Broker
	logger *slog.Logger

	handlerMu sync.RWMutex
	handler   gateway.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	clientMu sync.RWMutex
	client   Client

	pendingMu sync.Mutex
	pending   map[int64]chan Envelope
	cmdID     atomic.Int64

	loginMu sync.Mutex
	logins  map[gateway.Front]loginState

	reconnecting atomic.Bool

	ticks      atomic.Int64
	fills      atomic.Int64
	commands   atomic.Int64
	reconnects atomic.Int64
}

// New creates a bridge. Login waits are signaled through broker.
func New(cfg Config, broker *events.Broker, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}

	return &Bridge{
		cfg:     cfg,
		broker:  broker,
		logger:  logger.With("component", "bridge"),
		handler: gateway.HandlerFuncs{},
		pending: make(map[int64]chan Envelope),
		logins:  make(map[gateway.Front]loginState),
	}
}

// SetHandler sets the receiver of pushed events. Call before Start.
func (b *Bridge) SetHandler(h gateway.Handler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handler = h
}

func (b *Bridge) h() gateway.Handler {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	return b.handler
}

// Start connects to the sidecar and logs in every configured front.
// It returns once all logins are confirmed.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.connect(); err != nil {
		return err
	}
	if err := b.loginAll(ctx); err != nil {
		return err
	}

	b.logger.Info("bridge started", "url", b.cfg.Client.URL, "trading_day", b.TradingDay())
	return nil
}

// Stop closes the connection and waits for background goroutines.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("stopping bridge")
	if b.cancel != nil {
		b.cancel()
	}

	b.clientMu.Lock()
	if b.client != nil {
		b.client.Close()
	}
	b.clientMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}
	b.logger.Info("bridge stopped")
	return nil
}

func (b *Bridge) connect() error {
	client := NewClient(b.cfg.Client, b.logger)
	if err := client.Connect(b.ctx); err != nil {
		return fmt.Errorf("connect sidecar: %w", err)
	}

	b.clientMu.Lock()
	b.client = client
	b.clientMu.Unlock()

	b.wg.Add(1)
	go b.readLoop(client)
	return nil
}

func (b *Bridge) currentClient() Client {
	b.clientMu.RLock()
	defer b.clientMu.RUnlock()
	return b.client
}

func (b *Bridge) loginAll(ctx context.Context) error {
	if b.cfg.MarketData.Address != "" {
		if err := b.Login(ctx, gateway.FrontMarketData, b.cfg.MarketData); err != nil {
			return err
		}
	}
	if b.cfg.Trading.Address != "" {
		if err := b.Login(ctx, gateway.FrontTrading, b.cfg.Trading); err != nil {
			return err
		}
	}
	return nil
}

// Login logs one front in and blocks until its login event arrives or
// LoginTimeout passes.
func (b *Bridge) Login(ctx context.Context, front gateway.Front, params LoginParams) error {
	params.Front = string(front)
	since := b.loginSeq(front)

	reg := b.broker.Register(events.LoginEvent, uuid.NewString())

	st, err := b.command(ctx, CmdLogin, params)
	if err == nil {
		err = gateway.Check("login", "", st.Code)
	}
	if err != nil {
		reg.Cancel()
		return fmt.Errorf("login %s: %w", front, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.LoginTimeout)
	defer cancel()

	// The login event is shared by both fronts; keep waiting until this
	// front's result shows up.
	for {
		if err := reg.Wait(waitCtx); err != nil {
			return fmt.Errorf("wait for %s login: %w", front, err)
		}
		if res, ok := b.loginResult(front, since); ok {
			return res.err
		}
		reg = b.broker.Register(events.LoginEvent, uuid.NewString())
		if res, ok := b.loginResult(front, since); ok {
			reg.Cancel()
			return res.err
		}
	}
}

func (b *Bridge) loginSeq(front gateway.Front) uint64 {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	return b.logins[front].seq
}

func (b *Bridge) loginResult(front gateway.Front, since uint64) (loginState, bool) {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	st := b.logins[front]
	return st, st.seq > since
}

// TradingDay returns the trading day reported by the last successful login.
func (b *Bridge) TradingDay() string {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	for _, f := range []gateway.Front{gateway.FrontTrading, gateway.FrontMarketData} {
		if st := b.logins[f]; st.err == nil && st.tradingDay != "" {
			return st.tradingDay
		}
	}
	return ""
}

// SubscribeMarketData implements gateway.MarketData.
func (b *Bridge) SubscribeMarketData(ctx context.Context, instrument string) int {
	return b.status(ctx, CmdSubscribe, SubscribeParams{Instruments: []string{instrument}}, "instrument", instrument)
}

// UnsubscribeMarketData implements gateway.MarketData.
func (b *Bridge) UnsubscribeMarketData(ctx context.Context, instrument string) int {
	return b.status(ctx, CmdUnsubscribe, SubscribeParams{Instruments: []string{instrument}}, "instrument", instrument)
}

// SubmitOrder implements gateway.Trading.
func (b *Bridge) SubmitOrder(ctx context.Context, req model.OrderRequest, orderRef string) int {
	return b.status(ctx, CmdInsertOrder, InsertOrderParams{OrderRef: orderRef, OrderRequest: req}, "order_ref", orderRef)
}

// status runs a command and reduces the outcome to a gateway status code.
// Failures before the command was sent report StatusNetwork; a command sent
// without an answer reports StatusUnconfirmed.
func (b *Bridge) status(ctx context.Context, cmd string, params any, logArgs ...any) int {
	st, err := b.command(ctx, cmd, params)
	if errors.Is(err, ErrOutcomeUnknown) {
		b.logger.Warn("command unanswered", append([]any{"cmd", cmd, "error", err}, logArgs...)...)
		return gateway.StatusUnconfirmed
	}
	if err != nil {
		b.logger.Warn("command failed", append([]any{"cmd", cmd, "error", err}, logArgs...)...)
		return gateway.StatusNetwork
	}
	if st.Code != gateway.StatusOK {
		b.logger.Debug("command rejected", append([]any{"cmd", cmd, "code", st.Code, "message", st.Message}, logArgs...)...)
	}
	return st.Code
}

// command sends cmd and waits for the response with the same id. Once the
// command is sent, a missing response yields an error wrapping
// ErrOutcomeUnknown.
func (b *Bridge) command(ctx context.Context, cmd string, params any) (StatusMsg, error) {
	client := b.currentClient()
	if client == nil || !client.IsConnected() {
		return StatusMsg{}, ErrNotConnected
	}

	id := b.cmdID.Add(1)
	respCh := make(chan Envelope, 1)

	b.pendingMu.Lock()
	b.pending[id] = respCh
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return StatusMsg{}, fmt.Errorf("marshal %s: %w", cmd, err)
	}
	if err := client.Send(data); err != nil {
		return StatusMsg{}, fmt.Errorf("send %s: %w", cmd, err)
	}
	b.commands.Add(1)

	timer := time.NewTimer(b.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StatusMsg{}, fmt.Errorf("%s: %w: %w", cmd, ErrOutcomeUnknown, ctx.Err())
	case <-b.ctx.Done():
		return StatusMsg{}, fmt.Errorf("%s: %w: %w", cmd, ErrOutcomeUnknown, ErrAlreadyClosed)
	case <-timer.C:
		return StatusMsg{}, fmt.Errorf("%s: %w: %w", cmd, ErrOutcomeUnknown, ErrTimeout)
	case resp := <-respCh:
		var st StatusMsg
		if len(resp.Msg) > 0 {
			if err := json.Unmarshal(resp.Msg, &st); err != nil {
				return StatusMsg{}, fmt.Errorf("decode %s response: %w", cmd, err)
			}
		}
		if resp.Type == TypeError && st.Code == gateway.StatusOK {
			st.Code = gateway.StatusNetwork
		}
		return st, nil
	}
}

func (b *Bridge) routeResponse(resp Envelope) {
	b.pendingMu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.pendingMu.Unlock()

	if !ok {
		b.logger.Debug("response for unknown command", "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// readLoop consumes one client until it fails, then hands over to reconnect.
func (b *Bridge) readLoop(client Client) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case <-client.Done():
			return

		case err := <-client.Errors():
			b.logger.Warn("connection error", "error", err)
			h := b.h()
			h.OnDisconnected(gateway.FrontMarketData, err)
			h.OnDisconnected(gateway.FrontTrading, err)
			if b.reconnecting.CompareAndSwap(false, true) {
				b.wg.Add(1)
				go b.reconnect()
			}
			return

		case msg := <-client.Messages():
			b.handleMessage(msg)
		}
	}
}

func (b *Bridge) handleMessage(msg TimestampedMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("malformed message", "error", err)
		return
	}

	if env.ID != 0 && (env.Type == TypeOK || env.Type == TypeError) {
		b.routeResponse(env)
		return
	}

	h := b.h()
	front := gateway.Front(env.Front)

	switch env.Type {
	case TypeTick:
		var tick model.Tick
		if !b.decode(env, &tick) {
			return
		}
		if tick.Source == "" {
			tick.Source = "md"
		}
		if tick.ReceivedAt == 0 {
			tick.ReceivedAt = msg.ReceivedAt.UnixMicro()
		}
		b.ticks.Add(1)
		h.OnTick(tick)

	case TypeFill:
		var fill model.Fill
		if !b.decode(env, &fill) {
			return
		}
		b.fills.Add(1)
		h.OnFill(fill)

	case TypeOrderStatus:
		var update model.OrderUpdate
		if !b.decode(env, &update) {
			return
		}
		h.OnOrderStatus(update)

	case TypeLogin:
		var lm LoginMsg
		if !b.decode(env, &lm) {
			return
		}
		b.handleLogin(front, lm)

	case TypeDisconnected:
		var dm DisconnectedMsg
		if !b.decode(env, &dm) {
			return
		}
		b.logger.Warn("front disconnected", "front", front, "reason", dm.Reason, "message", dm.Message)
		h.OnDisconnected(front, fmt.Errorf("front %s disconnected: reason %d", front, dm.Reason))

	default:
		b.logger.Debug("unhandled message", "type", env.Type)
	}
}

func (b *Bridge) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Msg, v); err != nil {
		b.logger.Warn("malformed event", "type", env.Type, "error", err)
		return false
	}
	return true
}

func (b *Bridge) handleLogin(front gateway.Front, lm LoginMsg) {
	var err error
	if lm.ErrorID != 0 {
		err = fmt.Errorf("%w: %s error %d: %s", ErrLoginFailed, front, lm.ErrorID, lm.ErrorMsg)
		b.logger.Error("login rejected", "front", front, "error_id", lm.ErrorID, "error_msg", lm.ErrorMsg)
	} else {
		b.logger.Info("logged in", "front", front, "trading_day", lm.TradingDay, "max_order_ref", lm.MaxOrderRef)
	}

	b.loginMu.Lock()
	prev := b.logins[front]
	b.logins[front] = loginState{seq: prev.seq + 1, tradingDay: lm.TradingDay, err: err}
	b.loginMu.Unlock()

	b.h().OnLogin(front, gateway.Login{TradingDay: lm.TradingDay, MaxOrderRef: lm.MaxOrderRef}, err)
	b.broker.NotifyOnce(events.LoginEvent)
}

// reconnect replaces the client with exponential backoff. At most one runs
// at a time.
func (b *Bridge) reconnect() {
	defer b.wg.Done()

	wait := b.cfg.ReconnectBaseWait
	for {
		select {
		case <-b.ctx.Done():
			b.reconnecting.Store(false)
			return
		case <-time.After(wait):
		}

		b.logger.Info("attempting reconnection")
		if old := b.currentClient(); old != nil {
			old.Close()
		}

		err := b.connect()
		if err == nil {
			if err = b.loginAll(b.ctx); err != nil {
				b.currentClient().Close()
			}
		}
		if err != nil {
			b.logger.Warn("reconnection failed", "error", err, "next_wait", wait)
			wait *= 2
			if wait > b.cfg.ReconnectMaxWait {
				wait = b.cfg.ReconnectMaxWait
			}
			continue
		}

		b.reconnects.Add(1)
		b.logger.Info("reconnected")
		if b.cfg.OnReconnect != nil {
			b.cfg.OnReconnect(b.ctx)
		}

		// A failure seen by readLoop while this loop still held the flag
		// was not acted on. If readLoop takes the flag first, its loop
		// owns the retry.
		b.reconnecting.Store(false)
		if b.currentClient().IsConnected() || !b.reconnecting.CompareAndSwap(false, true) {
			return
		}
		b.logger.Warn("connection lost during reconnection")
		wait = b.cfg.ReconnectBaseWait
	}
}

// Stats returns connection counters.
func (b *Bridge) Stats() Stats {
	client := b.currentClient()
	return Stats{
		Connected:  client != nil && client.IsConnected(),
		TradingDay: b.TradingDay(),
		Ticks:      b.ticks.Load(),
		Fills:      b.fills.Load(),
		Commands:   b.commands.Load(),
		Reconnects: b.reconnects.Load(),
	}
}
