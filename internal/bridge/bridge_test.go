package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ctpbridge/internal/events"
	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/model"
	"github.com/rickgao/ctpbridge/internal/order"
	"github.com/rickgao/ctpbridge/internal/session"
)

// fakeSidecar answers commands the way the gateway sidecar does.
type fakeSidecar struct {
	mu         sync.Mutex
	subStatus  map[string]int
	loginError map[string]int
	silentCmds map[string]bool
	ackDelay   map[string]time.Duration // answer late, after the bridge gave up
	maxRef     string
	commands   []Command
	conns      []*websocket.Conn
}

func newFakeSidecar() *fakeSidecar {
	return &fakeSidecar{
		subStatus:  make(map[string]int),
		loginError: make(map[string]int),
		silentCmds: make(map[string]bool),
		ackDelay:   make(map[string]time.Duration),
	}
}

// count returns how many cmd commands arrived over every connection.
func (s *fakeSidecar) count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c.Cmd == cmd {
			n++
		}
	}
	return n
}

// dropAll closes every open connection from the sidecar side.
func (s *fakeSidecar) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *fakeSidecar) serve(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var raw struct {
			ID     int64           `json:"id"`
			Cmd    string          `json:"cmd"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return
		}

		s.mu.Lock()
		s.commands = append(s.commands, Command{ID: raw.ID, Cmd: raw.Cmd})
		silent := s.silentCmds[raw.Cmd]
		delay := s.ackDelay[raw.Cmd]
		maxRef := s.maxRef
		s.mu.Unlock()
		if silent {
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		switch raw.Cmd {
		case CmdLogin:
			var p LoginParams
			json.Unmarshal(raw.Params, &p)
			s.reply(conn, raw.ID, 0)

			s.mu.Lock()
			code := s.loginError[p.Front]
			s.mu.Unlock()
			lm := LoginMsg{TradingDay: "20261019", MaxOrderRef: maxRef}
			if code != 0 {
				lm = LoginMsg{ErrorID: code, ErrorMsg: "invalid password"}
			}
			s.push(conn, TypeLogin, p.Front, lm)

		case CmdSubscribe:
			var p SubscribeParams
			json.Unmarshal(raw.Params, &p)
			s.mu.Lock()
			code := s.subStatus[p.Instruments[0]]
			s.mu.Unlock()
			s.reply(conn, raw.ID, code)
			if code == 0 {
				s.push(conn, TypeTick, "md", model.Tick{
					Instrument: p.Instruments[0],
					LastPrice:  decimal.RequireFromString("3520"),
				})
			}

		case CmdInsertOrder:
			var p InsertOrderParams
			json.Unmarshal(raw.Params, &p)
			s.reply(conn, raw.ID, 0)
			s.push(conn, TypeOrderStatus, "td", model.OrderUpdate{
				OrderRef: p.OrderRef, Contract: p.Contract, Status: model.StatusSubmitted,
			})
			s.push(conn, TypeFill, "td", model.Fill{
				OrderRef: p.OrderRef, Contract: p.Contract, Price: p.Price, Volume: p.Volume,
			})

		default:
			s.reply(conn, raw.ID, 0)
		}
	}
}

func (s *fakeSidecar) reply(conn *websocket.Conn, id int64, code int) {
	typ := TypeOK
	if code != 0 {
		typ = TypeError
	}
	msg, _ := json.Marshal(StatusMsg{Code: code})
	conn.WriteJSON(Envelope{ID: id, Type: typ, Msg: msg})
}

func (s *fakeSidecar) push(conn *websocket.Conn, typ, front string, body any) {
	msg, _ := json.Marshal(body)
	conn.WriteJSON(Envelope{Type: typ, Front: front, Msg: msg})
}

type recorder struct {
	ticks   chan model.Tick
	fills   chan model.Fill
	updates chan model.OrderUpdate
	logins  chan gateway.Front
	refs    chan string
}

func newRecorder() *recorder {
	return &recorder{
		ticks:   make(chan model.Tick, 10),
		fills:   make(chan model.Fill, 10),
		updates: make(chan model.OrderUpdate, 10),
		logins:  make(chan gateway.Front, 10),
		refs:    make(chan string, 10),
	}
}

func (r *recorder) handler() gateway.Handler {
	return gateway.HandlerFuncs{
		Tick:        func(t model.Tick) { r.ticks <- t },
		Fill:        func(f model.Fill) { r.fills <- f },
		OrderStatus: func(u model.OrderUpdate) { r.updates <- u },
		Login: func(f gateway.Front, l gateway.Login, _ error) {
			r.logins <- f
			r.refs <- l.MaxOrderRef
		},
	}
}

func testBridgeConfig(t *testing.T, sidecar *fakeSidecar) Config {
	t.Helper()
	server := mockWSServer(t, nil, sidecar.serve)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.Client = testClientConfig(wsURL(server))
	cfg.MarketData = LoginParams{Address: "tcp://180.168.146.187:10211", BrokerID: "9999", UserID: "u1"}
	cfg.Trading = LoginParams{Address: "tcp://180.168.146.187:10201", BrokerID: "9999", UserID: "u1", AppID: "simnow_client_test"}
	cfg.CommandTimeout = 200 * time.Millisecond
	cfg.LoginTimeout = time.Second
	return cfg
}

func stopOnCleanup(t *testing.T, b *Bridge) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	})
}

func startBridge(t *testing.T, sidecar *fakeSidecar, rec *recorder) (*Bridge, error) {
	t.Helper()
	b := New(testBridgeConfig(t, sidecar), events.NewBroker(), nil)
	b.SetHandler(rec.handler())
	stopOnCleanup(t, b)

	return b, b.Start(context.Background())
}

func TestBridge_StartLogsInBothFronts(t *testing.T) {
	rec := newRecorder()
	b, err := startBridge(t, newFakeSidecar(), rec)
	require.NoError(t, err)

	assert.Equal(t, gateway.FrontMarketData, <-rec.logins)
	assert.Equal(t, gateway.FrontTrading, <-rec.logins)
	assert.Equal(t, "20261019", b.TradingDay())
	assert.True(t, b.Stats().Connected)
}

func TestBridge_LoginCarriesMaxOrderRef(t *testing.T) {
	rec := newRecorder()
	sidecar := newFakeSidecar()
	sidecar.maxRef = "000000000317"
	_, err := startBridge(t, sidecar, rec)
	require.NoError(t, err)

	assert.Equal(t, "000000000317", <-rec.refs)
	assert.Equal(t, "000000000317", <-rec.refs)
}

func TestBridge_LoginRejected(t *testing.T) {
	sidecar := newFakeSidecar()
	sidecar.loginError["td"] = 3
	_, err := startBridge(t, sidecar, newRecorder())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
}

func TestBridge_SubscribeDispatchesTicks(t *testing.T) {
	rec := newRecorder()
	sidecar := newFakeSidecar()
	sidecar.subStatus["Y"] = 3
	b, err := startBridge(t, sidecar, rec)
	require.NoError(t, err)

	assert.Equal(t, gateway.StatusOK, b.SubscribeMarketData(context.Background(), "rb2510"))

	select {
	case tick := <-rec.ticks:
		assert.Equal(t, "rb2510", tick.Instrument)
		assert.Equal(t, "md", tick.Source)
		assert.NotZero(t, tick.ReceivedAt)
	case <-time.After(time.Second):
		t.Fatal("tick not dispatched")
	}

	assert.Equal(t, 3, b.SubscribeMarketData(context.Background(), "Y"))
	assert.Equal(t, gateway.StatusOK, b.UnsubscribeMarketData(context.Background(), "rb2510"))
}

func TestBridge_SubmitOrderDispatchesFill(t *testing.T) {
	rec := newRecorder()
	b, err := startBridge(t, newFakeSidecar(), rec)
	require.NoError(t, err)

	req := model.OrderRequest{
		Contract:  "rb2510",
		Direction: model.Buy,
		Offset:    model.Open,
		Price:     decimal.RequireFromString("3520"),
		Volume:    2,
	}
	require.Equal(t, gateway.StatusOK, b.SubmitOrder(context.Background(), req, "000000000001"))

	update := <-rec.updates
	assert.Equal(t, model.StatusSubmitted, update.Status)

	select {
	case fill := <-rec.fills:
		assert.Equal(t, "000000000001", fill.OrderRef)
		assert.Equal(t, int64(2), fill.Volume)
		assert.True(t, fill.Price.Equal(req.Price))
	case <-time.After(time.Second):
		t.Fatal("fill not dispatched")
	}
	assert.Equal(t, int64(1), b.Stats().Fills)
}

func TestBridge_UnansweredCommandIsUnconfirmed(t *testing.T) {
	sidecar := newFakeSidecar()
	sidecar.silentCmds[CmdUnsubscribe] = true
	b, err := startBridge(t, sidecar, newRecorder())
	require.NoError(t, err)

	assert.Equal(t, gateway.StatusUnconfirmed, b.UnsubscribeMarketData(context.Background(), "rb2510"))

	_, err = b.command(context.Background(), CmdUnsubscribe, SubscribeParams{Instruments: []string{"rb2510"}})
	assert.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBridge_LateAckStillSettlesOrder(t *testing.T) {
	sidecar := newFakeSidecar()
	sidecar.ackDelay[CmdInsertOrder] = 400 * time.Millisecond

	broker := events.NewBroker()
	b := New(testBridgeConfig(t, sidecar), broker, nil)
	stopOnCleanup(t, b)

	c := order.NewCorrelator(order.DefaultConfig(), broker, b, nil, nil)
	b.SetHandler(gateway.HandlerFuncs{Fill: c.RecordFill, OrderStatus: c.RecordStatus})
	require.NoError(t, b.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The insert is answered after CommandTimeout; the fill follows the ack.
	res, err := c.PlaceOrder(ctx, model.OrderRequest{
		Contract:  "rb2510",
		Direction: model.Buy,
		Offset:    model.Open,
		Price:     decimal.RequireFromString("3520"),
		Volume:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, res.Status)
	assert.Equal(t, int64(1), res.Volume)
	assert.Equal(t, 1, sidecar.count(CmdInsertOrder), "an unanswered order is not resent")
}

func TestBridge_ReconnectLogsInAndResubscribes(t *testing.T) {
	sidecar := newFakeSidecar()
	cfg := testBridgeConfig(t, sidecar)
	cfg.ReconnectBaseWait = 20 * time.Millisecond
	cfg.ReconnectMaxWait = 100 * time.Millisecond

	broker := events.NewBroker()
	reconnected := make(chan struct{}, 1)
	var sess *session.Session
	cfg.OnReconnect = func(ctx context.Context) {
		sess.Resubscribe(ctx)
		reconnected <- struct{}{}
	}

	b := New(cfg, broker, nil)
	sess = session.New(b, b, session.WithBroker(broker))
	b.SetHandler(sess)
	t.Cleanup(sess.Close)
	stopOnCleanup(t, b)

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.NoError(t, sess.Subscribe(ctx, "rb2510", "strategy-a"))
	require.Equal(t, 2, sidecar.count(CmdLogin))
	require.Equal(t, 1, sidecar.count(CmdSubscribe))

	sidecar.dropAll()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not reconnect")
	}

	assert.Equal(t, 4, sidecar.count(CmdLogin), "both fronts log in again")
	assert.Equal(t, 2, sidecar.count(CmdSubscribe), "ledger instruments are subscribed again")
	assert.True(t, sess.LoggedIn(gateway.FrontMarketData))
	assert.True(t, sess.LoggedIn(gateway.FrontTrading))

	st := b.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, int64(1), st.Reconnects)

	// The new connection carries ticks to waiters as before.
	go func() {
		assert.Eventually(t, func() bool { return broker.Pending("rb2510") == 1 }, time.Second, time.Millisecond)
		b.SubscribeMarketData(ctx, "rb2510")
	}()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitForData(waitCtx, "rb2510", "strategy-a"))
}

// stubClient is a Client whose failure is injected by the test.
type stubClient struct {
	messages chan TimestampedMessage
	errs     chan error
	done     chan struct{}
}

func newStubClient() *stubClient {
	return &stubClient{
		messages: make(chan TimestampedMessage),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *stubClient) Connect(context.Context) error       { return nil }
func (c *stubClient) Close() error                        { return nil }
func (c *stubClient) Send([]byte) error                   { return nil }
func (c *stubClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *stubClient) Errors() <-chan error                { return c.errs }
func (c *stubClient) Done() <-chan struct{}               { return c.done }
func (c *stubClient) IsConnected() bool                   { return false }

func TestBridge_ConnectionErrorDuringReconnectStartsNoSecondLoop(t *testing.T) {
	rec := newRecorder()
	b := New(DefaultConfig(), events.NewBroker(), nil)
	b.SetHandler(rec.handler())
	b.ctx, b.cancel = context.WithCancel(context.Background())

	// A reconnect loop already owns the flag.
	b.reconnecting.Store(true)

	c := newStubClient()
	c.errs <- errors.New("connection reset")
	b.wg.Add(1)
	b.readLoop(c)

	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background goroutines did not exit")
	}

	assert.True(t, b.reconnecting.Load(), "no second reconnect ran and released the flag")
	assert.Equal(t, int64(0), b.Stats().Reconnects)
}

func TestBridge_NotConnected(t *testing.T) {
	b := New(DefaultConfig(), events.NewBroker(), nil)
	assert.Equal(t, gateway.StatusNetwork, b.SubscribeMarketData(context.Background(), "rb2510"))
	assert.False(t, b.Stats().Connected)
}
