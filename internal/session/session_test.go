package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ctpbridge/internal/gateway"
	"github.com/rickgao/ctpbridge/internal/model"
)

// asyncGateway accepts every request and delivers callbacks on its own
// goroutine, like a vendor SDK.
type asyncGateway struct {
	mu      sync.Mutex
	handler gateway.Handler
	subs    int
	fills   map[string][]model.Fill // contract → fills to deliver per order
}

func (g *asyncGateway) SubscribeMarketData(_ context.Context, instrument string) int {
	g.mu.Lock()
	g.subs++
	g.mu.Unlock()
	return gateway.StatusOK
}

func (g *asyncGateway) UnsubscribeMarketData(context.Context, string) int {
	return gateway.StatusOK
}

func (g *asyncGateway) SubmitOrder(_ context.Context, req model.OrderRequest, ref string) int {
	g.mu.Lock()
	fills := g.fills[req.Contract]
	h := g.handler
	g.mu.Unlock()

	go func() {
		h.OnOrderStatus(model.OrderUpdate{OrderRef: ref, Contract: req.Contract, Status: model.StatusSubmitted})
		for _, f := range fills {
			f.OrderRef = ref
			f.Contract = req.Contract
			h.OnFill(f)
		}
	}()
	return gateway.StatusOK
}

func (g *asyncGateway) pushTick(instrument, price string) {
	g.handler.OnTick(model.Tick{Instrument: instrument, LastPrice: decimal.RequireFromString(price)})
}

func newTestSession(t *testing.T) (*Session, *asyncGateway) {
	t.Helper()
	gw := &asyncGateway{fills: make(map[string][]model.Fill)}
	s := New(gw, gw)
	gw.handler = s
	t.Cleanup(s.Close)
	return s, gw
}

func TestSession_SubscribeAndWaitForData(t *testing.T) {
	s, gw := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.Subscribe(ctx, "rb2510", "A"))
	require.NoError(t, s.Subscribe(ctx, "rb2510", "B"))
	assert.Equal(t, 1, gw.subs)

	go func() {
		assert.Eventually(t, func() bool { return s.Broker().Pending("rb2510") == 1 },
			time.Second, time.Millisecond)
		gw.pushTick("rb2510", "3520")
	}()

	require.NoError(t, s.WaitForData(ctx, "rb2510", "A"))

	tick, ok := s.Latest("rb2510")
	require.True(t, ok)
	assert.Equal(t, "3520", tick.LastPrice.String())
	assert.Len(t, s.Ticks("rb2510"), 1)
}

func TestSession_PlaceOrder(t *testing.T) {
	s, gw := newTestSession(t)
	gw.fills["rb2510"] = []model.Fill{
		{Price: decimal.RequireFromString("100.0"), Volume: 10},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := s.PlaceOrder(ctx, model.OrderRequest{
		Contract:  "rb2510",
		Direction: model.Buy,
		Offset:    model.Open,
		Price:     decimal.RequireFromString("100"),
		Volume:    10,
	})
	require.NoError(t, err)
	assert.True(t, res.Filled())
	assert.Equal(t, "100", res.AvgPrice.String())
	assert.Equal(t, model.StatusFilled, res.Status)
	assert.Equal(t, 0, s.Stats().Orders.Open)
}

func TestSession_CloseWakesWaiters(t *testing.T) {
	s, _ := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		done <- s.WaitForData(context.Background(), "rb2510", "A")
	}()
	require.Eventually(t, func() bool { return s.Broker().Pending("rb2510") == 1 },
		time.Second, time.Millisecond)

	s.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake waiter")
	}

	assert.ErrorIs(t, s.Subscribe(context.Background(), "rb2510", "A"), ErrClosed)
	_, err := s.PlaceOrder(context.Background(), model.OrderRequest{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_LoginTracking(t *testing.T) {
	s, _ := newTestSession(t)

	s.OnLogin(gateway.FrontMarketData, gateway.Login{TradingDay: "20261019"}, nil)
	assert.True(t, s.LoggedIn(gateway.FrontMarketData))
	assert.False(t, s.LoggedIn(gateway.FrontTrading))

	s.OnDisconnected(gateway.FrontMarketData, nil)
	assert.False(t, s.LoggedIn(gateway.FrontMarketData))
}

func TestSession_TradingLoginAdvancesOrderRefs(t *testing.T) {
	s, gw := newTestSession(t)
	gw.fills["rb2510"] = []model.Fill{{Price: decimal.RequireFromString("100"), Volume: 1}}

	// Market data refs belong to another sequence and are ignored.
	s.OnLogin(gateway.FrontMarketData, gateway.Login{TradingDay: "20261019", MaxOrderRef: "900"}, nil)
	s.OnLogin(gateway.FrontTrading, gateway.Login{TradingDay: "20261019", MaxOrderRef: "120"}, nil)
	s.OnLogin(gateway.FrontTrading, gateway.Login{TradingDay: "20261019", MaxOrderRef: "bogus"}, nil)
	assert.True(t, s.LoggedIn(gateway.FrontTrading))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := s.PlaceOrder(ctx, model.OrderRequest{
		Contract:  "rb2510",
		Direction: model.Buy,
		Offset:    model.Open,
		Price:     decimal.RequireFromString("100"),
		Volume:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, "000000000121", res.OrderRef)
}

func TestSession_Stats(t *testing.T) {
	s, gw := newTestSession(t)
	require.NoError(t, s.Subscribe(context.Background(), "rb2510", "A"))
	gw.pushTick("rb2510", "3520")

	st := s.Stats()
	assert.Equal(t, map[string]int{"rb2510": 1}, st.Subscriptions)
	assert.Equal(t, 1, st.MarketData.Ticks)
	assert.Empty(t, st.PendingEvents)
}
