package gateway

import (
	"context"

	"github.com/rickgao/ctpbridge/internal/model"
)

// Front identifies which gateway front a callback came from.
type Front string

const (
	FrontMarketData Front = "md"
	FrontTrading    Front = "td"
)

// MarketData subscribes and unsubscribes depth market data.
type MarketData interface {
	SubscribeMarketData(ctx context.Context, instrument string) int
	UnsubscribeMarketData(ctx context.Context, instrument string) int
}

// Trading submits orders.
type Trading interface {
	SubmitOrder(ctx context.Context, req model.OrderRequest, orderRef string) int
}

// Login describes a successful front login.
type Login struct {
	TradingDay  string
	MaxOrderRef string // highest order ref the front has seen this session
}

// Handler receives asynchronous gateway callbacks. Methods are invoked on the
// gateway's delivery goroutine and must not block for long.
type Handler interface {
	OnTick(tick model.Tick)
	OnFill(fill model.Fill)
	OnOrderStatus(update model.OrderUpdate)
	OnLogin(front Front, login Login, err error)
	OnDisconnected(front Front, reason error)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Tick         func(model.Tick)
	Fill         func(model.Fill)
	OrderStatus  func(model.OrderUpdate)
	Login        func(Front, Login, error)
	Disconnected func(Front, error)
}

func (h HandlerFuncs) OnTick(tick model.Tick) {
	if h.Tick != nil {
		h.Tick(tick)
	}
}

func (h HandlerFuncs) OnFill(fill model.Fill) {
	if h.Fill != nil {
		h.Fill(fill)
	}
}

func (h HandlerFuncs) OnOrderStatus(update model.OrderUpdate) {
	if h.OrderStatus != nil {
		h.OrderStatus(update)
	}
}

func (h HandlerFuncs) OnLogin(front Front, login Login, err error) {
	if h.Login != nil {
		h.Login(front, login, err)
	}
}

func (h HandlerFuncs) OnDisconnected(front Front, reason error) {
	if h.Disconnected != nil {
		h.Disconnected(front, reason)
	}
}
