package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rickgao/ctpbridge/internal/model"
)

func TestHandlerFuncs_Forwards(t *testing.T) {
	var (
		gotUpdate model.OrderUpdate
		gotFront  Front
		gotLogin  Login
		gotReason error
	)
	h := HandlerFuncs{
		OrderStatus:  func(u model.OrderUpdate) { gotUpdate = u },
		Login:        func(f Front, l Login, _ error) { gotFront, gotLogin = f, l },
		Disconnected: func(_ Front, reason error) { gotReason = reason },
	}

	update := model.OrderUpdate{OrderRef: "000000000007", Contract: "rb2510", Status: model.StatusCanceled, Message: "user cancel"}
	h.OnOrderStatus(update)
	assert.Equal(t, update, gotUpdate)

	h.OnLogin(FrontTrading, Login{TradingDay: "20261019", MaxOrderRef: "42"}, nil)
	assert.Equal(t, FrontTrading, gotFront)
	assert.Equal(t, "42", gotLogin.MaxOrderRef)

	reason := errors.New("link down")
	h.OnDisconnected(FrontMarketData, reason)
	assert.Equal(t, reason, gotReason)
}

func TestHandlerFuncs_NilFieldsAreNoops(t *testing.T) {
	var h Handler = HandlerFuncs{}

	assert.NotPanics(t, func() {
		h.OnTick(model.Tick{Instrument: "rb2510"})
		h.OnFill(model.Fill{OrderRef: "1"})
		h.OnOrderStatus(model.OrderUpdate{OrderRef: "1"})
		h.OnLogin(FrontMarketData, Login{}, nil)
		h.OnDisconnected(FrontMarketData, nil)
	})
}
