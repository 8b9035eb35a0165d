package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ctpbridge/internal/model"
	"github.com/rickgao/ctpbridge/internal/order"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func settled() order.FillResult {
	fills := []model.Fill{
		{OrderRef: "000000000001", Contract: "rb2510", TradeID: "t1", Direction: model.Buy, Price: decimal.RequireFromString("100.50"), Volume: 1},
		{OrderRef: "000000000001", Contract: "rb2510", TradeID: "t2", Direction: model.Buy, Price: decimal.RequireFromString("100.75"), Volume: 2},
	}
	avg, vol := order.AveragePrice(fills)
	return order.FillResult{
		OrderRef: "000000000001",
		Contract: "rb2510",
		Status:   model.StatusFilled,
		Volume:   vol,
		AvgPrice: avg,
		Fills:    fills,
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	msg, err := buildMessage(settled(), now)
	require.NoError(t, err)

	assert.Equal(t, "000000000001", string(msg.Key))
	assert.Equal(t, now, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"schema": "1", "contract": "rb2510", "status": "filled"}, headers)

	var decoded struct {
		OrderRef string `json:"order_ref"`
		Volume   int64  `json:"volume"`
		AvgPrice string `json:"avg_price"`
		Fills    []any  `json:"fills"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "000000000001", decoded.OrderRef)
	assert.Equal(t, int64(3), decoded.Volume)
	assert.Equal(t, "100.67", decoded.AvgPrice)
	assert.Len(t, decoded.Fills, 2)
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "ctpbridge.fills", nil)

	require.NoError(t, p.Publish(context.Background(), settled()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "000000000001", string(w.msgs[0].Key))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: kafka.LeaderNotAvailable}
	p := newPublisher(w, "ctpbridge.fills", nil)

	err := p.Publish(context.Background(), settled())
	require.Error(t, err)
	assert.True(t, errors.Is(err, kafka.LeaderNotAvailable))
	assert.Contains(t, err.Error(), "000000000001")
}
