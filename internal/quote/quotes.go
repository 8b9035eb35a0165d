package quote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ctpbridge/internal/model"
)

// SourceHTTP marks ticks fetched from a quote service.
const SourceHTTP = "http"

// Quote is the level-1 snapshot a quote service returns. Prices may be
// JSON numbers or strings.
type Quote struct {
	Instrument    string          `json:"instrument"`
	Exchange      string          `json:"exchange"`
	TradingDay    string          `json:"trading_day"`
	LastPrice     decimal.Decimal `json:"last_price"`
	PreSettlement decimal.Decimal `json:"pre_settlement"`
	OpenPrice     decimal.Decimal `json:"open_price"`
	HighPrice     decimal.Decimal `json:"high_price"`
	LowPrice      decimal.Decimal `json:"low_price"`
	BidPrice      decimal.Decimal `json:"bid_price"`
	AskPrice      decimal.Decimal `json:"ask_price"`
	BidVolume     int64           `json:"bid_volume"`
	AskVolume     int64           `json:"ask_volume"`
	Volume        int64           `json:"volume"`
	OpenInterest  int64           `json:"open_interest"`
	Turnover      decimal.Decimal `json:"turnover"`
	UpdateTime    int64           `json:"update_time"` // ms since epoch
}

// ToTick converts q to a store tick received at receivedAt.
func (q Quote) ToTick(receivedAt time.Time) model.Tick {
	return model.Tick{
		Instrument:    q.Instrument,
		Exchange:      q.Exchange,
		TradingDay:    q.TradingDay,
		Source:        SourceHTTP,
		LastPrice:     q.LastPrice,
		PreSettlement: q.PreSettlement,
		OpenPrice:     q.OpenPrice,
		HighPrice:     q.HighPrice,
		LowPrice:      q.LowPrice,
		BidPrice:      q.BidPrice,
		AskPrice:      q.AskPrice,
		BidVolume:     q.BidVolume,
		AskVolume:     q.AskVolume,
		Volume:        q.Volume,
		OpenInterest:  q.OpenInterest,
		Turnover:      q.Turnover,
		ExchangeTS:    q.UpdateTime * 1000,
		ReceivedAt:    receivedAt.UnixMicro(),
	}
}

// GetQuote fetches the current quote for instrument.
func (c *Client) GetQuote(ctx context.Context, instrument string) (Quote, error) {
	var q Quote
	if err := c.get(ctx, "/quotes/"+url.PathEscape(instrument), &q); err != nil {
		return Quote{}, fmt.Errorf("get quote %s: %w", instrument, err)
	}
	if q.Instrument == "" {
		q.Instrument = instrument
	}
	if q.Instrument != instrument {
		return Quote{}, fmt.Errorf("get quote %s: service returned %q", instrument, q.Instrument)
	}
	return q, nil
}
