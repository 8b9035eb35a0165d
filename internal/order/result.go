package order

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/ctpbridge/internal/model"
)

// pricePlaces is the precision of reported average prices.
const pricePlaces = 2

// FillResult is the outcome of PlaceOrder.
type FillResult struct {
	OrderRef string            `json:"order_ref"`
	Contract string            `json:"contract"`
	Status   model.OrderStatus `json:"status"`
	Volume   int64             `json:"volume"`
	AvgPrice decimal.Decimal   `json:"avg_price"`
	Fills    []model.Fill      `json:"fills"`
}

// Filled reports whether at least one fill was received. A FillResult with
// no fills is the explicit "no fill" outcome and its AvgPrice is zero.
func (r FillResult) Filled() bool {
	return len(r.Fills) > 0
}

// AveragePrice returns the volume-weighted average price of fills,
// sum(price*volume)/sum(volume), rounded half away from zero to 2 places,
// and the total volume. It returns zero values for no fills.
func AveragePrice(fills []model.Fill) (decimal.Decimal, int64) {
	var notional decimal.Decimal
	var volume int64
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(decimal.NewFromInt(f.Volume)))
		volume += f.Volume
	}
	if volume == 0 {
		return decimal.Zero, 0
	}
	return notional.Div(decimal.NewFromInt(volume)).Round(pricePlaces), volume
}

func newFillResult(o Order) FillResult {
	avg, volume := AveragePrice(o.Fills)
	return FillResult{
		OrderRef: o.Ref,
		Contract: o.Request.Contract,
		Status:   o.Status,
		Volume:   volume,
		AvgPrice: avg,
		Fills:    o.Fills,
	}
}
