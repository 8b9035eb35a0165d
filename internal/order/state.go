package order

import (
	"errors"
	"time"

	"github.com/rickgao/ctpbridge/internal/model"
)

var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill volume")
)

// Order is the correlator's view of one order.
type Order struct {
	Ref          string
	Request      model.OrderRequest
	Status       model.OrderStatus
	Fills        []model.Fill
	FilledVolume int64
	SubmittedAt  time.Time
}

// LeavesVolume returns the unfilled volume.
func (o *Order) LeavesVolume() int64 {
	leaves := o.Request.Volume - o.FilledVolume
	if leaves < 0 {
		return 0
	}
	return leaves
}

// applyStatus moves the order to status. Terminal orders only accept a
// repeat of their own status.
func (o *Order) applyStatus(status model.OrderStatus) error {
	if o.Status.IsTerminal() {
		if status == o.Status {
			return nil
		}
		return ErrInvalidTransition
	}
	// A status report never undoes fills already counted.
	if status == model.StatusSubmitted && o.FilledVolume > 0 {
		return nil
	}
	o.Status = status
	return nil
}

// applyFill records fill. Fills are always kept, even on a terminal order,
// since the exchange may report a trade after the order's final status.
func (o *Order) applyFill(fill model.Fill) error {
	if fill.Volume <= 0 {
		return ErrInvalidFill
	}
	o.Fills = append(o.Fills, fill)
	o.FilledVolume += fill.Volume

	if o.Status.IsTerminal() {
		return nil
	}
	if o.Request.Volume > 0 && o.FilledVolume >= o.Request.Volume {
		o.Status = model.StatusFilled
	} else {
		o.Status = model.StatusPartFilled
	}
	return nil
}

func (o *Order) clone() Order {
	c := *o
	c.Fills = append([]model.Fill(nil), o.Fills...)
	return c
}
