package order

import (
	"fmt"
	"sync/atomic"
)

// refWidth is the zero-padded width of an order ref.
const refWidth = 12

// Sequencer generates strictly increasing order refs.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer creates a sequencer whose first Next returns start+1.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Advance moves the sequencer forward to at least v. It never moves back.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.next.Load()
		if v <= cur || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}

// FormatRef renders a sequence number as an order ref.
func FormatRef(n uint64) string {
	return fmt.Sprintf("%0*d", refWidth, n)
}

// Key returns the event key used to wait for an order's fills.
func Key(contract, orderRef string) string {
	return contract + "/" + orderRef
}
