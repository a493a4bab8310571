package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/order"
)

// StopOrderBook holds pending stop-limit orders per side in arrival order.
// Trigger evaluation is a linear scan; stop books are small compared to the
// live book.
type StopOrderBook struct {
	assetPairID string
	bids        []*order.Order
	asks        []*order.Order
}

func NewStop(assetPairID string) *StopOrderBook {
	return &StopOrderBook{assetPairID: assetPairID}
}

func (b *StopOrderBook) AssetPairID() string { return b.assetPairID }

func (b *StopOrderBook) side(buy bool) *[]*order.Order {
	if buy {
		return &b.bids
	}
	return &b.asks
}

func (b *StopOrderBook) Add(o *order.Order) {
	s := b.side(o.IsBuy())
	*s = append(*s, o)
	sort.Slice(*s, func(i, j int) bool {
		a, c := (*s)[i], (*s)[j]
		if !a.Registered.Equal(c.Registered) {
			return a.Registered.Before(c.Registered)
		}
		return a.ID < c.ID
	})
}

func (b *StopOrderBook) Remove(buy bool, id string) *order.Order {
	s := b.side(buy)
	for i, o := range *s {
		if o.ID == id {
			removed := o
			*s = append((*s)[:i], (*s)[i+1:]...)
			return removed
		}
	}
	return nil
}

func (b *StopOrderBook) SideSnapshot(buy bool) []*order.Order {
	s := *b.side(buy)
	out := make([]*order.Order, len(s))
	copy(out, s)
	return out
}

func (b *StopOrderBook) SideLen(buy bool) int { return len(*b.side(buy)) }

// Triggered returns the pending orders whose trigger condition is met. Buy
// stops watch the best ask, sell stops the best bid; a zero reference price
// (empty side) triggers nothing.
func (b *StopOrderBook) Triggered(bestBid, bestAsk decimal.Decimal) []*order.Order {
	var out []*order.Order
	for _, o := range b.bids {
		if _, ok := o.StopExecutionPrice(bestAsk); ok {
			out = append(out, o)
		}
	}
	for _, o := range b.asks {
		if _, ok := o.StopExecutionPrice(bestBid); ok {
			out = append(out, o)
		}
	}
	return out
}

func (b *StopOrderBook) Copy() *StopOrderBook {
	c := NewStop(b.assetPairID)
	c.bids = make([]*order.Order, len(b.bids))
	copy(c.bids, b.bids)
	c.asks = make([]*order.Order, len(b.asks))
	copy(c.asks, b.asks)
	return c
}
