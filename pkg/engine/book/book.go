// Package book implements per-instrument order books with price-time
// priority and the copy-on-write snapshots the transaction layer trades on.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/order"
)

// AssetOrderBook keeps two best-first sorted sides of resting limit orders
// for one asset pair. It is not synchronized: the live instance is guarded by
// the Registry, copies are owned by a single transaction.
type AssetOrderBook struct {
	assetPairID string
	bids        []*order.Order // highest price first
	asks        []*order.Order // lowest price first
}

func New(assetPairID string) *AssetOrderBook {
	return &AssetOrderBook{assetPairID: assetPairID}
}

func (b *AssetOrderBook) AssetPairID() string { return b.assetPairID }

// ordersLess is the price-time priority comparator: better price first,
// earlier registration breaks price ties, id breaks exact timestamp ties so
// the order is total and deterministic.
func ordersLess(buy bool, a, o *order.Order) bool {
	c := a.Price.Cmp(o.Price)
	if buy {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	if !a.Registered.Equal(o.Registered) {
		return a.Registered.Before(o.Registered)
	}
	return a.ID < o.ID
}

func (b *AssetOrderBook) side(buy bool) *[]*order.Order {
	if buy {
		return &b.bids
	}
	return &b.asks
}

// Add inserts o keeping the side sorted.
func (b *AssetOrderBook) Add(o *order.Order) {
	buy := o.IsBuy()
	s := b.side(buy)
	i := sort.Search(len(*s), func(i int) bool { return ordersLess(buy, o, (*s)[i]) })
	*s = append(*s, nil)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = o
}

// Remove deletes the order with the given id from the side matching buy.
// Returns the removed order or nil.
func (b *AssetOrderBook) Remove(buy bool, id string) *order.Order {
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

// SideSnapshot returns a copy of one side, best order first. The orders
// themselves are shared; callers must not mutate them.
func (b *AssetOrderBook) SideSnapshot(buy bool) []*order.Order {
	s := *b.side(buy)
	out := make([]*order.Order, len(s))
	copy(out, s)
	return out
}

// SetSide replaces one side. Used at the end of a match to install the
// remaining book walked by the matching engine; input is re-sorted so that
// re-added skipped orders land back at their priority.
func (b *AssetOrderBook) SetSide(buy bool, orders []*order.Order) {
	s := make([]*order.Order, len(orders))
	copy(s, orders)
	sort.Slice(s, func(i, j int) bool { return ordersLess(buy, s[i], s[j]) })
	*b.side(buy) = s
}

func (b *AssetOrderBook) SideLen(buy bool) int { return len(*b.side(buy)) }

// BestBidPrice returns the highest bid price, zero when the side is empty.
func (b *AssetOrderBook) BestBidPrice() decimal.Decimal {
	if len(b.bids) == 0 {
		return decimal.Decimal{}
	}
	return b.bids[0].Price
}

// BestAskPrice returns the lowest ask price, zero when the side is empty.
func (b *AssetOrderBook) BestAskPrice() decimal.Decimal {
	if len(b.asks) == 0 {
		return decimal.Decimal{}
	}
	return b.asks[0].Price
}

func (b *AssetOrderBook) BestPrice(buy bool) decimal.Decimal {
	if buy {
		return b.BestBidPrice()
	}
	return b.BestAskPrice()
}

// MidPrice returns the mid of best bid and ask, false when either side is
// empty.
func (b *AssetOrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, ask := b.BestBidPrice(), b.BestAskPrice()
	if bid.Sign() <= 0 || ask.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return bid.Add(ask).DivRound(decimal.NewFromInt(2), 16), true
}

// LeadsToNegativeSpread reports whether o would cross a resting order of the
// same client on the opposite side: the self-trade guard.
func (b *AssetOrderBook) LeadsToNegativeSpread(in *order.Order) bool {
	price, ok := in.TakePrice()
	if !ok {
		return false
	}
	buy := in.IsBuy()
	for _, resting := range *b.side(!buy) {
		crosses := false
		if buy {
			crosses = price.Cmp(resting.Price) >= 0
		} else {
			crosses = price.Cmp(resting.Price) <= 0
		}
		if !crosses {
			break // side is best-first, nothing further can cross
		}
		if resting.ClientID == in.ClientID {
			return true
		}
	}
	return false
}

// Copy returns an independent book: side slices are fresh, the resting
// orders are shared until a transaction copy-wraps them.
func (b *AssetOrderBook) Copy() *AssetOrderBook {
	c := New(b.assetPairID)
	c.bids = make([]*order.Order, len(b.bids))
	copy(c.bids, b.bids)
	c.asks = make([]*order.Order, len(b.asks))
	copy(c.asks, b.asks)
	return c
}
