// Package order defines the order model shared by the book, the matching
// engine and the transaction machinery.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindLimit Kind = iota
	KindMarket
	KindStopLimit
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindMarket:
		return "market"
	case KindStopLimit:
		return "stopLimit"
	}
	return "unknown"
}

// Order is one order of any kind; Kind tags which price fields are valid.
// Volume is signed: positive buys, negative sells. Orders are mutated only
// through CopyWrapper copies owned by a transaction.
type Order struct {
	ID          string
	ExternalID  string
	AssetPairID string
	ClientID    string
	Kind        Kind

	Volume decimal.Decimal
	Price  decimal.Decimal // limit price; unset for market orders

	// Stop-limit trigger bands: when the reference price drops to
	// LowerLimitPrice the order converts to a limit order at LowerPrice,
	// when it rises to UpperLimitPrice it converts at UpperPrice.
	LowerLimitPrice decimal.Decimal
	LowerPrice      decimal.Decimal
	UpperLimitPrice decimal.Decimal
	UpperPrice      decimal.Decimal

	// Straight is valid for market orders: true when Volume is expressed in
	// the base asset, false when it is expressed in the quote asset.
	Straight bool

	Status     Status
	StatusDate time.Time

	CreatedAt     time.Time // from the incoming message
	Registered    time.Time // assigned by the engine, price-time tie break
	LastMatchTime time.Time
	ExpiresAt     time.Time // zero means good-till-cancel

	RemainingVolume decimal.Decimal // signed, same sign as Volume
	ReservedVolume  decimal.Decimal // funding-asset amount earmarked for this order

	FeeData []byte // opaque fee instructions, passed through to reports
}

func NewLimitOrder(id, externalID, assetPairID, clientID string, volume, price decimal.Decimal, createdAt, registered time.Time) *Order {
	return &Order{
		ID:              id,
		ExternalID:      externalID,
		AssetPairID:     assetPairID,
		ClientID:        clientID,
		Kind:            KindLimit,
		Volume:          volume,
		Price:           price,
		Straight:        true,
		Status:          StatusPlaced,
		StatusDate:      registered,
		CreatedAt:       createdAt,
		Registered:      registered,
		RemainingVolume: volume,
	}
}

func NewMarketOrder(id, externalID, assetPairID, clientID string, volume decimal.Decimal, straight bool, createdAt, registered time.Time) *Order {
	return &Order{
		ID:              id,
		ExternalID:      externalID,
		AssetPairID:     assetPairID,
		ClientID:        clientID,
		Kind:            KindMarket,
		Volume:          volume,
		Straight:        straight,
		Status:          StatusPlaced,
		StatusDate:      registered,
		CreatedAt:       createdAt,
		Registered:      registered,
		RemainingVolume: volume,
	}
}

func NewStopLimitOrder(id, externalID, assetPairID, clientID string, volume decimal.Decimal,
	lowerLimitPrice, lowerPrice, upperLimitPrice, upperPrice decimal.Decimal, createdAt, registered time.Time) *Order {
	return &Order{
		ID:              id,
		ExternalID:      externalID,
		AssetPairID:     assetPairID,
		ClientID:        clientID,
		Kind:            KindStopLimit,
		Volume:          volume,
		LowerLimitPrice: lowerLimitPrice,
		LowerPrice:      lowerPrice,
		UpperLimitPrice: upperLimitPrice,
		UpperPrice:      upperPrice,
		Straight:        true,
		Status:          StatusPlaced,
		StatusDate:      registered,
		CreatedAt:       createdAt,
		Registered:      registered,
		RemainingVolume: volume,
	}
}

// IsBuy is the side of the base asset trade. For a quote-denominated market
// order the sign flips: a negative quote volume means the client pays quote,
// which is a buy of base.
func (o *Order) IsBuy() bool {
	if o.Kind == KindMarket && !o.Straight {
		return o.Volume.Sign() < 0
	}
	return o.Volume.Sign() > 0
}

// IsOrigBuy is the raw sign of Volume, used for rounding direction.
func (o *Order) IsOrigBuy() bool { return o.Volume.Sign() > 0 }

func (o *Order) AbsVolume() decimal.Decimal { return o.Volume.Abs() }

func (o *Order) AbsRemainingVolume() decimal.Decimal { return o.RemainingVolume.Abs() }

// TakePrice returns the price the order is willing to trade at, if it has one.
func (o *Order) TakePrice() (decimal.Decimal, bool) {
	if o.Kind == KindMarket {
		return decimal.Decimal{}, false
	}
	return o.Price, true
}

// IsStraight reports whether Volume is expressed in the base asset.
func (o *Order) IsStraight() bool {
	return o.Kind != KindMarket || o.Straight
}

func (o *Order) IsPartiallyMatched() bool {
	return !o.RemainingVolume.Equal(o.Volume)
}

func (o *Order) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(now)
}

// SetStatus transitions the order. Transitions out of a terminal status are
// ignored, keeping "terminal exactly once".
func (o *Order) SetStatus(status Status, date time.Time) {
	if o.Status.Terminal() {
		return
	}
	o.Status = status
	o.StatusDate = date
}

// ComputeReservedVolume is the funding-asset amount the order should have
// earmarked. A limit buy reserves remaining volume at its limit price, a
// limit sell the remaining base volume; market orders only reserve what the
// incoming message asked for.
func (o *Order) ComputeReservedVolume() decimal.Decimal {
	if o.Kind == KindMarket {
		return o.ReservedVolume
	}
	if o.IsBuy() {
		return o.RemainingVolume.Mul(o.Price)
	}
	return o.AbsRemainingVolume()
}

// StopExecutionPrice returns the limit price a triggered stop order converts
// to, given the current reference price.
func (o *Order) StopExecutionPrice(reference decimal.Decimal) (decimal.Decimal, bool) {
	if o.Kind != KindStopLimit || reference.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	if o.LowerLimitPrice.Sign() > 0 && reference.Cmp(o.LowerLimitPrice) <= 0 {
		return o.LowerPrice, true
	}
	if o.UpperLimitPrice.Sign() > 0 && reference.Cmp(o.UpperLimitPrice) >= 0 {
		return o.UpperPrice, true
	}
	return decimal.Decimal{}, false
}

// Clone returns an independent copy. Decimal values are immutable, FeeData is
// shared (opaque, never mutated).
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
