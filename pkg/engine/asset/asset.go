// Package asset holds instrument metadata and the exact-id directory the
// engine resolves incoming messages against.
package asset

import "github.com/shopspring/decimal"

// Asset is a tradable or funding asset. Accuracy is the maximum number of
// fractional digits a balance or volume in this asset may carry.
type Asset struct {
	ID       string
	Accuracy int32
}

// AssetPair is one instrument. Accuracy applies to prices. Volume and value
// bounds are optional; zero means unset.
type AssetPair struct {
	ID           string
	BaseAssetID  string
	QuoteAssetID string
	Accuracy     int32

	MinVolume decimal.Decimal
	MaxVolume decimal.Decimal
	MaxValue  decimal.Decimal
}

// FundingAssetID returns the asset a client pays with: quote for a buy,
// base for a sell.
func (p AssetPair) FundingAssetID(buy bool) string {
	if buy {
		return p.QuoteAssetID
	}
	return p.BaseAssetID
}

// ReceivedAssetID returns the asset a client receives on a fill.
func (p AssetPair) ReceivedAssetID(buy bool) string {
	if buy {
		return p.BaseAssetID
	}
	return p.QuoteAssetID
}

func (p AssetPair) HasMinVolume() bool { return p.MinVolume.Sign() > 0 }
func (p AssetPair) HasMaxVolume() bool { return p.MaxVolume.Sign() > 0 }
func (p AssetPair) HasMaxValue() bool  { return p.MaxValue.Sign() > 0 }
