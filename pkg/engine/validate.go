package engine

import (
	"github.com/avetra/matchcore/pkg/engine/numutil"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
)

// Validation returns the rejection status and false when the order must not
// reach the book. The checks run in a fixed sequence; the first hit wins.

func (e *Engine) validateLimitOrder(ctx *tx.ExecutionContext, o *order.Order) (order.Status, bool) {
	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		return order.StatusUnknownAsset, false
	}
	baseAsset, okBase := ctx.Assets.Asset(pair.BaseAssetID)
	if _, okQuote := ctx.Assets.Asset(pair.QuoteAssetID); !okBase || !okQuote {
		return order.StatusUnknownAsset, false
	}
	if o.Volume.IsZero() {
		return order.StatusInvalidVolume, false
	}
	if !numutil.CheckScale(o.Volume, baseAsset.Accuracy) {
		return order.StatusInvalidVolumeAccuracy, false
	}
	if o.Price.Sign() <= 0 {
		return order.StatusInvalidPrice, false
	}
	if !numutil.CheckScale(o.Price, pair.Accuracy) {
		return order.StatusInvalidPriceAccuracy, false
	}
	if pair.HasMinVolume() && o.AbsVolume().Cmp(pair.MinVolume) < 0 {
		return order.StatusTooSmallVolume, false
	}
	if pair.HasMaxVolume() && o.AbsVolume().Cmp(pair.MaxVolume) > 0 {
		return order.StatusInvalidVolume, false
	}
	if pair.HasMaxValue() && o.AbsVolume().Mul(o.Price).Cmp(pair.MaxValue) > 0 {
		return order.StatusInvalidValue, false
	}
	if ctx.Books.Book(o.AssetPairID).LeadsToNegativeSpread(o) {
		return order.StatusLeadToNegativeSpread, false
	}
	if o.IsExpired(ctx.Date) {
		return order.StatusExpired, false
	}
	return "", true
}

func (e *Engine) validateMarketOrder(ctx *tx.ExecutionContext, o *order.Order) (order.Status, bool) {
	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		return order.StatusUnknownAsset, false
	}
	baseAsset, okBase := ctx.Assets.Asset(pair.BaseAssetID)
	quoteAsset, okQuote := ctx.Assets.Asset(pair.QuoteAssetID)
	if !okBase || !okQuote {
		return order.StatusUnknownAsset, false
	}
	if o.Volume.IsZero() {
		return order.StatusInvalidVolume, false
	}
	volumeAccuracy := baseAsset.Accuracy
	if !o.IsStraight() {
		volumeAccuracy = quoteAsset.Accuracy
	}
	if !numutil.CheckScale(o.Volume, volumeAccuracy) {
		return order.StatusInvalidVolumeAccuracy, false
	}
	// Min volume is defined in base units; a quote-denominated volume has no
	// fixed base equivalent before execution.
	if o.IsStraight() && pair.HasMinVolume() && o.AbsVolume().Cmp(pair.MinVolume) < 0 {
		return order.StatusTooSmallVolume, false
	}
	return "", true
}

func (e *Engine) validateStopLimitOrder(ctx *tx.ExecutionContext, o *order.Order) (order.Status, bool) {
	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		return order.StatusUnknownAsset, false
	}
	baseAsset, okBase := ctx.Assets.Asset(pair.BaseAssetID)
	if _, okQuote := ctx.Assets.Asset(pair.QuoteAssetID); !okBase || !okQuote {
		return order.StatusUnknownAsset, false
	}
	if o.Volume.IsZero() {
		return order.StatusInvalidVolume, false
	}
	if !numutil.CheckScale(o.Volume, baseAsset.Accuracy) {
		return order.StatusInvalidVolumeAccuracy, false
	}
	lower := o.LowerLimitPrice.Sign() > 0
	upper := o.UpperLimitPrice.Sign() > 0
	if !lower && !upper {
		return order.StatusInvalidPrice, false
	}
	if lower && o.LowerPrice.Sign() <= 0 || upper && o.UpperPrice.Sign() <= 0 {
		return order.StatusInvalidPrice, false
	}
	if lower && upper && o.LowerLimitPrice.Cmp(o.UpperLimitPrice) >= 0 {
		return order.StatusInvalidPrice, false
	}
	if lower && (!numutil.CheckScale(o.LowerLimitPrice, pair.Accuracy) || !numutil.CheckScale(o.LowerPrice, pair.Accuracy)) {
		return order.StatusInvalidPriceAccuracy, false
	}
	if upper && (!numutil.CheckScale(o.UpperLimitPrice, pair.Accuracy) || !numutil.CheckScale(o.UpperPrice, pair.Accuracy)) {
		return order.StatusInvalidPriceAccuracy, false
	}
	if pair.HasMinVolume() && o.AbsVolume().Cmp(pair.MinVolume) < 0 {
		return order.StatusTooSmallVolume, false
	}
	if o.IsExpired(ctx.Date) {
		return order.StatusExpired, false
	}
	return "", true
}
