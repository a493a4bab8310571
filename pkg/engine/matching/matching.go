// Package matching walks one side of an order book with an incoming order
// and produces the full effect of the trade: maker edits, wallet operations,
// trades and the surviving book tail. It never touches shared state; all
// writes go through transaction copies.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/numutil"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
	"github.com/avetra/matchcore/pkg/outgoing"
)

// Match executes originOrder against bookSide (the opposite side, best price
// first). balance overrides the taker's funding balance when non-nil.
// deviationThreshold guards market orders against walking too deep; zero
// disables the guard.
//
// A limit taker crossing its own resting order is rejected; a market taker
// skips it. An expired or underfunded maker is cancelled and the walk goes
// on. The last fill of a quote-denominated taker absorbs the rounding
// residue so the taker's quote leg sums exactly to its volume.
func Match(ctx *tx.ExecutionContext, originOrder *order.Order, bookSide []*order.Order,
	balance *decimal.Decimal, deviationThreshold decimal.Decimal) *Result {

	wrapper := order.NewCopyWrapper(originOrder)
	o := wrapper.Copy
	now := ctx.Date

	var cancelled []*order.Order
	reject := func(status order.Status) *Result {
		o.SetStatus(status, now)
		r := &Result{takerWrapper: wrapper, Order: o, CancelledMakers: cancelled}
		r.Apply()
		return r
	}

	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		ctx.Errorf("order %s for unknown asset pair %s", o.ExternalID, o.AssetPairID)
		return reject(order.StatusUnknownAsset)
	}
	baseAsset, okBase := ctx.Assets.Asset(pair.BaseAssetID)
	quoteAsset, okQuote := ctx.Assets.Asset(pair.QuoteAssetID)
	if !okBase || !okQuote {
		ctx.Errorf("order %s: asset of pair %s not found", o.ExternalID, pair.ID)
		return reject(order.StatusUnknownAsset)
	}

	isBuy := o.IsBuy()
	fundingAsset := baseAsset
	limitAsset := quoteAsset
	if isBuy {
		fundingAsset = quoteAsset
		limitAsset = baseAsset
	}

	availableBalance := ctx.Wallets.AvailableBalance(o.ClientID, fundingAsset.ID)
	if balance != nil {
		availableBalance = *balance
	}
	var bestPrice decimal.Decimal
	if len(bookSide) > 0 {
		bestPrice = bookSide[0].Price
	}

	takePrice, hasTakePrice := o.TakePrice()
	remainingVolume := o.AbsVolume()
	marketBalance := availableBalance

	var (
		matched          []*order.CopyWrapper[order.Order]
		skipped          []*order.Order
		completed        []*order.CopyWrapper[order.Order]
		uncompleted      *order.CopyWrapper[order.Order]
		uncompletedState *order.Order
		trades           []outgoing.Trade
		makerReports     []outgoing.OrderReport
		ownOps           []wallet.Operation
		oppositeOps      []wallet.Operation

		totalLimitPrice  decimal.Decimal
		totalVolume      decimal.Decimal
		totalLimitVolume decimal.Decimal
		matchedZeroTrade bool
	)
	// per-client running funding of the makers, for trade funds control
	limitBalances := make(map[string]decimal.Decimal)

	idx := 0
	if len(bookSide) == 0 || (bookSide[0].AssetPairID == o.AssetPairID && bookSide[0].IsBuy() != isBuy) {
		for marketBalance.Sign() >= 0 &&
			idx < len(bookSide) &&
			!numutil.IsZeroWithDelta(remainingVolume) &&
			!matchedZeroTrade {
			if hasTakePrice {
				crosses := takePrice.Cmp(bookSide[idx].Price) >= 0
				if !isBuy {
					crosses = takePrice.Cmp(bookSide[idx].Price) <= 0
				}
				if !crosses {
					break
				}
			}
			makerOrigin := bookSide[idx]
			idx++

			if makerOrigin.IsExpired(now) {
				ctx.Infof("order %s expired, adding to cancelled", makerOrigin.ExternalID)
				cancelled = append(cancelled, makerOrigin)
				continue
			}
			if o.ClientID == makerOrigin.ClientID {
				if hasTakePrice {
					ctx.Infof("order %s (client %s) leads to negative spread with order %s",
						o.ExternalID, o.ClientID, makerOrigin.ExternalID)
					return reject(order.StatusLeadToNegativeSpread)
				}
				skipped = append(skipped, makerOrigin)
				continue
			}

			makerWrapper := ctx.Books.GetOrPutWrapper(makerOrigin)
			maker := makerWrapper.Copy

			fullyMatched := false
			limitRemaining := maker.AbsRemainingVolume()
			marketRemaining := crossVolume(remainingVolume, o.IsStraight(), maker.Price)
			volume := marketRemaining
			if marketRemaining.Cmp(limitRemaining) > 0 {
				volume = limitRemaining
			} else {
				fullyMatched = true
			}

			marketRounded := numutil.Scale(volume, baseAsset.Accuracy, !isBuy)
			oppositeRounded := numutil.Scale(maker.Price.Mul(volume), quoteAsset.Accuracy, isBuy)
			if isBuy {
				oppositeRounded = oppositeRounded.Neg()
			} else {
				marketRounded = marketRounded.Neg()
			}

			if !o.IsStraight() && fullyMatched {
				// Last fill of a quote-denominated taker: hand it the exact
				// unfilled quote remainder and re-derive the base leg, so the
				// quote legs sum to the order volume with no rounding drift.
				sign := decimal.NewFromInt(int64(o.Volume.Sign()))
				oppositeRounded = sign.Mul(numutil.Scale(o.Volume.Abs().Sub(totalLimitVolume.Abs()), quoteAsset.Accuracy, isBuy))
				marketRounded = numutil.Scale(numutil.DivideMaxScale(oppositeRounded.Neg(), maker.Price), baseAsset.Accuracy, !isBuy)
				ctx.Infof("rounding last matched trade of order %s: %s", o.ExternalID, marketRounded)
			}

			makerFunding := oppositeRounded
			if isBuy {
				makerFunding = marketRounded
			}
			if !checkAndReduceBalance(ctx, maker, makerFunding, limitBalances) {
				ctx.Infof("order %s (client %s) cannot fund its trade, adding to cancelled",
					maker.ExternalID, maker.ClientID)
				cancelled = append(cancelled, makerOrigin)
				continue
			}

			if makerFunding.IsZero() {
				if fullyMatched {
					ctx.Infof("skipped order %s due to zero latest trade", maker.ExternalID)
					matchedZeroTrade = true
					skipped = append(skipped, makerOrigin)
				} else {
					ctx.Infof("order %s produces a zero trade, adding to cancelled", maker.ExternalID)
					cancelled = append(cancelled, makerOrigin)
				}
				continue
			}

			makerBase := marketRounded.Neg()
			makerQuote := oppositeRounded.Neg()
			ownOps = append(ownOps,
				wallet.Operation{ClientID: o.ClientID, AssetID: pair.BaseAssetID, Amount: marketRounded},
				wallet.Operation{ClientID: o.ClientID, AssetID: pair.QuoteAssetID, Amount: oppositeRounded},
			)
			makerBaseOp := wallet.Operation{ClientID: maker.ClientID, AssetID: pair.BaseAssetID, Amount: makerBase}
			if makerBase.Sign() < 0 {
				makerBaseOp.ReservedAmount = makerBase
			}
			makerQuoteOp := wallet.Operation{ClientID: maker.ClientID, AssetID: pair.QuoteAssetID, Amount: makerQuote}
			if makerQuote.Sign() < 0 {
				makerQuoteOp.ReservedAmount = makerQuote
			}
			oppositeOps = append(oppositeOps, makerBaseOp, makerQuoteOp)

			matchedWrapper := order.NewCopyWrapper(maker)
			makerCopy := matchedWrapper.Copy
			if makerCopy.ReservedVolume.Sign() > 0 {
				adj := makerQuote
				if makerBase.Sign() < 0 {
					adj = makerBase
				}
				makerCopy.ReservedVolume = numutil.ScaleHalfUp(makerCopy.ReservedVolume.Add(adj), limitAsset.Accuracy)
			}

			newRemaining := numutil.ScaleHalfUp(makerCopy.RemainingVolume.Add(marketRounded), baseAsset.Accuracy)
			if newRemaining.Sign() != makerCopy.RemainingVolume.Sign() {
				if newRemaining.Sign()*makerCopy.RemainingVolume.Sign() < 0 {
					ctx.Infof("matched volume is overflowed (previous %s, current %s)",
						makerCopy.RemainingVolume, newRemaining)
				}
				makerCopy.RemainingVolume = decimal.Decimal{}
				makerCopy.SetStatus(order.StatusMatched, now)
				completed = append(completed, makerWrapper)
				if makerCopy.ReservedVolume.Sign() > 0 {
					unwindAssetID := pair.QuoteAssetID
					if makerBase.Sign() < 0 {
						unwindAssetID = pair.BaseAssetID
					}
					oppositeOps = append(oppositeOps, wallet.Operation{
						ClientID:       maker.ClientID,
						AssetID:        unwindAssetID,
						ReservedAmount: makerCopy.ReservedVolume.Neg(),
					})
					makerCopy.ReservedVolume = decimal.Decimal{}
				}
			} else {
				makerCopy.RemainingVolume = newRemaining
				makerCopy.SetStatus(order.StatusProcessing, now)
				uncompleted = makerWrapper
				uncompletedState = makerCopy
			}
			makerCopy.LastMatchTime = now

			spent := marketRounded
			if isBuy {
				spent = oppositeRounded
			}
			marketBalance = numutil.ScaleHalfUp(marketBalance.Sub(spent.Abs()), fundingAsset.Accuracy)

			if fullyMatched {
				remainingVolume = decimal.Decimal{}
			} else {
				volumeAsset := baseAsset
				if !o.IsStraight() {
					volumeAsset = quoteAsset
				}
				remainingVolume = numutil.Scale(
					remainingVolume.Sub(tradeVolume(marketRounded.Abs(), o.IsStraight(), maker.Price)),
					volumeAsset.Accuracy, o.IsOrigBuy())
			}

			trade := outgoing.Trade{
				ID:            ctx.IDs.NextID(),
				Index:         ctx.NextTradeIndex(),
				Timestamp:     now,
				AssetPairID:   pair.ID,
				Price:         maker.Price,
				BaseAssetID:   pair.BaseAssetID,
				BaseVolume:    marketRounded.Abs(),
				QuoteAssetID:  pair.QuoteAssetID,
				QuoteVolume:   oppositeRounded.Abs(),
				TakerOrderID:  o.ID,
				TakerClientID: o.ClientID,
				MakerOrderID:  maker.ID,
				MakerClientID: maker.ClientID,
			}
			trades = append(trades, trade)
			makerReports = append(makerReports, outgoing.OrderReport{
				Order:  *makerCopy,
				Trades: []outgoing.Trade{trade},
			})
			ctx.Infof("matched with order %s (client %s) price %s base %s quote %s",
				maker.ExternalID, maker.ClientID, maker.Price, trade.BaseVolume, trade.QuoteVolume)

			totalVolume = totalVolume.Add(volume)
			totalLimitPrice = totalLimitPrice.Add(volume.Mul(maker.Price))
			matchedVolume := oppositeRounded
			if o.IsStraight() {
				matchedVolume = marketRounded
			}
			totalLimitVolume = totalLimitVolume.Add(matchedVolume.Abs())
			matched = append(matched, matchedWrapper)
		}
	}

	if !hasTakePrice && remainingVolume.Sign() > 0 {
		if matchedZeroTrade {
			ctx.Infof("invalid volume accuracy, latest trade is zero for market order %s", o.ExternalID)
			return reject(order.StatusInvalidVolumeAccuracy)
		}
		ctx.Infof("no liquidity for market order %s (client %s), unfilled %s",
			o.ExternalID, o.ClientID, remainingVolume)
		return reject(order.StatusNoLiquidity)
	}

	if o.ComputeReservedVolume().Cmp(availableBalance) > 0 {
		ctx.Infof("reserved volume %s greater than balance %s for order %s",
			o.ComputeReservedVolume(), availableBalance, o.ExternalID)
		return reject(order.StatusReservedVolumeGreaterThanBalance)
	}

	reservedBalance := availableBalance
	if rv := o.ComputeReservedVolume(); rv.Sign() > 0 {
		reservedBalance = numutil.Scale(rv, fundingAsset.Accuracy, true)
	}
	spentTotal := totalVolume
	if isBuy {
		spentTotal = totalLimitPrice
	}
	if marketBalance.Sign() < 0 || reservedBalance.Cmp(numutil.Scale(spentTotal, fundingAsset.Accuracy, true)) < 0 {
		ctx.Infof("not enough funds for order %s (client %s): marketBalance %s, %s < %s",
			o.ExternalID, o.ClientID, marketBalance, reservedBalance, spentTotal)
		return reject(order.StatusNotEnoughFunds)
	}

	executionPrice := calcExecutionPrice(o, pair, totalLimitPrice, totalVolume)

	if !checkMaxVolume(o, pair, executionPrice, hasTakePrice) {
		ctx.Infof("too large volume of order %s: volume %s, price %s, maxVolume %s",
			o.ExternalID, o.Volume, executionPrice, pair.MaxVolume)
		return reject(order.StatusInvalidVolume)
	}
	if !checkMaxValue(o, pair, executionPrice, hasTakePrice) {
		ctx.Infof("too large value of order %s: volume %s, price %s, maxValue %s",
			o.ExternalID, o.Volume, executionPrice, pair.MaxValue)
		return reject(order.StatusInvalidValue)
	}
	if !hasTakePrice && !checkPriceDeviation(isBuy, executionPrice, bestPrice, deviationThreshold) {
		ctx.Infof("too high price deviation of order %s: threshold %s, bestPrice %s, executionPrice %s",
			o.ExternalID, deviationThreshold, bestPrice, executionPrice)
		return reject(order.StatusTooHighPriceDeviation)
	}

	if hasTakePrice && remainingVolume.Sign() > 0 {
		newRemaining := remainingVolume
		if !isBuy && !remainingVolume.IsZero() {
			newRemaining = remainingVolume.Neg()
		}
		if newRemaining.Cmp(originOrder.Volume) != 0 {
			o.SetStatus(order.StatusProcessing, now)
			o.RemainingVolume = newRemaining
		}
	} else {
		o.SetStatus(order.StatusMatched, now)
		o.RemainingVolume = decimal.Decimal{}
	}
	o.LastMatchTime = now
	if o.Kind == order.KindMarket {
		o.Price = executionPrice
	}

	return &Result{
		takerWrapper:               wrapper,
		matched:                    matched,
		Order:                      o,
		CancelledMakers:            cancelled,
		SkippedMakers:              skipped,
		CompletedMakers:            completed,
		Uncompleted:                uncompleted,
		UncompletedState:           uncompletedState,
		Trades:                     trades,
		MakerReports:               makerReports,
		OwnOps:                     ownOps,
		OppositeOps:                oppositeOps,
		RemainingBook:              bookSide[idx:],
		MarketBalance:              marketBalance,
		MatchedWithZeroLatestTrade: matchedZeroTrade,
	}
}

// crossVolume converts the taker's remaining volume into base units at the
// maker's price.
func crossVolume(volume decimal.Decimal, straight bool, price decimal.Decimal) decimal.Decimal {
	if straight {
		return volume
	}
	return numutil.DivideMaxScale(volume, price)
}

// tradeVolume converts a base fill back into the taker's volume units.
func tradeVolume(volume decimal.Decimal, straight bool, price decimal.Decimal) decimal.Decimal {
	if straight {
		return volume
	}
	return volume.Mul(price)
}

func calcExecutionPrice(o *order.Order, pair asset.AssetPair, totalLimitPrice, totalVolume decimal.Decimal) decimal.Decimal {
	var price decimal.Decimal
	if o.IsStraight() {
		price = numutil.DivideMaxScale(totalLimitPrice, o.AbsVolume())
	} else {
		if totalVolume.IsZero() {
			return decimal.Decimal{}
		}
		price = numutil.DivideMaxScale(o.AbsVolume(), totalVolume)
	}
	return numutil.Scale(price, pair.Accuracy, o.IsOrigBuy())
}

func checkMaxVolume(o *order.Order, pair asset.AssetPair, executionPrice decimal.Decimal, hasTakePrice bool) bool {
	switch {
	case hasTakePrice || !pair.HasMaxVolume():
		return true
	case o.IsStraight():
		return o.AbsVolume().Cmp(pair.MaxVolume) <= 0
	case executionPrice.Sign() <= 0:
		return true
	default:
		return numutil.DivideMaxScale(o.AbsVolume(), executionPrice).Cmp(pair.MaxVolume) <= 0
	}
}

func checkMaxValue(o *order.Order, pair asset.AssetPair, executionPrice decimal.Decimal, hasTakePrice bool) bool {
	switch {
	case hasTakePrice || !pair.HasMaxValue():
		return true
	case o.IsStraight():
		return o.AbsVolume().Mul(executionPrice).Cmp(pair.MaxValue) <= 0
	default:
		return o.AbsVolume().Cmp(pair.MaxValue) <= 0
	}
}

// checkPriceDeviation guards a market order against an execution price too
// far from the best price at arrival. Zero threshold or an empty book at
// arrival disables the check.
func checkPriceDeviation(isBuy bool, executionPrice, bestPrice, threshold decimal.Decimal) bool {
	if threshold.Sign() <= 0 || bestPrice.Sign() <= 0 {
		return true
	}
	diff := executionPrice.Sub(bestPrice)
	if !isBuy {
		diff = bestPrice.Sub(executionPrice)
	}
	return numutil.DivideMaxScale(diff, bestPrice).Cmp(threshold) <= 0
}

// checkAndReduceBalance verifies the maker can fund its leg of the trade and
// tracks the running funding already claimed by earlier fills of the same
// client within this walk.
func checkAndReduceBalance(ctx *tx.ExecutionContext, maker *order.Order, volume decimal.Decimal,
	limitBalances map[string]decimal.Decimal) bool {
	pair, ok := ctx.Assets.Pair(maker.AssetPairID)
	if !ok {
		return false
	}
	limitAssetID := pair.FundingAssetID(maker.IsBuy())
	available, seen := limitBalances[maker.ClientID]
	if !seen {
		available = ctx.Wallets.AvailableReservedBalance(maker.ClientID, limitAssetID)
	}
	a, ok := ctx.Assets.Asset(limitAssetID)
	if !ok {
		return false
	}
	result := available.Cmp(volume) >= 0
	ctx.Infof("funds check order %s (client %s): %s %s >= %s is %t",
		maker.ExternalID, maker.ClientID, limitAssetID, available, volume, result)
	if result {
		limitBalances[maker.ClientID] = numutil.ScaleHalfUp(available.Sub(volume), a.Accuracy)
	}
	return result
}
