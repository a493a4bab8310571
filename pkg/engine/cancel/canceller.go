// Package cancel takes resting orders out of the books and refunds what they
// had reserved. It works entirely inside an execution context; the caller
// persists and applies.
package cancel

import (
	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/numutil"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

type Canceller struct {
	trusted map[string]struct{}
}

func New(trusted map[string]struct{}) *Canceller {
	return &Canceller{trusted: trusted}
}

func (c *Canceller) isTrusted(clientID string) bool {
	_, ok := c.trusted[clientID]
	return ok
}

// CancelOrders removes the given resting limit and stop orders, refunding
// reservations. Replace batches get StatusReplaced instead of
// StatusCancelled. Refunds are pre-processed with invalid balances allowed:
// a cancel must not fail because a balance already drifted.
func (c *Canceller) CancelOrders(ctx *tx.ExecutionContext,
	toCancel, toReplace, stopToCancel, stopToReplace []*order.Order) error {

	limitOrders := concat(toCancel, toReplace)
	stopOrders := concat(stopToCancel, stopToReplace)

	ops := make([]wallet.Operation, 0, len(limitOrders)+len(stopOrders))
	for _, o := range limitOrders {
		if op, ok := c.refundOperation(ctx, o, limitOrderReservedVolume); ok {
			ops = append(ops, op)
		}
	}
	for _, o := range stopOrders {
		if op, ok := c.refundOperation(ctx, o, stopOrderReservedVolume); ok {
			ops = append(ops, op)
		}
	}
	if err := ctx.Wallets.PreProcess(ops, true); err != nil {
		return err
	}

	ctx.Books.RemoveOrders(order.StatusCancelled, toCancel)
	ctx.Books.RemoveOrders(order.StatusReplaced, toReplace)
	ctx.StopBooks.RemoveOrders(order.StatusCancelled, stopToCancel)
	ctx.StopBooks.RemoveOrders(order.StatusReplaced, stopToReplace)

	c.report(ctx, toCancel, order.StatusCancelled)
	c.report(ctx, toReplace, order.StatusReplaced)
	c.report(ctx, stopToCancel, order.StatusCancelled)
	c.report(ctx, stopToReplace, order.StatusReplaced)
	return nil
}

// ExpireOrders removes resting orders whose lifetime ran out, with
// StatusExpired and the same refund rules as a cancel.
func (c *Canceller) ExpireOrders(ctx *tx.ExecutionContext, orders, stopOrders []*order.Order) error {
	ops := make([]wallet.Operation, 0, len(orders)+len(stopOrders))
	for _, o := range orders {
		if op, ok := c.refundOperation(ctx, o, limitOrderReservedVolume); ok {
			ops = append(ops, op)
		}
	}
	for _, o := range stopOrders {
		if op, ok := c.refundOperation(ctx, o, stopOrderReservedVolume); ok {
			ops = append(ops, op)
		}
	}
	if err := ctx.Wallets.PreProcess(ops, true); err != nil {
		return err
	}
	ctx.Books.RemoveOrders(order.StatusExpired, orders)
	ctx.StopBooks.RemoveOrders(order.StatusExpired, stopOrders)
	c.report(ctx, orders, order.StatusExpired)
	c.report(ctx, stopOrders, order.StatusExpired)
	return nil
}

// refundOperation releases the reservation of one cancelled order, capped at
// the client's current reserved balance so a drifted reservation cannot push
// it negative. Trusted clients reserve nothing; an order whose pair left the
// directory keeps its reservation, there is no accuracy to compute the refund
// with.
func (c *Canceller) refundOperation(ctx *tx.ExecutionContext, o *order.Order,
	reserved func(*order.Order, asset.Asset) decimal.Decimal) (wallet.Operation, bool) {
	if c.isTrusted(o.ClientID) {
		return wallet.Operation{}, false
	}
	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		ctx.Infof("reserved balance of order %s not refunded, asset pair %s not found",
			o.ExternalID, o.AssetPairID)
		return wallet.Operation{}, false
	}
	limitAssetID := pair.FundingAssetID(o.IsBuy())
	limitAsset, ok := ctx.Assets.Asset(limitAssetID)
	if !ok {
		ctx.Infof("reserved balance of order %s not refunded, asset %s not found",
			o.ExternalID, limitAssetID)
		return wallet.Operation{}, false
	}
	reservedBalance := ctx.Wallets.ReservedBalance(o.ClientID, limitAssetID)
	if reservedBalance.Sign() <= 0 {
		return wallet.Operation{}, false
	}
	refund := reserved(o, limitAsset)
	if refund.Cmp(reservedBalance) > 0 {
		refund = reservedBalance
	}
	return wallet.Operation{
		ClientID:       o.ClientID,
		AssetID:        limitAssetID,
		ReservedAmount: refund.Neg(),
	}, true
}

func (c *Canceller) report(ctx *tx.ExecutionContext, orders []*order.Order, status order.Status) {
	for _, o := range orders {
		state := *o
		state.SetStatus(status, ctx.Date)
		if c.isTrusted(o.ClientID) && !o.IsPartiallyMatched() {
			ctx.AddTrustedReport(state)
		} else {
			ctx.AddClientReport(state)
		}
	}
}

func limitOrderReservedVolume(o *order.Order, limitAsset asset.Asset) decimal.Decimal {
	if o.ReservedVolume.Sign() > 0 {
		return o.ReservedVolume
	}
	if o.IsBuy() {
		return numutil.Scale(o.AbsRemainingVolume().Mul(o.Price), limitAsset.Accuracy, false)
	}
	return o.AbsRemainingVolume()
}

func stopOrderReservedVolume(o *order.Order, limitAsset asset.Asset) decimal.Decimal {
	if o.ReservedVolume.Sign() > 0 {
		return o.ReservedVolume
	}
	if o.IsBuy() {
		price := o.UpperPrice
		if price.Sign() <= 0 {
			price = o.LowerPrice
		}
		return o.Volume.Mul(price)
	}
	return o.AbsRemainingVolume()
}

func concat(a, b []*order.Order) []*order.Order {
	out := make([]*order.Order, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
