package engine

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/matching"
	"github.com/avetra/matchcore/pkg/engine/numutil"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

// PlaceLimitOrder runs one limit order through the book: validate, match
// what crosses, rest the remainder. The returned order carries the final
// status; business rejections are statuses, not errors. An error means the
// transaction could not be committed and nothing changed.
func (e *Engine) PlaceLimitOrder(messageID string, incoming *order.Order) (order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	e.prepare(ctx, incoming)
	if status, ok := e.validateLimitOrder(ctx, incoming); !ok {
		return e.rejectIncoming(ctx, incoming, status)
	}
	if err := e.processLimitOrder(ctx, incoming); err != nil {
		return order.Order{}, err
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return order.Order{}, err
	}
	if err := e.commit(ctx); err != nil {
		return order.Order{}, err
	}
	return *incoming, nil
}

// PlaceMarketOrder executes a market order against the book. Volume is in
// the base asset when incoming.Straight, otherwise in the quote asset.
func (e *Engine) PlaceMarketOrder(messageID string, incoming *order.Order) (order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	e.prepare(ctx, incoming)
	if status, ok := e.validateMarketOrder(ctx, incoming); !ok {
		return e.rejectIncoming(ctx, incoming, status)
	}

	side := ctx.Books.Book(incoming.AssetPairID).SideSnapshot(!incoming.IsBuy())
	res := matching.Match(ctx, incoming, side, nil, e.settings.PriceDeviationThreshold)
	if err := e.settleMatch(ctx, incoming, res); err != nil {
		return order.Order{}, err
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return order.Order{}, err
	}
	if err := e.commit(ctx); err != nil {
		return order.Order{}, err
	}
	return *incoming, nil
}

// PlaceStopLimitOrder parks a stop-limit order until its trigger, or
// converts it to a limit order right away when the trigger is already met.
func (e *Engine) PlaceStopLimitOrder(messageID string, incoming *order.Order) (order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	e.prepare(ctx, incoming)
	if status, ok := e.validateStopLimitOrder(ctx, incoming); !ok {
		return e.rejectIncoming(ctx, incoming, status)
	}

	b := ctx.Books.Book(incoming.AssetPairID)
	ref := b.BestBidPrice()
	if incoming.IsBuy() {
		ref = b.BestAskPrice()
	}
	if execPrice, ok := incoming.StopExecutionPrice(ref); ok {
		ctx.Infof("stop order %s triggers immediately at %s", incoming.ExternalID, execPrice)
		incoming.Kind = order.KindLimit
		incoming.Price = execPrice
		if err := e.processLimitOrder(ctx, incoming); err != nil {
			return order.Order{}, err
		}
	} else {
		if !e.isTrusted(incoming.ClientID) {
			pair, _ := ctx.Assets.Pair(incoming.AssetPairID)
			fundingID := pair.FundingAssetID(incoming.IsBuy())
			fundingAsset, _ := ctx.Assets.Asset(fundingID)
			reserved := numutil.Scale(stopReservedVolume(incoming), fundingAsset.Accuracy, true)
			op := wallet.Operation{ClientID: incoming.ClientID, AssetID: fundingID, ReservedAmount: reserved}
			if err := ctx.Wallets.PreProcess([]wallet.Operation{op}, false); err != nil {
				var balErr *wallet.BalanceError
				if errors.As(err, &balErr) {
					return e.rejectIncoming(ctx, incoming, order.StatusNotEnoughFunds)
				}
				return order.Order{}, err
			}
			incoming.ReservedVolume = reserved
		}
		incoming.SetStatus(order.StatusPending, ctx.Date)
		ctx.StopBooks.AddOrder(incoming)
		e.addReport(ctx, *incoming)
	}

	if err := e.processTriggeredStops(ctx); err != nil {
		return order.Order{}, err
	}
	if err := e.commit(ctx); err != nil {
		return order.Order{}, err
	}
	return *incoming, nil
}

// prepare stamps engine-assigned fields on an incoming order.
func (e *Engine) prepare(ctx *tx.ExecutionContext, o *order.Order) {
	if o.ID == "" {
		o.ID = e.ids.NextID()
	}
	if o.ExternalID == "" {
		o.ExternalID = o.ID
	}
	o.Registered = ctx.Date
	o.StatusDate = ctx.Date
}

// rejectIncoming reports a validation rejection and commits the (otherwise
// empty) transaction so the report reaches the queue.
func (e *Engine) rejectIncoming(ctx *tx.ExecutionContext, o *order.Order, status order.Status) (order.Order, error) {
	o.SetStatus(status, ctx.Date)
	ctx.Infof("order %s (client %s) rejected: %s", o.ExternalID, o.ClientID, status)
	e.addReport(ctx, *o)
	if err := e.commit(ctx); err != nil {
		return order.Order{}, err
	}
	return *o, nil
}

// processLimitOrder matches a limit (or converted stop) order inside the
// transaction and rests the remainder in the book.
func (e *Engine) processLimitOrder(ctx *tx.ExecutionContext, o *order.Order) error {
	side := ctx.Books.Book(o.AssetPairID).SideSnapshot(!o.IsBuy())
	res := matching.Match(ctx, o, side, nil, decimal.Decimal{})
	return e.settleMatch(ctx, o, res)
}

// settleMatch turns a matching result into transaction state: wallet
// operations, book updates, removals and reports. Rejection results only
// produce reports and maker cancellations.
func (e *Engine) settleMatch(ctx *tx.ExecutionContext, o *order.Order, res *matching.Result) error {
	if res.Order.Status.Rejected() {
		if err := e.canceller.CancelOrders(ctx, res.CancelledMakers, nil, nil, nil); err != nil {
			return err
		}
		e.addReport(ctx, *res.Order)
		return nil
	}

	pair, ok := ctx.Assets.Pair(o.AssetPairID)
	if !ok {
		e.addReport(ctx, *res.Order)
		return nil
	}

	rests := res.Order.Kind != order.KindMarket && res.Order.RemainingVolume.Sign() != 0
	ops := make([]wallet.Operation, 0, len(res.OwnOps)+len(res.OppositeOps)+1)
	ops = append(ops, res.OwnOps...)
	ops = append(ops, res.OppositeOps...)
	if rests && !e.isTrusted(o.ClientID) {
		fundingID := pair.FundingAssetID(res.Order.IsBuy())
		fundingAsset, _ := ctx.Assets.Asset(fundingID)
		newReserved := numutil.Scale(res.Order.ComputeReservedVolume(), fundingAsset.Accuracy, true)
		ops = append(ops, wallet.Operation{
			ClientID:       o.ClientID,
			AssetID:        fundingID,
			ReservedAmount: newReserved.Sub(res.Order.ReservedVolume),
		})
		res.Order.ReservedVolume = newReserved
	}
	if rests && res.Order.Status == order.StatusPlaced {
		res.Order.SetStatus(order.StatusInOrderBook, ctx.Date)
	}

	if err := ctx.Wallets.PreProcess(ops, false); err != nil {
		var balErr *wallet.BalanceError
		if errors.As(err, &balErr) {
			ctx.Infof("trade funds check failed for order %s: %v", o.ExternalID, err)
			state := *o
			state.SetStatus(order.StatusNotEnoughFunds, ctx.Date)
			e.addReport(ctx, state)
			return nil
		}
		return err
	}

	res.Apply()

	newSide := make([]*order.Order, 0, len(res.RemainingBook)+len(res.SkippedMakers)+1)
	newSide = append(newSide, res.RemainingBook...)
	newSide = append(newSide, res.SkippedMakers...)
	if res.Uncompleted != nil {
		newSide = append(newSide, res.Uncompleted.Origin)
	}
	b := ctx.Books.Book(o.AssetPairID)
	b.SetSide(!res.Order.IsBuy(), newSide)
	ctx.Books.Touch(o.AssetPairID, !res.Order.IsBuy())

	if len(res.CompletedMakers) > 0 {
		completed := make([]*order.Order, len(res.CompletedMakers))
		for i, w := range res.CompletedMakers {
			completed[i] = w.Origin
		}
		ctx.Books.RemoveOrders(order.StatusMatched, completed)
	}
	if err := e.canceller.CancelOrders(ctx, res.CancelledMakers, nil, nil, nil); err != nil {
		return err
	}
	if rests {
		ctx.Books.AddOrder(o)
	}

	e.addReport(ctx, *res.Order, res.Trades...)
	for _, r := range res.MakerReports {
		if e.isTrusted(r.Order.ClientID) {
			ctx.AddTrustedReport(r.Order, r.Trades...)
		} else {
			ctx.AddClientReport(r.Order, r.Trades...)
		}
	}
	return nil
}

// processTriggeredStops converts pending stop orders whose trigger price was
// reached by this transaction's book changes. Each conversion may move the
// book and trigger further stops; the loop drains them one at a time.
func (e *Engine) processTriggeredStops(ctx *tx.ExecutionContext) error {
	for {
		s, execPrice, found := e.findTriggeredStop(ctx)
		if !found {
			return nil
		}
		ctx.Infof("stop order %s triggered, converting to limit at %s", s.ExternalID, execPrice)
		if err := e.canceller.CancelOrders(ctx, nil, nil, nil, []*order.Order{s}); err != nil {
			return err
		}
		child := order.NewLimitOrder(e.ids.NextID(), s.ExternalID, s.AssetPairID, s.ClientID,
			s.RemainingVolume, execPrice, s.CreatedAt, ctx.Date)
		child.ExpiresAt = s.ExpiresAt
		if err := e.processLimitOrder(ctx, child); err != nil {
			return err
		}
	}
}

func (e *Engine) findTriggeredStop(ctx *tx.ExecutionContext) (*order.Order, decimal.Decimal, bool) {
	seen := make(map[string]struct{})
	for _, k := range ctx.Books.ChangedSides() {
		if _, ok := seen[k.AssetPairID]; ok {
			continue
		}
		seen[k.AssetPairID] = struct{}{}
		b := ctx.Books.Book(k.AssetPairID)
		sb := ctx.StopBooks.Book(k.AssetPairID)
		triggered := sb.Triggered(b.BestBidPrice(), b.BestAskPrice())
		if len(triggered) == 0 {
			continue
		}
		s := triggered[0]
		ref := b.BestBidPrice()
		if s.IsBuy() {
			ref = b.BestAskPrice()
		}
		execPrice, _ := s.StopExecutionPrice(ref)
		return s, execPrice, true
	}
	return nil, decimal.Decimal{}, false
}

func stopReservedVolume(o *order.Order) decimal.Decimal {
	if !o.IsBuy() {
		return o.AbsVolume()
	}
	price := o.UpperPrice
	if price.Sign() <= 0 {
		price = o.LowerPrice
	}
	return o.AbsVolume().Mul(price)
}
