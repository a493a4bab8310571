package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

// CancelOrder removes one resting order, refunding its reservation. An
// unknown id is a no-op, not an error: the order may have matched or been
// cancelled a moment earlier.
func (e *Engine) CancelOrder(messageID, orderID string) (order.Order, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	var target *order.Order
	if o, ok := e.books.Order(orderID); ok {
		target = o
		if err := e.canceller.CancelOrders(ctx, []*order.Order{o}, nil, nil, nil); err != nil {
			return order.Order{}, false, err
		}
	} else if s, ok := e.stopBooks.Order(orderID); ok {
		target = s
		if err := e.canceller.CancelOrders(ctx, nil, nil, []*order.Order{s}, nil); err != nil {
			return order.Order{}, false, err
		}
	} else {
		ctx.Infof("cancel of unknown order %s ignored", orderID)
		return order.Order{}, false, nil
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return order.Order{}, false, err
	}
	if err := e.commit(ctx); err != nil {
		return order.Order{}, false, err
	}
	return *target, true, nil
}

// MassCancel removes every resting order of a client, optionally narrowed to
// one asset pair. Empty clientID matches all clients.
func (e *Engine) MassCancel(messageID, clientID, assetPairID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	orders := e.books.SearchOrders(clientID, assetPairID)
	stops := e.stopBooks.SearchOrders(clientID, assetPairID)
	if len(orders) == 0 && len(stops) == 0 {
		return 0, nil
	}
	if err := e.canceller.CancelOrders(ctx, orders, nil, stops, nil); err != nil {
		return 0, err
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return 0, err
	}
	if err := e.commit(ctx); err != nil {
		return 0, err
	}
	return len(orders) + len(stops), nil
}

// CancelMinVolume removes resting orders whose remaining volume fell under
// the pair's minimum, typically after the pair's settings tightened.
func (e *Engine) CancelMinVolume(messageID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	var toCancel []*order.Order
	for _, o := range e.books.AllOrders() {
		pair, ok := ctx.Assets.Pair(o.AssetPairID)
		if !ok {
			continue
		}
		if pair.HasMinVolume() && o.AbsRemainingVolume().Cmp(pair.MinVolume) < 0 {
			toCancel = append(toCancel, o)
		}
	}
	if len(toCancel) == 0 {
		return 0, nil
	}
	if err := e.canceller.CancelOrders(ctx, toCancel, nil, nil, nil); err != nil {
		return 0, err
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return 0, err
	}
	if err := e.commit(ctx); err != nil {
		return 0, err
	}
	return len(toCancel), nil
}

// Wipe cancels every resting order in the venue, stop orders included.
func (e *Engine) Wipe(messageID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	orders := e.books.AllOrders()
	stops := e.stopBooks.AllOrders()
	if len(orders) == 0 && len(stops) == 0 {
		return 0, nil
	}
	if err := e.canceller.CancelOrders(ctx, orders, nil, stops, nil); err != nil {
		return 0, err
	}
	if err := e.commit(ctx); err != nil {
		return 0, err
	}
	return len(orders) + len(stops), nil
}

// ExpireDue removes every resting order whose lifetime ran out.
func (e *Engine) ExpireDue(messageID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	var orders, stops []*order.Order
	for _, o := range e.books.AllOrders() {
		if o.IsExpired(ctx.Date) {
			orders = append(orders, o)
		}
	}
	for _, s := range e.stopBooks.AllOrders() {
		if s.IsExpired(ctx.Date) {
			stops = append(stops, s)
		}
	}
	if len(orders) == 0 && len(stops) == 0 {
		return 0, nil
	}
	if err := e.canceller.ExpireOrders(ctx, orders, stops); err != nil {
		return 0, err
	}
	if err := e.processTriggeredStops(ctx); err != nil {
		return 0, err
	}
	if err := e.commit(ctx); err != nil {
		return 0, err
	}
	return len(orders) + len(stops), nil
}

// CashInOut credits (positive amount) or debits (negative amount) a client
// balance. A debit below the free balance fails with *wallet.BalanceError.
func (e *Engine) CashInOut(messageID, clientID, assetID string, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := e.newContext(messageID)
	if _, ok := ctx.Assets.Asset(assetID); !ok {
		return fmt.Errorf("cash operation for unknown asset %q", assetID)
	}
	op := wallet.Operation{ClientID: clientID, AssetID: assetID, Amount: amount}
	if err := ctx.Wallets.PreProcess([]wallet.Operation{op}, false); err != nil {
		return err
	}
	return e.commit(ctx)
}
