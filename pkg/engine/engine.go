// Package engine is the single-writer facade over the matching core. Every
// public operation runs as one transaction: build private copies, match or
// cancel on them, persist the outcome, and only then fold it into shared
// state. A persistence failure aborts before any shared mutation.
package engine

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/book"
	"github.com/avetra/matchcore/pkg/engine/cancel"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
	"github.com/avetra/matchcore/pkg/outgoing"
	"github.com/avetra/matchcore/pkg/util"
)

// Persistence stores one transaction atomically. Returning an error aborts
// the transaction before any shared state changed.
type Persistence interface {
	Persist(tx.TransactionData) error
}

// Settings are the business knobs of the engine.
type Settings struct {
	// TrustedClients reserve nothing; internal market makers.
	TrustedClients map[string]struct{}
	// PriceDeviationThreshold rejects market orders whose execution price
	// strays too far from the best price at arrival. Zero disables it.
	PriceDeviationThreshold decimal.Decimal
}

type Engine struct {
	mu sync.Mutex // serializes writers; readers go through the registries

	log       *zap.SugaredLogger
	assets    *asset.Directory
	ledger    *wallet.Ledger
	books     *book.Registry[*book.AssetOrderBook]
	stopBooks *book.Registry[*book.StopOrderBook]
	store     Persistence
	queue     outgoing.Queue
	clock     util.Clock
	ids       util.IDSource
	canceller *cancel.Canceller
	settings  Settings
}

func New(log *zap.SugaredLogger, assets *asset.Directory, store Persistence,
	queue outgoing.Queue, clock util.Clock, ids util.IDSource, settings Settings) *Engine {
	if settings.TrustedClients == nil {
		settings.TrustedClients = make(map[string]struct{})
	}
	return &Engine{
		log:       log,
		assets:    assets,
		ledger:    wallet.NewLedger(),
		books:     book.NewRegistry(),
		stopBooks: book.NewStopRegistry(),
		store:     store,
		queue:     queue,
		clock:     clock,
		ids:       ids,
		canceller: cancel.New(settings.TrustedClients),
		settings:  settings,
	}
}

// Restore seeds books and balances from persisted state at startup. Resting
// stop orders go back to the stop books, everything else to the live books.
func (e *Engine) Restore(orders []order.Order, balances []wallet.AssetBalance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, b := range balances {
		e.ledger.Set(b)
	}
	byPair := make(map[string][]*order.Order)
	stopByPair := make(map[string][]*order.Order)
	for i := range orders {
		o := orders[i].Clone()
		if o.Status.Terminal() {
			continue
		}
		if o.Kind == order.KindStopLimit {
			stopByPair[o.AssetPairID] = append(stopByPair[o.AssetPairID], o)
		} else {
			byPair[o.AssetPairID] = append(byPair[o.AssetPairID], o)
		}
	}
	for pairID, list := range byPair {
		b := book.New(pairID)
		for _, o := range list {
			b.Add(o)
		}
		e.books.SetBook(pairID, b)
		e.books.AddOrders(list)
	}
	for pairID, list := range stopByPair {
		b := book.NewStop(pairID)
		for _, o := range list {
			b.Add(o)
		}
		e.stopBooks.SetBook(pairID, b)
		e.stopBooks.AddOrders(list)
	}
}

func (e *Engine) isTrusted(clientID string) bool {
	_, ok := e.settings.TrustedClients[clientID]
	return ok
}

// newContext builds the transaction scope of one message: an asset snapshot,
// a wallet overlay and copy-on-write holders over both book registries.
func (e *Engine) newContext(messageID string) *tx.ExecutionContext {
	snapshot := e.assets.Snapshot()
	wallets := wallet.NewOperationsProcessor(e.ledger, snapshot, e.settings.TrustedClients, e.log)
	return tx.NewExecutionContext(messageID, e.clock.Now(), snapshot, wallets,
		tx.NewHolder(e.books), tx.NewHolder(e.stopBooks), e.ids, e.log)
}

// commit persists the transaction and folds it into shared state. Nothing
// shared changes when the store rejects the data.
func (e *Engine) commit(ctx *tx.ExecutionContext) error {
	data := ctx.PersistenceData()
	if !data.Empty() {
		if err := e.store.Persist(data); err != nil {
			ctx.Errorf("persistence failed, transaction dropped: %v", err)
			return err
		}
	}
	ctx.Apply(e.queue)
	return nil
}

// addReport routes an order report to the client or trusted stream.
func (e *Engine) addReport(ctx *tx.ExecutionContext, o order.Order, trades ...outgoing.Trade) {
	if e.isTrusted(o.ClientID) && len(trades) == 0 && !o.IsPartiallyMatched() {
		ctx.AddTrustedReport(o)
		return
	}
	ctx.AddClientReport(o, trades...)
}

// OrderBook returns copies of both sides of the live book, best price first.
func (e *Engine) OrderBook(assetPairID string) (bids, asks []order.Order) {
	b := e.books.Book(assetPairID)
	for _, o := range b.SideSnapshot(true) {
		bids = append(bids, *o)
	}
	for _, o := range b.SideSnapshot(false) {
		asks = append(asks, *o)
	}
	return bids, asks
}

// StopOrders returns copies of the pending stop orders of a pair.
func (e *Engine) StopOrders(assetPairID string) (bids, asks []order.Order) {
	b := e.stopBooks.Book(assetPairID)
	for _, o := range b.SideSnapshot(true) {
		bids = append(bids, *o)
	}
	for _, o := range b.SideSnapshot(false) {
		asks = append(asks, *o)
	}
	return bids, asks
}

// Order looks an order up in both registries.
func (e *Engine) Order(id string) (order.Order, bool) {
	if o, ok := e.books.Order(id); ok {
		return *o, true
	}
	if o, ok := e.stopBooks.Order(id); ok {
		return *o, true
	}
	return order.Order{}, false
}

func (e *Engine) Balance(clientID, assetID string) decimal.Decimal {
	return e.ledger.Balance(clientID, assetID)
}

func (e *Engine) ReservedBalance(clientID, assetID string) decimal.Decimal {
	return e.ledger.Reserved(clientID, assetID)
}

func (e *Engine) ClientBalances(clientID string) []wallet.AssetBalance {
	return e.ledger.ClientBalances(clientID)
}

// MidPrice returns the mid of the live best bid and ask.
func (e *Engine) MidPrice(assetPairID string) (decimal.Decimal, bool) {
	return e.books.Book(assetPairID).MidPrice()
}
