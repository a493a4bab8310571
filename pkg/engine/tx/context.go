package tx

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/book"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/wallet"
	"github.com/avetra/matchcore/pkg/outgoing"
	"github.com/avetra/matchcore/pkg/util"
)

// ExecutionContext is the working state of one incoming message: private
// book copies, a wallet overlay, collected order reports and a trade index
// counter. Matching and cancellation accumulate into it; the engine then
// persists PersistenceData and calls Apply, or drops the context entirely.
type ExecutionContext struct {
	MessageID string
	Date      time.Time

	Assets    *asset.Snapshot
	Wallets   *wallet.OperationsProcessor
	Books     *Holder[*book.AssetOrderBook]
	StopBooks *Holder[*book.StopOrderBook]
	IDs       util.IDSource

	log        *zap.SugaredLogger
	tradeIndex int

	clientReports  []outgoing.OrderReport
	clientByID     map[string]int
	trustedReports []outgoing.OrderReport
	trustedByID    map[string]int
}

func NewExecutionContext(messageID string, date time.Time, assets *asset.Snapshot,
	wallets *wallet.OperationsProcessor, books *Holder[*book.AssetOrderBook],
	stopBooks *Holder[*book.StopOrderBook], ids util.IDSource, log *zap.SugaredLogger) *ExecutionContext {
	return &ExecutionContext{
		MessageID:   messageID,
		Date:        date,
		Assets:      assets,
		Wallets:     wallets,
		Books:       books,
		StopBooks:   stopBooks,
		IDs:         ids,
		log:         log,
		clientByID:  make(map[string]int),
		trustedByID: make(map[string]int),
	}
}

// NextTradeIndex numbers the fills produced within this transaction.
func (c *ExecutionContext) NextTradeIndex() int {
	i := c.tradeIndex
	c.tradeIndex++
	return i
}

func (c *ExecutionContext) Infof(format string, args ...any) {
	c.log.Infof("["+c.MessageID+"] "+format, args...)
}

func (c *ExecutionContext) Errorf(format string, args ...any) {
	c.log.Errorf("["+c.MessageID+"] "+format, args...)
}

// AddClientReport records the state of an order owned by a regular client.
// A later report for the same order replaces the order state and appends the
// trades; an earlier trusted report for it is superseded and dropped.
func (c *ExecutionContext) AddClientReport(o order.Order, trades ...outgoing.Trade) {
	if i, ok := c.trustedByID[o.ID]; ok {
		trades = append(c.trustedReports[i].Trades, trades...)
		c.trustedReports = append(c.trustedReports[:i], c.trustedReports[i+1:]...)
		delete(c.trustedByID, o.ID)
		for id, j := range c.trustedByID {
			if j > i {
				c.trustedByID[id] = j - 1
			}
		}
	}
	if i, ok := c.clientByID[o.ID]; ok {
		c.clientReports[i].Order = o
		c.clientReports[i].Trades = append(c.clientReports[i].Trades, trades...)
		return
	}
	c.clientByID[o.ID] = len(c.clientReports)
	c.clientReports = append(c.clientReports, outgoing.OrderReport{Order: o, Trades: trades})
}

// AddTrustedReport records the state of an order owned by a trusted client.
// An order already reported on the client side stays there.
func (c *ExecutionContext) AddTrustedReport(o order.Order, trades ...outgoing.Trade) {
	if i, ok := c.clientByID[o.ID]; ok {
		c.clientReports[i].Order = o
		c.clientReports[i].Trades = append(c.clientReports[i].Trades, trades...)
		return
	}
	if i, ok := c.trustedByID[o.ID]; ok {
		c.trustedReports[i].Order = o
		c.trustedReports[i].Trades = append(c.trustedReports[i].Trades, trades...)
		return
	}
	c.trustedByID[o.ID] = len(c.trustedReports)
	c.trustedReports = append(c.trustedReports, outgoing.OrderReport{Order: o, Trades: trades})
}

// Reports returns the collected client reports in arrival order.
func (c *ExecutionContext) Reports() []outgoing.OrderReport { return c.clientReports }

// PersistenceData assembles the store payload for this transaction.
func (c *ExecutionContext) PersistenceData() TransactionData {
	data := TransactionData{MessageID: c.MessageID}
	c.Books.appendPersistence(&data)
	c.StopBooks.appendPersistence(&data)
	data.Balances = c.Wallets.PersistenceBalances()
	sort.Slice(data.OrdersToSave, func(i, j int) bool {
		return data.OrdersToSave[i].ID < data.OrdersToSave[j].ID
	})
	sort.Strings(data.OrderIDsToRemove)
	return data
}

// Apply publishes the transaction: wallet overlay, both book holders, then
// the outgoing events. Must be called with the engine write lock held, after
// persistence has succeeded.
func (c *ExecutionContext) Apply(queue outgoing.Queue) {
	updates := c.Wallets.Apply()
	c.Books.Apply(c.Date)
	c.StopBooks.Apply(c.Date)

	if len(c.clientReports) > 0 || len(c.trustedReports) > 0 {
		queue.Put(outgoing.ExecutionEvent{
			MessageID:      c.MessageID,
			Timestamp:      c.Date,
			Reports:        c.clientReports,
			TrustedReports: c.trustedReports,
		})
	}
	if len(updates) > 0 {
		queue.Put(outgoing.BalanceUpdateEvent{
			MessageID: c.MessageID,
			Timestamp: c.Date,
			Updates:   updates,
		})
	}

	sides := c.Books.ChangedSides()
	sort.Slice(sides, func(i, j int) bool {
		if sides[i].AssetPairID != sides[j].AssetPairID {
			return sides[i].AssetPairID < sides[j].AssetPairID
		}
		return !sides[i].IsBuy && sides[j].IsBuy
	})
	for _, k := range sides {
		live := c.Books.Registry().Book(k.AssetPairID)
		snapshot := live.SideSnapshot(k.IsBuy)
		orders := make([]order.Order, len(snapshot))
		for i, o := range snapshot {
			orders[i] = *o
		}
		queue.Put(outgoing.BookSnapshotEvent{
			AssetPairID: k.AssetPairID,
			IsBuy:       k.IsBuy,
			Timestamp:   c.Date,
			Orders:      orders,
		})
	}
}
