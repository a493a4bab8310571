package engine

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
	"github.com/avetra/matchcore/pkg/outgoing"
	"github.com/avetra/matchcore/pkg/util"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memStore collects persisted transactions; fail injects a storage outage.
type memStore struct {
	persisted []tx.TransactionData
	fail      error
}

func (s *memStore) Persist(data tx.TransactionData) error {
	if s.fail != nil {
		return s.fail
	}
	s.persisted = append(s.persisted, data)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type env struct {
	eng   *Engine
	store *memStore
	queue *outgoing.CollectQueue
	clock *fakeClock
	seq   int
}

func defaultPair() asset.AssetPair {
	return asset.AssetPair{ID: "BTCUSD", BaseAssetID: "BTC", QuoteAssetID: "USD", Accuracy: 2}
}

func newEnv(pair asset.AssetPair, settings Settings) *env {
	dir := asset.NewDirectory(
		[]asset.Asset{{ID: "BTC", Accuracy: 8}, {ID: "USD", Accuracy: 2}},
		[]asset.AssetPair{pair},
	)
	store := &memStore{}
	queue := &outgoing.CollectQueue{}
	clock := &fakeClock{now: baseTime}
	eng := New(zap.NewNop().Sugar(), dir, store, queue, clock, &util.SeqIDSource{Prefix: "id"}, settings)
	return &env{eng: eng, store: store, queue: queue, clock: clock}
}

func (e *env) seed(clientID, assetID, balance, reserved string) {
	e.eng.Restore(nil, []wallet.AssetBalance{{
		ClientID: clientID, AssetID: assetID,
		Balance: dec(balance), Reserved: dec(reserved),
	}})
}

func (e *env) msg() string {
	e.seq++
	return "msg-" + strconv.Itoa(e.seq)
}

func (e *env) placeLimit(t *testing.T, clientID, volume, price string) order.Order {
	t.Helper()
	o := order.NewLimitOrder("", "", "BTCUSD", clientID, dec(volume), dec(price), e.clock.now, e.clock.now)
	placed, err := e.eng.PlaceLimitOrder(e.msg(), o)
	require.NoError(t, err)
	return placed
}

func (e *env) placeMarket(t *testing.T, clientID, volume string, straight bool) order.Order {
	t.Helper()
	o := order.NewMarketOrder("", "", "BTCUSD", clientID, dec(volume), straight, e.clock.now, e.clock.now)
	placed, err := e.eng.PlaceMarketOrder(e.msg(), o)
	require.NoError(t, err)
	return placed
}

func TestPlaceLimitOrderRests(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")

	placed := e.placeLimit(t, "c1", "1", "100")

	assert.Equal(t, order.StatusInOrderBook, placed.Status)
	assert.True(t, placed.ReservedVolume.Equal(dec("100")))
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("1000")))
	assert.True(t, e.eng.ReservedBalance("c1", "USD").Equal(dec("100")))

	bids, asks := e.eng.OrderBook("BTCUSD")
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.Equal(t, placed.ID, bids[0].ID)

	got, ok := e.eng.Order(placed.ID)
	require.True(t, ok)
	assert.Equal(t, order.StatusInOrderBook, got.Status)

	require.Len(t, e.store.persisted, 1)
	data := e.store.persisted[0]
	require.Len(t, data.OrdersToSave, 1)
	assert.Equal(t, placed.ID, data.OrdersToSave[0].ID)
	require.Len(t, data.Balances, 1)
	assert.True(t, data.Balances[0].Reserved.Equal(dec("100")))
}

func TestLimitOrdersCrossAndSettle(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("maker", "BTC", "1", "0")
	e.seed("taker", "USD", "500", "0")

	sold := e.placeLimit(t, "maker", "-1", "100")
	assert.Equal(t, order.StatusInOrderBook, sold.Status)

	bought := e.placeLimit(t, "taker", "1", "100")
	assert.Equal(t, order.StatusMatched, bought.Status)
	assert.True(t, bought.RemainingVolume.IsZero())

	assert.True(t, e.eng.Balance("taker", "USD").Equal(dec("400")))
	assert.True(t, e.eng.Balance("taker", "BTC").Equal(dec("1")))
	assert.True(t, e.eng.Balance("maker", "BTC").IsZero())
	assert.True(t, e.eng.Balance("maker", "USD").Equal(dec("100")))
	assert.True(t, e.eng.ReservedBalance("maker", "BTC").IsZero())

	bids, asks := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.Empty(t, asks)
	_, ok := e.eng.Order(sold.ID)
	assert.False(t, ok)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("maker", "BTC", "1", "0")
	e.seed("taker", "USD", "1000", "0")

	e.placeLimit(t, "maker", "-1", "100")
	bought := e.placeLimit(t, "taker", "2", "100")

	assert.Equal(t, order.StatusProcessing, bought.Status)
	assert.True(t, bought.RemainingVolume.Equal(dec("1")))
	assert.True(t, bought.ReservedVolume.Equal(dec("100")), "reservation covers the unfilled remainder")

	assert.True(t, e.eng.Balance("taker", "USD").Equal(dec("900")))
	assert.True(t, e.eng.ReservedBalance("taker", "USD").Equal(dec("100")))
	bids, _ := e.eng.OrderBook("BTCUSD")
	require.Len(t, bids, 1)
	assert.True(t, bids[0].RemainingVolume.Equal(dec("1")))
}

// An incoming market sell must execute at the best bid, not the oldest one.
func TestMarketSellFillsBestBid(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("maker-a", "USD", "10000", "0")
	e.seed("maker-b", "USD", "10000", "0")
	e.seed("seller", "BTC", "1", "0")

	low := e.placeLimit(t, "maker-a", "0.5", "3500")
	e.clock.now = e.clock.now.Add(time.Second)
	high := e.placeLimit(t, "maker-b", "0.5", "6500")
	e.clock.now = e.clock.now.Add(time.Second)

	res := e.placeMarket(t, "seller", "-0.25", true)

	assert.Equal(t, order.StatusMatched, res.Status)
	assert.True(t, res.Price.Equal(dec("6500")))

	assert.True(t, e.eng.Balance("seller", "BTC").Equal(dec("0.75")))
	assert.True(t, e.eng.Balance("seller", "USD").Equal(dec("1625")))
	assert.True(t, e.eng.Balance("maker-b", "BTC").Equal(dec("0.25")))
	assert.True(t, e.eng.Balance("maker-b", "USD").Equal(dec("8375")))
	assert.True(t, e.eng.ReservedBalance("maker-b", "USD").Equal(dec("1625")))
	// the lower bid is untouched
	assert.True(t, e.eng.ReservedBalance("maker-a", "USD").Equal(dec("1750")))

	bids, _ := e.eng.OrderBook("BTCUSD")
	require.Len(t, bids, 2)
	assert.Equal(t, high.ID, bids[0].ID)
	assert.True(t, bids[0].RemainingVolume.Equal(dec("0.25")))
	assert.Equal(t, low.ID, bids[1].ID)
	assert.True(t, bids[1].RemainingVolume.Equal(dec("0.5")))
}

// Crossing one's own resting order is rejected before matching, even when a
// better-priced order of another client would have absorbed the fill first.
func TestLimitOrderCrossingOwnOrderRejected(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("other", "BTC", "1", "0")
	e.seed("self", "BTC", "1", "0")
	e.seed("self", "USD", "1000", "0")

	e.placeLimit(t, "other", "-1", "99")
	e.placeLimit(t, "self", "-1", "100")

	o := order.NewLimitOrder("", "", "BTCUSD", "self", dec("1"), dec("100"), e.clock.now, e.clock.now)
	placed, err := e.eng.PlaceLimitOrder(e.msg(), o)
	require.NoError(t, err)
	assert.Equal(t, order.StatusLeadToNegativeSpread, placed.Status)

	// nothing traded
	_, asks := e.eng.OrderBook("BTCUSD")
	assert.Len(t, asks, 2)
	assert.True(t, e.eng.Balance("self", "USD").Equal(dec("1000")))
	assert.True(t, e.eng.Balance("other", "BTC").Equal(dec("1")))
}

// A cash-out below the free balance is rejected and leaves balances alone.
func TestCashOutBelowFreeBalanceRejected(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "250")

	err := e.eng.CashInOut("msg-cash", "c1", "USD", dec("-760"))
	var balErr *wallet.BalanceError
	require.ErrorAs(t, err, &balErr)

	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("1000")))
	assert.True(t, e.eng.ReservedBalance("c1", "USD").Equal(dec("250")))
	assert.Empty(t, e.store.persisted)
}

func TestCashInOut(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})

	require.NoError(t, e.eng.CashInOut("msg-1", "c1", "USD", dec("500")))
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("500")))
	require.NoError(t, e.eng.CashInOut("msg-2", "c1", "USD", dec("-200")))
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("300")))
	require.Len(t, e.store.persisted, 2)

	err := e.eng.CashInOut("msg-3", "c1", "XXX", dec("1"))
	require.Error(t, err)
}

// Cancelling everything a client has zeroes its reservations in every asset.
func TestMassCancelReleasesAllReservations(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")
	e.seed("c1", "BTC", "1", "0")

	e.placeLimit(t, "c1", "0.1", "3000")
	e.placeLimit(t, "c1", "-0.2", "4000")
	stop := order.NewStopLimitOrder("", "", "BTCUSD", "c1", dec("0.1"),
		decimal.Decimal{}, decimal.Decimal{}, dec("5000"), dec("5100"), e.clock.now, e.clock.now)
	placedStop, err := e.eng.PlaceStopLimitOrder(e.msg(), stop)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, placedStop.Status)

	assert.True(t, e.eng.ReservedBalance("c1", "USD").Equal(dec("810")), "300 for the bid plus 510 for the stop")
	assert.True(t, e.eng.ReservedBalance("c1", "BTC").Equal(dec("0.2")))

	n, err := e.eng.MassCancel(e.msg(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	assert.True(t, e.eng.ReservedBalance("c1", "BTC").IsZero())
	bids, asks := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.Empty(t, asks)
	stopBids, stopAsks := e.eng.StopOrders("BTCUSD")
	assert.Empty(t, stopBids)
	assert.Empty(t, stopAsks)
}

func TestCancelOrder(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")

	placed := e.placeLimit(t, "c1", "1", "100")
	cancelled, ok, err := e.eng.CancelOrder(e.msg(), placed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, placed.ID, cancelled.ID)

	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	bids, _ := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)

	_, ok, err = e.eng.CancelOrder(e.msg(), "no-such-order")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRestoredOrderWithDriftedReservation(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})

	o := *order.NewLimitOrder("o1", "o1", "BTCUSD", "c1", dec("1"), dec("100"), baseTime, baseTime)
	o.Status = order.StatusInOrderBook
	o.ReservedVolume = dec("100")
	e.eng.Restore([]order.Order{o}, []wallet.AssetBalance{
		{ClientID: "c1", AssetID: "USD", Balance: dec("1000"), Reserved: dec("50")},
	})

	_, ok, err := e.eng.CancelOrder(e.msg(), "o1")
	require.NoError(t, err)
	require.True(t, ok)

	// the refund stops at what was actually reserved
	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("1000")))
}

func TestPersistenceFailureAbortsTransaction(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")
	e.store.fail = errors.New("disk gone")

	o := order.NewLimitOrder("", "", "BTCUSD", "c1", dec("1"), dec("100"), e.clock.now, e.clock.now)
	_, err := e.eng.PlaceLimitOrder(e.msg(), o)
	require.Error(t, err)

	// nothing shared changed and no event leaked out
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("1000")))
	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	bids, _ := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.Empty(t, e.queue.All())

	// the engine keeps working once the store recovers
	e.store.fail = nil
	placed := e.placeLimit(t, "c1", "1", "100")
	assert.Equal(t, order.StatusInOrderBook, placed.Status)
}

func TestValidationRejectionIsReportedNotFailed(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")

	o := order.NewLimitOrder("", "", "BTCUSD", "c1", dec("1"), dec("100.123"), e.clock.now, e.clock.now)
	placed, err := e.eng.PlaceLimitOrder(e.msg(), o)
	require.NoError(t, err)
	assert.Equal(t, order.StatusInvalidPriceAccuracy, placed.Status)

	bids, _ := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.Empty(t, e.store.persisted)

	// the rejection still reaches the outgoing feed
	events := e.queue.All()
	require.Len(t, events, 1)
	exec, ok := events[0].(outgoing.ExecutionEvent)
	require.True(t, ok)
	require.Len(t, exec.Reports, 1)
	assert.Equal(t, order.StatusInvalidPriceAccuracy, exec.Reports[0].Order.Status)
}

func TestStopOrderTriggersWhenBookMoves(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("mk-a", "BTC", "1", "0")
	e.seed("mk-b", "BTC", "1", "0")
	e.seed("st", "USD", "1000", "0")
	e.seed("buyer", "USD", "1000", "0")

	e.placeLimit(t, "mk-a", "-1", "100")
	e.placeLimit(t, "mk-b", "-1", "115")

	stop := order.NewStopLimitOrder("", "", "BTCUSD", "st", dec("0.5"),
		decimal.Decimal{}, decimal.Decimal{}, dec("110"), dec("115"), e.clock.now, e.clock.now)
	placedStop, err := e.eng.PlaceStopLimitOrder(e.msg(), stop)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, placedStop.Status)
	assert.True(t, placedStop.ReservedVolume.Equal(dec("57.5")))
	assert.True(t, e.eng.ReservedBalance("st", "USD").Equal(dec("57.5")))

	// consuming the best ask moves the book to 115 and trips the trigger
	bought := e.placeLimit(t, "buyer", "1", "100")
	assert.Equal(t, order.StatusMatched, bought.Status)

	stopBids, _ := e.eng.StopOrders("BTCUSD")
	assert.Empty(t, stopBids)
	_, ok := e.eng.Order(placedStop.ID)
	assert.False(t, ok)

	// the converted order bought 0.5 at 115
	assert.True(t, e.eng.Balance("st", "BTC").Equal(dec("0.5")))
	assert.True(t, e.eng.Balance("st", "USD").Equal(dec("942.5")))
	assert.True(t, e.eng.ReservedBalance("st", "USD").IsZero())

	_, asks := e.eng.OrderBook("BTCUSD")
	require.Len(t, asks, 1)
	assert.True(t, asks[0].RemainingVolume.Equal(dec("-0.5")))
}

func TestStopOrderTriggersImmediately(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("maker", "BTC", "1", "0")
	e.seed("st", "USD", "1000", "0")

	e.placeLimit(t, "maker", "-1", "100")

	// the best ask already reached the upper band
	stop := order.NewStopLimitOrder("", "", "BTCUSD", "st", dec("0.5"),
		decimal.Decimal{}, decimal.Decimal{}, dec("90"), dec("105"), e.clock.now, e.clock.now)
	placed, err := e.eng.PlaceStopLimitOrder(e.msg(), stop)
	require.NoError(t, err)

	assert.Equal(t, order.KindLimit, placed.Kind)
	assert.Equal(t, order.StatusMatched, placed.Status)
	assert.True(t, e.eng.Balance("st", "BTC").Equal(dec("0.5")))
	assert.True(t, e.eng.Balance("st", "USD").Equal(dec("950")), "filled at the maker price 100")
}

func TestExpireDue(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")

	o := order.NewLimitOrder("", "", "BTCUSD", "c1", dec("1"), dec("100"), e.clock.now, e.clock.now)
	o.ExpiresAt = e.clock.now.Add(time.Minute)
	placed, err := e.eng.PlaceLimitOrder(e.msg(), o)
	require.NoError(t, err)
	assert.Equal(t, order.StatusInOrderBook, placed.Status)

	n, err := e.eng.ExpireDue(e.msg())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "not due yet")

	e.clock.now = e.clock.now.Add(2 * time.Minute)
	n, err = e.eng.ExpireDue(e.msg())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	bids, _ := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
}

func TestCancelMinVolume(t *testing.T) {
	pair := defaultPair()
	pair.MinVolume = dec("0.01")
	e := newEnv(pair, Settings{})
	e.seed("maker", "USD", "1000", "0")
	e.seed("seller", "BTC", "1", "0")

	e.placeLimit(t, "maker", "0.5", "100")
	res := e.placeMarket(t, "seller", "-0.495", true)
	require.Equal(t, order.StatusMatched, res.Status)

	bids, _ := e.eng.OrderBook("BTCUSD")
	require.Len(t, bids, 1)
	require.True(t, bids[0].RemainingVolume.Equal(dec("0.005")))

	n, err := e.eng.CancelMinVolume(e.msg())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bids, _ = e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.True(t, e.eng.ReservedBalance("maker", "USD").IsZero())
}

func TestWipe(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})
	e.seed("c1", "USD", "1000", "0")
	e.seed("c2", "BTC", "1", "0")

	e.placeLimit(t, "c1", "1", "90")
	e.placeLimit(t, "c2", "-1", "110")

	n, err := e.eng.Wipe(e.msg())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bids, asks := e.eng.OrderBook("BTCUSD")
	assert.Empty(t, bids)
	assert.Empty(t, asks)
	assert.True(t, e.eng.ReservedBalance("c1", "USD").IsZero())
	assert.True(t, e.eng.ReservedBalance("c2", "BTC").IsZero())
}

func TestTrustedClientReservesNothing(t *testing.T) {
	e := newEnv(defaultPair(), Settings{TrustedClients: map[string]struct{}{"lp": {}}})
	e.seed("lp", "USD", "1000", "0")

	placed := e.placeLimit(t, "lp", "1", "100")
	assert.Equal(t, order.StatusInOrderBook, placed.Status)
	assert.True(t, placed.ReservedVolume.IsZero())
	assert.True(t, e.eng.ReservedBalance("lp", "USD").IsZero())

	// the placement is reported on the trusted stream only
	var exec outgoing.ExecutionEvent
	for _, ev := range e.queue.All() {
		if ee, ok := ev.(outgoing.ExecutionEvent); ok {
			exec = ee
		}
	}
	assert.Empty(t, exec.Reports)
	require.Len(t, exec.TrustedReports, 1)
	assert.Equal(t, placed.ID, exec.TrustedReports[0].Order.ID)
}

func TestMarketOrderPriceDeviationGuard(t *testing.T) {
	e := newEnv(defaultPair(), Settings{PriceDeviationThreshold: dec("0.1")})
	e.seed("m1", "BTC", "1", "0")
	e.seed("m2", "BTC", "1", "0")
	e.seed("taker", "USD", "1000", "0")

	e.placeLimit(t, "m1", "-1", "100")
	e.placeLimit(t, "m2", "-1", "200")

	res := e.placeMarket(t, "taker", "2", true)
	assert.Equal(t, order.StatusTooHighPriceDeviation, res.Status)
	assert.True(t, e.eng.Balance("taker", "USD").Equal(dec("1000")))
	_, asks := e.eng.OrderBook("BTCUSD")
	assert.Len(t, asks, 2)
}

func TestRestoreRebuildsState(t *testing.T) {
	e := newEnv(defaultPair(), Settings{})

	resting := *order.NewLimitOrder("o1", "o1", "BTCUSD", "c1", dec("1"), dec("100"), baseTime, baseTime)
	resting.Status = order.StatusInOrderBook
	resting.ReservedVolume = dec("100")
	pending := *order.NewStopLimitOrder("s1", "s1", "BTCUSD", "c1", dec("0.5"),
		decimal.Decimal{}, decimal.Decimal{}, dec("110"), dec("115"), baseTime, baseTime)
	pending.Status = order.StatusPending
	done := *order.NewLimitOrder("o2", "o2", "BTCUSD", "c1", dec("1"), dec("100"), baseTime, baseTime)
	done.Status = order.StatusMatched

	e.eng.Restore([]order.Order{resting, pending, done}, []wallet.AssetBalance{
		{ClientID: "c1", AssetID: "USD", Balance: dec("1000"), Reserved: dec("100")},
	})

	bids, _ := e.eng.OrderBook("BTCUSD")
	require.Len(t, bids, 1)
	assert.Equal(t, "o1", bids[0].ID)
	stopBids, _ := e.eng.StopOrders("BTCUSD")
	require.Len(t, stopBids, 1)
	assert.Equal(t, "s1", stopBids[0].ID)
	_, ok := e.eng.Order("o2")
	assert.False(t, ok, "terminal orders are not restored")
	assert.True(t, e.eng.Balance("c1", "USD").Equal(dec("1000")))

	_, hasMid := e.eng.MidPrice("BTCUSD")
	assert.False(t, hasMid, "one-sided book has no mid price")
}
