// Package outgoing carries committed engine results to downstream consumers.
// Events are emitted only after a transaction has been persisted and applied,
// so consumers never observe a state that was later rolled back.
package outgoing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

type EventKind string

const (
	KindExecution     EventKind = "execution"
	KindBalanceUpdate EventKind = "balance_update"
	KindBookSnapshot  EventKind = "book_snapshot"
)

type Event interface {
	EventKind() EventKind
}

// Trade is one fill between a taker and a resting maker. Index orders the
// fills of one taker order.
type Trade struct {
	ID            string
	Index         int
	Timestamp     time.Time
	AssetPairID   string
	Price         decimal.Decimal
	BaseAssetID   string
	BaseVolume    decimal.Decimal
	QuoteAssetID  string
	QuoteVolume   decimal.Decimal
	TakerOrderID  string
	TakerClientID string
	MakerOrderID  string
	MakerClientID string
}

// OrderReport is the post-commit state of one touched order plus the trades
// it took part in during this transaction.
type OrderReport struct {
	Order  order.Order
	Trades []Trade
}

// ExecutionEvent reports every order touched by one committed transaction.
// TrustedReports duplicates the subset owned by trusted clients for internal
// consumers that track them separately.
type ExecutionEvent struct {
	MessageID      string
	Timestamp      time.Time
	Reports        []OrderReport
	TrustedReports []OrderReport
}

func (ExecutionEvent) EventKind() EventKind { return KindExecution }

// BalanceUpdateEvent reports the committed balance changes of one
// transaction.
type BalanceUpdateEvent struct {
	MessageID string
	Timestamp time.Time
	Updates   []wallet.BalanceUpdate
}

func (BalanceUpdateEvent) EventKind() EventKind { return KindBalanceUpdate }

// BookSnapshotEvent carries one changed side of an order book, best price
// first.
type BookSnapshotEvent struct {
	AssetPairID string
	IsBuy       bool
	Timestamp   time.Time
	Orders      []order.Order
}

func (BookSnapshotEvent) EventKind() EventKind { return KindBookSnapshot }
