package matching

import (
	"github.com/shopspring/decimal"

	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/wallet"
	"github.com/avetra/matchcore/pkg/outgoing"
)

// Result is everything one matching pass produced. A rejection result is
// already applied: the taker working copy carries the rejection status and
// all maker edits are discarded. A success result is applied by the caller
// once it decided to go through with the trade.
type Result struct {
	takerWrapper *order.CopyWrapper[order.Order]
	matched      []*order.CopyWrapper[order.Order]

	// Order is the taker's working copy. Reading it before Apply shows the
	// would-be state; the origin is untouched until Apply.
	Order *order.Order

	// CancelledMakers are resting orders to cancel regardless of the taker's
	// fate: expired on the walk or unable to fund their own trade.
	CancelledMakers []*order.Order
	// SkippedMakers were polled but neither matched nor cancelled; the
	// caller puts them back into the book.
	SkippedMakers []*order.Order
	// CompletedMakers are the fully matched makers' transaction wrappers;
	// their origins leave the book.
	CompletedMakers []*order.CopyWrapper[order.Order]
	// Uncompleted is the transaction wrapper of the final, partially matched
	// maker; its origin stays in the book. UncompletedState is its post-fill
	// working state.
	Uncompleted      *order.CopyWrapper[order.Order]
	UncompletedState *order.Order

	Trades       []outgoing.Trade
	MakerReports []outgoing.OrderReport

	// OwnOps move the taker's funds, OppositeOps the makers'.
	OwnOps      []wallet.Operation
	OppositeOps []wallet.Operation

	// RemainingBook is the unwalked tail of the opposite side, best first.
	RemainingBook []*order.Order

	MarketBalance              decimal.Decimal
	MatchedWithZeroLatestTrade bool
}

// Apply folds the taker state and every matched maker edit into the
// transaction's order copies. Rejection results have nothing to fold beyond
// the taker status and are applied on construction.
func (r *Result) Apply() {
	r.takerWrapper.ApplyToOrigin()
	for _, w := range r.matched {
		w.ApplyToOrigin()
	}
}
