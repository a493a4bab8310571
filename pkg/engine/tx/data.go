package tx

import (
	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

// TransactionData is everything a transaction changed, in the shape the
// persistence layer stores. It is handed to the store before any shared
// state is mutated; if the store rejects it the transaction is abandoned.
type TransactionData struct {
	MessageID        string
	OrdersToSave     []order.Order
	OrderIDsToRemove []string
	Balances         []wallet.AssetBalance
}

// Empty reports whether the transaction changed nothing worth persisting.
func (d *TransactionData) Empty() bool {
	return len(d.OrdersToSave) == 0 && len(d.OrderIDsToRemove) == 0 && len(d.Balances) == 0
}
