// Package tx implements the transaction scope of the engine: copy-on-write
// holders over the live books, an execution context shared by matching and
// cancellation, and the data handed to persistence before anything shared is
// mutated.
package tx

import (
	"time"

	"github.com/avetra/matchcore/pkg/engine/book"
	"github.com/avetra/matchcore/pkg/engine/order"
)

// SideKey identifies one side of one asset pair's book.
type SideKey struct {
	AssetPairID string
	IsBuy       bool
}

type holderBook interface {
	Add(*order.Order)
	Remove(buy bool, id string) *order.Order
}

// Holder owns the transaction's private copies of order books. All reads and
// writes during a transaction go through the copies; Apply folds them into
// the live registry in one step. Dropping a holder without Apply discards
// the transaction with no cleanup.
type Holder[B interface {
	holderBook
	Copy() B
}] struct {
	registry *book.Registry[B]

	copies       map[string]B
	changedSides map[SideKey]struct{}

	newOrders []*order.Order
	statuses  []order.Status // removal batches in arrival order
	removed   map[order.Status][]*order.Order

	wrappers map[*order.Order]*order.CopyWrapper[order.Order]
}

func NewHolder[B interface {
	holderBook
	Copy() B
}](registry *book.Registry[B]) *Holder[B] {
	return &Holder[B]{
		registry:     registry,
		copies:       make(map[string]B),
		changedSides: make(map[SideKey]struct{}),
		removed:      make(map[order.Status][]*order.Order),
		wrappers:     make(map[*order.Order]*order.CopyWrapper[order.Order]),
	}
}

func (h *Holder[B]) Registry() *book.Registry[B] { return h.registry }

// Book returns the transaction's private copy of the pair's book, creating
// it from the live book on first use.
func (h *Holder[B]) Book(assetPairID string) B {
	if b, ok := h.copies[assetPairID]; ok {
		return b
	}
	b := h.registry.Book(assetPairID).Copy()
	h.copies[assetPairID] = b
	return b
}

// Touch marks one side as changed so Apply installs the copy and a snapshot
// event is emitted. Mutation through AddOrder / RemoveOrders marks sides
// itself; Touch is for callers that rewrite a side in place.
func (h *Holder[B]) Touch(assetPairID string, buy bool) {
	h.changedSides[SideKey{AssetPairID: assetPairID, IsBuy: buy}] = struct{}{}
}

// AddOrder places a new resting order into the transaction copy.
func (h *Holder[B]) AddOrder(o *order.Order) {
	h.Book(o.AssetPairID).Add(o)
	h.Touch(o.AssetPairID, o.IsBuy())
	h.newOrders = append(h.newOrders, o)
}

// RemoveOrders takes resting orders out of the transaction copies; the
// status is stamped on the live orders at Apply. Orders already dropped from
// the copy's side (the matching walk rewrites sides wholesale) are still
// recorded for removal.
func (h *Holder[B]) RemoveOrders(status order.Status, orders []*order.Order) {
	if len(orders) == 0 {
		return
	}
	for _, o := range orders {
		h.Book(o.AssetPairID).Remove(o.IsBuy(), o.ID)
		h.Touch(o.AssetPairID, o.IsBuy())
	}
	if _, ok := h.removed[status]; !ok {
		h.statuses = append(h.statuses, status)
	}
	h.removed[status] = append(h.removed[status], orders...)
}

// GetOrPutWrapper returns the transaction's working copy of a shared order.
// Subsequent calls for the same origin return the same wrapper, so edits
// accumulate in one place.
func (h *Holder[B]) GetOrPutWrapper(origin *order.Order) *order.CopyWrapper[order.Order] {
	if w, ok := h.wrappers[origin]; ok {
		return w
	}
	w := order.NewCopyWrapper(origin)
	h.wrappers[origin] = w
	return w
}

// ChangedSides lists the sides this transaction touched.
func (h *Holder[B]) ChangedSides() []SideKey {
	out := make([]SideKey, 0, len(h.changedSides))
	for k := range h.changedSides {
		out = append(out, k)
	}
	return out
}

// Apply folds the transaction into the live registry: order edits first,
// then book swaps, then index updates. The caller holds the engine write
// lock, so no reader observes an intermediate step.
func (h *Holder[B]) Apply(date time.Time) {
	for _, w := range h.wrappers {
		w.ApplyToOrigin()
	}
	for k := range h.changedSides {
		if b, ok := h.copies[k.AssetPairID]; ok {
			h.registry.SetBook(k.AssetPairID, b)
		}
	}
	h.registry.AddOrders(h.newOrders)
	for _, status := range h.statuses {
		h.registry.RemoveOrders(h.removed[status], status, date)
	}
}

// appendPersistence adds this holder's order changes to the transaction
// data: working-copy states of edited orders, new resting orders, and the
// ids of removed ones.
func (h *Holder[B]) appendPersistence(data *TransactionData) {
	removedIDs := make(map[string]struct{})
	for _, status := range h.statuses {
		for _, o := range h.removed[status] {
			if _, ok := removedIDs[o.ID]; ok {
				continue
			}
			removedIDs[o.ID] = struct{}{}
			data.OrderIDsToRemove = append(data.OrderIDsToRemove, o.ID)
		}
	}
	for _, w := range h.wrappers {
		if _, ok := removedIDs[w.Copy.ID]; ok {
			continue
		}
		data.OrdersToSave = append(data.OrdersToSave, *w.Copy)
	}
	for _, o := range h.newOrders {
		data.OrdersToSave = append(data.OrdersToSave, *o)
	}
}
