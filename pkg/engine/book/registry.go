package book

import (
	"sort"
	"sync"
	"time"

	"github.com/avetra/matchcore/pkg/engine/order"
)

// Registry is the live, concurrently-readable order book state for one book
// flavor (regular or stop). Writers are expected to be serialized by the
// caller: mutation happens only at transaction commit, through SetBook /
// AddOrders / RemoveOrders.
type Registry[B any] struct {
	mu      sync.RWMutex
	newBook func(string) B
	books   map[string]B
	orders  map[string]*order.Order
}

func NewRegistry() *Registry[*AssetOrderBook] {
	return &Registry[*AssetOrderBook]{
		newBook: New,
		books:   make(map[string]*AssetOrderBook),
		orders:  make(map[string]*order.Order),
	}
}

func NewStopRegistry() *Registry[*StopOrderBook] {
	return &Registry[*StopOrderBook]{
		newBook: NewStop,
		books:   make(map[string]*StopOrderBook),
		orders:  make(map[string]*order.Order),
	}
}

// Book returns the live book for the pair, or a fresh empty one when the
// pair has no book yet. The empty book is not retained; it appears in the
// registry only if a transaction commits it via SetBook.
func (r *Registry[B]) Book(assetPairID string) B {
	r.mu.RLock()
	b, ok := r.books[assetPairID]
	r.mu.RUnlock()
	if ok {
		return b
	}
	return r.newBook(assetPairID)
}

// SetBook swaps a book in as the live one for its asset pair. Concurrent
// readers keep whatever instance they already resolved; they never observe a
// half-updated book.
func (r *Registry[B]) SetBook(assetPairID string, b B) {
	r.mu.Lock()
	r.books[assetPairID] = b
	r.mu.Unlock()
}

func (r *Registry[B]) Order(id string) (*order.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	return o, ok
}

func (r *Registry[B]) AddOrders(orders []*order.Order) {
	r.mu.Lock()
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	r.mu.Unlock()
}

// RemoveOrders drops orders from the index, stamping the terminal status on
// each. Unknown orders are ignored.
func (r *Registry[B]) RemoveOrders(orders []*order.Order, status order.Status, date time.Time) {
	r.mu.Lock()
	for _, o := range orders {
		o.SetStatus(status, date)
		delete(r.orders, o.ID)
	}
	r.mu.Unlock()
}

// SearchOrders returns resting orders for a client, optionally narrowed to
// one asset pair, in deterministic (registered, id) order.
func (r *Registry[B]) SearchOrders(clientID, assetPairID string) []*order.Order {
	r.mu.RLock()
	var out []*order.Order
	for _, o := range r.orders {
		if clientID != "" && o.ClientID != clientID {
			continue
		}
		if assetPairID != "" && o.AssetPairID != assetPairID {
			continue
		}
		out = append(out, o)
	}
	r.mu.RUnlock()
	sortOrders(out)
	return out
}

// AllOrders returns every resting order in deterministic order.
func (r *Registry[B]) AllOrders() []*order.Order {
	return r.SearchOrders("", "")
}

// PairIDs lists asset pairs with a live book, sorted.
func (r *Registry[B]) PairIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.books))
	for id := range r.books {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func sortOrders(orders []*order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Registered.Equal(b.Registered) {
			return a.Registered.Before(b.Registered)
		}
		return a.ID < b.ID
	})
}
