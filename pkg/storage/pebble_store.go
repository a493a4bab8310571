// Package storage persists engine state to Pebble. One transaction becomes
// one atomic batch: either the whole outcome of a message is on disk or none
// of it is.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/avetra/matchcore/pkg/engine/order"
	"github.com/avetra/matchcore/pkg/engine/tx"
	"github.com/avetra/matchcore/pkg/engine/wallet"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Persist writes one transaction as a single synced batch.
func (s *PebbleStore) Persist(data tx.TransactionData) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for i := range data.OrdersToSave {
		o := &data.OrdersToSave[i]
		val, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order %s: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(o.ID), val, nil); err != nil {
			return fmt.Errorf("batch order %s: %w", o.ID, err)
		}
	}
	for _, id := range data.OrderIDsToRemove {
		if err := batch.Delete(orderKey(id), nil); err != nil {
			return fmt.Errorf("batch delete order %s: %w", id, err)
		}
	}
	for i := range data.Balances {
		b := &data.Balances[i]
		val, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal balance %s/%s: %w", b.ClientID, b.AssetID, err)
		}
		if err := batch.Set(balanceKey(b.ClientID, b.AssetID), val, nil); err != nil {
			return fmt.Errorf("batch balance %s/%s: %w", b.ClientID, b.AssetID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit transaction %s: %w", data.MessageID, err)
	}
	return nil
}

// LoadOrders returns every persisted resting order, for startup recovery.
func (s *PebbleStore) LoadOrders() ([]order.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, o)
	}
	return orders, iter.Error()
}

// LoadBalances returns every persisted balance, for startup recovery.
func (s *PebbleStore) LoadBalances() ([]wallet.AssetBalance, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var balances []wallet.AssetBalance
	for iter.First(); iter.Valid(); iter.Next() {
		var b wallet.AssetBalance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("unmarshal balance at %q: %w", iter.Key(), err)
		}
		balances = append(balances, b)
	}
	return balances, iter.Error()
}
