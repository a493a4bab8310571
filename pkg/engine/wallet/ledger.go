package wallet

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is the live balances map. Reads are concurrent; writes happen only
// when a transaction overlay is published at commit.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[string]AssetBalance // clientID -> assetID
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[string]AssetBalance)}
}

// AssetBalance returns the current pair for (client, asset); zero values for
// unknown clients or assets.
func (l *Ledger) AssetBalance(clientID, assetID string) AssetBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if byAsset, ok := l.balances[clientID]; ok {
		if b, ok := byAsset[assetID]; ok {
			return b
		}
	}
	return AssetBalance{ClientID: clientID, AssetID: assetID}
}

func (l *Ledger) Balance(clientID, assetID string) decimal.Decimal {
	return l.AssetBalance(clientID, assetID).Balance
}

func (l *Ledger) Reserved(clientID, assetID string) decimal.Decimal {
	return l.AssetBalance(clientID, assetID).Reserved
}

func (l *Ledger) Available(clientID, assetID string) decimal.Decimal {
	return l.AssetBalance(clientID, assetID).Available()
}

// Set installs a balance pair directly. Used for bootstrap (recovery, cash
// seeding in tests); transactional changes go through OperationsProcessor.
func (l *Ledger) Set(b AssetBalance) {
	l.mu.Lock()
	l.set(b)
	l.mu.Unlock()
}

func (l *Ledger) set(b AssetBalance) {
	byAsset, ok := l.balances[b.ClientID]
	if !ok {
		byAsset = make(map[string]AssetBalance)
		l.balances[b.ClientID] = byAsset
	}
	byAsset[b.AssetID] = b
}

// setAll publishes a committed overlay.
func (l *Ledger) setAll(list []AssetBalance) {
	l.mu.Lock()
	for _, b := range list {
		l.set(b)
	}
	l.mu.Unlock()
}

// ClientBalances returns all balances of one client, sorted by asset id.
func (l *Ledger) ClientBalances(clientID string) []AssetBalance {
	l.mu.RLock()
	byAsset := l.balances[clientID]
	out := make([]AssetBalance, 0, len(byAsset))
	for _, b := range byAsset {
		out = append(out, b)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
