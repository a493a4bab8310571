package wallet

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/engine/numutil"
)

// OperationsProcessor stages wallet operations in a transaction-local
// overlay. A batch is validated as a whole and either merged completely or
// rejected completely; Apply publishes the overlay to the live ledger in one
// step. One processor serves exactly one transaction.
type OperationsProcessor struct {
	ledger  *Ledger
	assets  *asset.Snapshot
	trusted map[string]struct{}
	log     *zap.SugaredLogger

	changed map[string]AssetBalance
	updates map[string]*BalanceUpdate
	applied bool
}

func NewOperationsProcessor(ledger *Ledger, assets *asset.Snapshot, trusted map[string]struct{}, log *zap.SugaredLogger) *OperationsProcessor {
	return &OperationsProcessor{
		ledger:  ledger,
		assets:  assets,
		trusted: trusted,
		log:     log,
		changed: make(map[string]AssetBalance),
		updates: make(map[string]*BalanceUpdate),
	}
}

func balanceKey(clientID, assetID string) string { return clientID + "\x1f" + assetID }

func (p *OperationsProcessor) isTrusted(clientID string) bool {
	_, ok := p.trusted[clientID]
	return ok
}

// current returns the overlay value if the pair was already touched in this
// transaction, otherwise the live ledger value.
func (p *OperationsProcessor) current(clientID, assetID string) AssetBalance {
	if b, ok := p.changed[balanceKey(clientID, assetID)]; ok {
		return b
	}
	return p.ledger.AssetBalance(clientID, assetID)
}

// PreProcess stages a batch of operations. Deltas for the same (client,
// asset) are summed and each affected value is rounded exactly once at the
// asset accuracy. If any resulting balance violates the invariants the whole
// batch is rejected with a *BalanceError, unless allowInvalid is set, in
// which case the violation is logged and the batch is staged anyway.
func (p *OperationsProcessor) PreProcess(operations []Operation, allowInvalid bool) error {
	if len(operations) == 0 {
		return nil
	}

	type change struct {
		old AssetBalance
		cur AssetBalance
	}
	staged := make(map[string]*change)
	var keys []string

	for _, op := range operations {
		// Trusted clients carry no reservations; an operation that only
		// moves reserved volume is a no-op for them.
		if p.isTrusted(op.ClientID) && op.Amount.IsZero() {
			continue
		}
		a, ok := p.assets.Asset(op.AssetID)
		if !ok {
			return fmt.Errorf("wallet operation for unknown asset %q", op.AssetID)
		}
		key := balanceKey(op.ClientID, op.AssetID)
		c, ok := staged[key]
		if !ok {
			base := p.current(op.ClientID, op.AssetID)
			c = &change{old: base, cur: base}
			staged[key] = c
			keys = append(keys, key)
		}
		c.cur.Balance = numutil.ScaleHalfUp(c.cur.Balance.Add(op.Amount), a.Accuracy)
		if !p.isTrusted(op.ClientID) {
			c.cur.Reserved = numutil.ScaleHalfUp(c.cur.Reserved.Add(op.ReservedAmount), a.Accuracy)
		}
	}

	sort.Strings(keys)
	for _, key := range keys {
		c := staged[key]
		if err := validateBalanceChange(c.cur.ClientID, c.cur.AssetID, c.old.Balance, c.old.Reserved, c.cur.Balance, c.cur.Reserved); err != nil {
			if !allowInvalid {
				return err
			}
			p.log.Errorw("force applying invalid balance", "err", err)
		}
	}

	for _, key := range keys {
		c := staged[key]
		if c.old.Balance.Equal(c.cur.Balance) && c.old.Reserved.Equal(c.cur.Reserved) {
			continue
		}
		p.changed[key] = c.cur
		u, ok := p.updates[key]
		if !ok {
			u = &BalanceUpdate{
				ClientID:    c.cur.ClientID,
				AssetID:     c.cur.AssetID,
				OldBalance:  c.old.Balance,
				OldReserved: c.old.Reserved,
			}
			p.updates[key] = u
		}
		u.NewBalance = c.cur.Balance
		u.NewReserved = c.cur.Reserved
		if u.OldBalance.Equal(u.NewBalance) && u.OldReserved.Equal(u.NewReserved) {
			// A later batch undid an earlier one; nothing to notify.
			delete(p.updates, key)
		}
	}
	return nil
}

// Apply publishes the overlay to the live ledger and returns the balance
// updates for notification, sorted by (client, asset).
func (p *OperationsProcessor) Apply() []BalanceUpdate {
	p.ledger.setAll(p.PersistenceBalances())
	p.applied = true

	out := make([]BalanceUpdate, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// PersistenceBalances returns the staged balances in deterministic order.
func (p *OperationsProcessor) PersistenceBalances() []AssetBalance {
	out := make([]AssetBalance, 0, len(p.changed))
	for _, b := range p.changed {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// Balance getters read the overlay first so that a matching pass observes
// its own staged effects.

func (p *OperationsProcessor) Balance(clientID, assetID string) decimal.Decimal {
	return p.current(clientID, assetID).Balance
}

func (p *OperationsProcessor) ReservedBalance(clientID, assetID string) decimal.Decimal {
	return p.current(clientID, assetID).Reserved
}

// AvailableBalance is what a client may fund new orders with.
func (p *OperationsProcessor) AvailableBalance(clientID, assetID string) decimal.Decimal {
	b := p.current(clientID, assetID)
	if b.Reserved.Sign() > 0 {
		return b.Balance.Sub(b.Reserved)
	}
	return b.Balance
}

// AvailableReservedBalance is what a resting order may settle from: the
// reservation when it is sane, otherwise the whole balance.
func (p *OperationsProcessor) AvailableReservedBalance(clientID, assetID string) decimal.Decimal {
	b := p.current(clientID, assetID)
	if b.Reserved.Sign() > 0 && b.Reserved.Cmp(b.Balance) < 0 {
		return b.Reserved
	}
	return b.Balance
}
